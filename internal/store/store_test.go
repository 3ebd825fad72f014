package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testSubmission(requestID, customerID string) model.Submission {
	return model.Submission{
		RequestID:  requestID,
		CustomerID: customerID,
		GLS:        "G1",
		Criteria:   farmdata.Criteria{Geo: farmdata.Geo{State: farmdata.Ptr("IL")}},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("RecordAndGetSubmission", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sub, err := s.RecordSubmission(ctx, testSubmission("abc", "C1"))
		require.NoError(t, err)
		assert.NotEmpty(t, sub.ID)
		assert.Equal(t, model.StatusSubmitted, sub.Status)
		assert.False(t, sub.CreatedAt.IsZero())

		got, err := s.GetSubmission(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Equal(t, "C1", got.CustomerID)
		assert.Equal(t, "G1", got.GLS)
		assert.Equal(t, model.StatusSubmitted, got.Status)
		require.NotNil(t, got.Criteria.Geo.State)
		assert.Equal(t, "IL", *got.Criteria.Geo.State)
		assert.Nil(t, got.Result)
	})

	t.Run("DuplicateRequestID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordSubmission(ctx, testSubmission("dup", "C1"))
		require.NoError(t, err)
		_, err = s.RecordSubmission(ctx, testSubmission("dup", "C1"))
		assert.Error(t, err)
	})

	t.Run("GetSubmissionNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetSubmission(context.Background(), "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordSubmission(ctx, testSubmission("abc", "C1"))
		require.NoError(t, err)

		err = s.UpdateStatus(ctx, "abc", farmdata.StatusRecord{
			Status:      farmdata.StatusCompleted,
			Message:     "done",
			CanDownload: true,
		})
		require.NoError(t, err)

		got, err := s.GetSubmission(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, farmdata.StatusCompleted, got.Status)
		assert.Equal(t, "done", got.Message)
		assert.True(t, got.CanDownload)
		assert.True(t, got.Terminal())
	})

	t.Run("UpdateStatusNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateStatus(context.Background(), "nonexistent", farmdata.StatusRecord{Status: "processing"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SaveResult", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordSubmission(ctx, testSubmission("abc", "C1"))
		require.NoError(t, err)

		require.NoError(t, s.SaveResult(ctx, "abc", json.RawMessage(`[{"farm_id":1}]`), ""))
		got, err := s.GetSubmission(ctx, "abc")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"farm_id":1}]`, string(got.Result))
		assert.Empty(t, got.ResultError)

		require.NoError(t, s.SaveResult(ctx, "abc", nil, "no data for criteria"))
		got, err = s.GetSubmission(ctx, "abc")
		require.NoError(t, err)
		assert.Nil(t, got.Result)
		assert.Equal(t, "no data for criteria", got.ResultError)
	})

	t.Run("SaveResultNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.SaveResult(context.Background(), "nonexistent", json.RawMessage(`{}`), "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListSubmissions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordSubmission(ctx, testSubmission("r1", "C1"))
		require.NoError(t, err)
		_, err = s.RecordSubmission(ctx, testSubmission("r2", "C2"))
		require.NoError(t, err)
		_, err = s.RecordSubmission(ctx, testSubmission("r3", "C1"))
		require.NoError(t, err)
		require.NoError(t, s.UpdateStatus(ctx, "r2", farmdata.StatusRecord{Status: farmdata.StatusCompleted}))
		require.NoError(t, s.UpdateStatus(ctx, "r3", farmdata.StatusRecord{Status: "processing"}))

		// List all
		all, err := s.ListSubmissions(ctx, SubmissionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, "r3", all[0].RequestID)

		// Filter by status
		completed, err := s.ListSubmissions(ctx, SubmissionFilter{Status: farmdata.StatusCompleted})
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, "r2", completed[0].RequestID)

		pending, err := s.ListSubmissions(ctx, SubmissionFilter{Status: Pending})
		require.NoError(t, err)
		assert.Len(t, pending, 2)
		for _, p := range pending {
			assert.False(t, p.Terminal())
		}

		// Filter by customer
		c1, err := s.ListSubmissions(ctx, SubmissionFilter{CustomerID: "C1"})
		require.NoError(t, err)
		assert.Len(t, c1, 2)

		// Limit and offset
		limited, err := s.ListSubmissions(ctx, SubmissionFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		offset, err := s.ListSubmissions(ctx, SubmissionFilter{Limit: 10, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, offset, 1)
	})

	t.Run("SessionRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const name = "/home/grower/.config/farmdata/credentials.json"

		got, err := s.LoadSession(ctx, name)
		require.NoError(t, err)
		assert.Nil(t, got)

		in := model.Session{
			RequestID: "abc",
			Status:    &farmdata.StatusRecord{Status: "processing", Message: "queued"},
			Result:    json.RawMessage(`{"farms":[]}`),
		}
		require.NoError(t, s.SaveSession(ctx, name, in))

		got, err = s.LoadSession(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "abc", got.RequestID)
		require.NotNil(t, got.Status)
		assert.Equal(t, "processing", got.Status.Status)
		assert.JSONEq(t, `{"farms":[]}`, string(got.Result))
		assert.False(t, got.UpdatedAt.IsZero())

		// Saving again replaces the row for that name.
		require.NoError(t, s.SaveSession(ctx, name, model.Session{}))
		got, err = s.LoadSession(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Empty(t, got.RequestID)
		assert.Nil(t, got.Status)
	})

	t.Run("SessionPerUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveSession(ctx, "/home/a/credentials.json", model.Session{RequestID: "req-of-user-A"}))
		require.NoError(t, s.SaveSession(ctx, "/home/b/credentials.json", model.Session{RequestID: "req-of-user-B"}))

		a, err := s.LoadSession(ctx, "/home/a/credentials.json")
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, "req-of-user-A", a.RequestID)

		b, err := s.LoadSession(ctx, "/home/b/credentials.json")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, "req-of-user-B", b.RequestID)

		none, err := s.LoadSession(ctx, "/home/c/credentials.json")
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
