package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

// ErrNotFound is wrapped by lookups and updates that match no row.
var ErrNotFound = eris.New("not found")

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	Status     string `json:"status,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// Pending selects submissions whose status may still change.
const Pending = "pending"

// Store persists the submission history and the CLI session.
type Store interface {
	// Submissions
	RecordSubmission(ctx context.Context, sub model.Submission) (*model.Submission, error)
	UpdateStatus(ctx context.Context, requestID string, status farmdata.StatusRecord) error
	SaveResult(ctx context.Context, requestID string, payload json.RawMessage, resultErr string) error
	GetSubmission(ctx context.Context, requestID string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)

	// Session, keyed per user so a shared store never hands one user's
	// request to another.
	SaveSession(ctx context.Context, name string, session model.Session) error
	LoadSession(ctx context.Context, name string) (*model.Session, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// terminalStatuses are excluded by the Pending filter.
var terminalStatuses = []string{farmdata.StatusCompleted, farmdata.StatusError, farmdata.StatusHold}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func notFound(requestID string) error {
	return eris.Wrapf(ErrNotFound, "submission %s", requestID)
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return []byte(payload)
}
