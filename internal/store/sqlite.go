package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL UNIQUE,
	customer_id  TEXT NOT NULL,
	gls          TEXT NOT NULL,
	criteria     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'submitted',
	message      TEXT NOT NULL DEFAULT '',
	can_download INTEGER NOT NULL DEFAULT 0,
	result       TEXT,
	result_error TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sessions (
	name       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_customer ON submissions(customer_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const submissionColumns = `id, request_id, customer_id, gls, criteria, status, message, can_download, result, result_error, created_at, updated_at`

func (s *SQLiteStore) RecordSubmission(ctx context.Context, sub model.Submission) (*model.Submission, error) {
	sub.ID = uuid.New().String()
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	if sub.Status == "" {
		sub.Status = model.StatusSubmitted
	}

	criteriaJSON, err := json.Marshal(sub.Criteria)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal criteria")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, request_id, customer_id, gls, criteria, status, message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.RequestID, sub.CustomerID, sub.GLS, string(criteriaJSON), sub.Status, sub.Message, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert submission %s", sub.RequestID)
	}
	return &sub, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, requestID string, status farmdata.StatusRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, message = ?, can_download = ?, updated_at = ? WHERE request_id = ?`,
		status.Status, status.Message, status.CanDownload, time.Now().UTC(), requestID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", requestID)
	}
	return checkRowsAffected(res, requestID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, requestID string, payload json.RawMessage, resultErr string) error {
	var result sql.NullString
	if len(payload) > 0 {
		result = sql.NullString{String: string(payload), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET result = ?, result_error = ?, updated_at = ? WHERE request_id = ?`,
		result, resultErr, time.Now().UTC(), requestID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save result %s", requestID)
	}
	return checkRowsAffected(res, requestID)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, requestID string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE request_id = ?`,
		requestID,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(requestID)
	}
	return sub, err
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`
	var args []any

	switch filter.Status {
	case "":
	case Pending:
		query += ` AND status NOT IN (?` + strings.Repeat(", ?", len(terminalStatuses)-1) + `)`
		for _, st := range terminalStatuses {
			args = append(args, st)
		}
	default:
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) SaveSession(ctx context.Context, name string, session model.Session) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (name, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, string(data), session.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save session")
}

// LoadSession returns the session saved under name, or nil when none was
// saved yet.
func (s *SQLiteStore) LoadSession(ctx context.Context, name string) (*model.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE name = ?`, name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load session")
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	return &session, nil
}

// helpers

func checkRowsAffected(res sql.Result, requestID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(requestID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanSubmission returns sql.ErrNoRows unwrapped so callers can map it.
func scanSubmission(row scannable) (*model.Submission, error) {
	var sub model.Submission
	var criteriaJSON string
	var result sql.NullString

	err := row.Scan(&sub.ID, &sub.RequestID, &sub.CustomerID, &sub.GLS, &criteriaJSON,
		&sub.Status, &sub.Message, &sub.CanDownload, &result, &sub.ResultError,
		&sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan submission")
	}

	if err := json.Unmarshal([]byte(criteriaJSON), &sub.Criteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
	}
	if result.Valid {
		sub.Result = json.RawMessage(result.String)
	}
	return &sub, nil
}
