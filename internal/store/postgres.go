package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/farmdata-cli/internal/db"
	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request_id   TEXT NOT NULL UNIQUE,
	customer_id  TEXT NOT NULL,
	gls          TEXT NOT NULL,
	criteria     JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'submitted',
	message      TEXT NOT NULL DEFAULT '',
	can_download BOOLEAN NOT NULL DEFAULT false,
	result       JSONB,
	result_error TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	name       TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_customer ON submissions(customer_id);
CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) RecordSubmission(ctx context.Context, sub model.Submission) (*model.Submission, error) {
	sub.ID = uuid.New().String()
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	if sub.Status == "" {
		sub.Status = model.StatusSubmitted
	}

	criteriaJSON, err := json.Marshal(sub.Criteria)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal criteria")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (id, request_id, customer_id, gls, criteria, status, message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.RequestID, sub.CustomerID, sub.GLS, criteriaJSON, sub.Status, sub.Message, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert submission %s", sub.RequestID)
	}
	return &sub, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, requestID string, status farmdata.StatusRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $1, message = $2, can_download = $3, updated_at = $4 WHERE request_id = $5`,
		status.Status, status.Message, status.CanDownload, time.Now().UTC(), requestID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", requestID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(requestID)
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, requestID string, payload json.RawMessage, resultErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET result = $1, result_error = $2, updated_at = $3 WHERE request_id = $4`,
		nullableJSON(payload), resultErr, time.Now().UTC(), requestID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save result %s", requestID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(requestID)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, requestID string) (*model.Submission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE request_id = $1`,
		requestID,
	)
	sub, err := scanPgSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(requestID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get submission %s", requestID)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE true`
	args := []any{}
	argIdx := 1

	switch filter.Status {
	case "":
	case Pending:
		query += fmt.Sprintf(` AND NOT (status = ANY($%d))`, argIdx)
		args = append(args, terminalStatuses)
		argIdx++
	default:
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.CustomerID != "" {
		query += fmt.Sprintf(` AND customer_id = $%d`, argIdx)
		args = append(args, filter.CustomerID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanPgSubmission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) SaveSession(ctx context.Context, name string, session model.Session) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (name, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET data = $2, updated_at = $3`,
		name, data, session.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save session")
}

// LoadSession returns the session saved under name, or nil when none was
// saved yet.
func (s *PostgresStore) LoadSession(ctx context.Context, name string) (*model.Session, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM sessions WHERE name = $1`, name,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: load session")
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session")
	}
	return &session, nil
}

func scanPgSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	var criteriaJSON []byte
	var resultNull *[]byte

	if err := row.Scan(&sub.ID, &sub.RequestID, &sub.CustomerID, &sub.GLS, &criteriaJSON,
		&sub.Status, &sub.Message, &sub.CanDownload, &resultNull, &sub.ResultError,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(criteriaJSON, &sub.Criteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal criteria")
	}
	if resultNull != nil {
		sub.Result = json.RawMessage(*resultNull)
	}
	return &sub, nil
}
