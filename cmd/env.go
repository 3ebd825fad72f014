package main

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/farmdata-cli/internal/credential"
	"github.com/sells-group/farmdata-cli/internal/lifecycle"
	"github.com/sells-group/farmdata-cli/internal/store"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

func initClient() farmdata.Client {
	return farmdata.NewClient(
		farmdata.WithBaseURL(cfg.API.BaseURL),
		farmdata.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout()}),
		farmdata.WithRateLimit(cfg.API.RequestsPerSecond, cfg.API.Burst),
	)
}

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func initCredentials() (*credential.FileStore, error) {
	return credential.NewFileStore(cfg.Auth.CredentialsPath)
}

// sessionKey names the saved session after the absolute credentials path,
// so users sharing one store each resume only their own request.
func sessionKey(creds *credential.FileStore) (string, error) {
	key, err := filepath.Abs(creds.Path())
	if err != nil {
		return "", eris.Wrap(err, "resolve credentials path")
	}
	return key, nil
}

// session wires a controller to the persisted token and the saved session,
// so consecutive commands continue the same request lifecycle.
type session struct {
	api   farmdata.Client
	store store.Store
	ctrl  *lifecycle.Controller
	key   string
}

func openSession(ctx context.Context) (*session, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	creds, err := initCredentials()
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	key, err := sessionKey(creds)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	api := initClient()
	ctrl := lifecycle.New(api, creds)
	if err := ctrl.Resume(); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	saved, err := st.LoadSession(ctx, key)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	if saved != nil {
		ctrl.RestoreSession(*saved)
	}

	return &session{api: api, store: st, ctrl: ctrl, key: key}, nil
}

// close persists the controller's request-scoped state and releases the store.
func (s *session) close(ctx context.Context) {
	if err := s.store.SaveSession(ctx, s.key, s.ctrl.Session()); err != nil {
		zap.L().Warn("save session", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// recordStatus mirrors a status into the history ledger. History is
// best-effort: a request submitted elsewhere simply has no row.
func (s *session) recordStatus(ctx context.Context, requestID string, status *farmdata.StatusRecord) {
	if status == nil {
		return
	}
	if err := s.store.UpdateStatus(ctx, requestID, *status); err != nil {
		zap.L().Debug("history: update status", zap.String("request_id", requestID), zap.Error(err))
	}
}

func (s *session) pollOptions() []farmdata.PollOption {
	return []farmdata.PollOption{
		farmdata.WithPollInterval(cfg.Poll.Interval()),
		farmdata.WithPollCap(cfg.Poll.Cap()),
		farmdata.WithPollTimeout(cfg.Poll.Timeout()),
		farmdata.WithMaxAttempts(cfg.Poll.MaxAttempts),
		farmdata.WithStatusRetries(cfg.Poll.StatusRetries),
	}
}
