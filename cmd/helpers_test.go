//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/farmdata-cli/internal/config"
	"github.com/sells-group/farmdata-cli/internal/store"
)

const (
	testUser     = "grower"
	testPassword = "pw"
	testToken    = "tok-1"
)

// fakeAPI is an in-process Farm Data server. Statuses are served in order
// and the last one repeats.
type fakeAPI struct {
	mu       sync.Mutex
	uploads  int
	statuses []string
	checks   map[string]int
	payload  string
	lastBody []byte
	lastGLS  string
}

func (f *fakeAPI) setStatuses(statuses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = statuses
}

func (f *fakeAPI) setPayload(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = payload
}

func (f *fakeAPI) checkCount(requestID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[requestID]
}

func (f *fakeAPI) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":"Could not validate credentials"}`) //nolint:errcheck
		return false
	}
	return true
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != testUser || r.FormValue("password") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Incorrect username or password"}`) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": testToken, "token_type": "bearer"}) //nolint:errcheck
	})
	mux.HandleFunc("POST /upload_criteria", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.uploads++
		id := fmt.Sprintf("req-%d", f.uploads)
		f.lastBody = body
		f.lastGLS = r.URL.Query().Get("GLS")
		f.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{"request_id": id}) //nolint:errcheck
	})
	mux.HandleFunc("GET /get_status/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		id := r.PathValue("id")

		f.mu.Lock()
		n := f.checks[id]
		f.checks[id] = n + 1
		status := "processing"
		if len(f.statuses) > 0 {
			status = f.statuses[min(n, len(f.statuses)-1)]
		}
		f.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"status":       status,
			"message":      "request " + status,
			"can_download": status == "completed",
		})
	})
	mux.HandleFunc("GET /get_response/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.mu.Lock()
		payload := f.payload
		f.mu.Unlock()
		io.WriteString(w, payload) //nolint:errcheck
	})
	return mux
}

// newTestEnv points the global config at a fake API and a fresh temp dir.
func newTestEnv(t *testing.T) (*fakeAPI, string) {
	t.Helper()

	api := &fakeAPI{checks: make(map[string]int), payload: `[{"farm":"North 40","acres":120}]`}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg = &config.Config{
		API: config.APIConfig{BaseURL: srv.URL, TimeoutSecs: 5},
		Auth: config.AuthConfig{
			CredentialsPath: filepath.Join(dir, "credentials.json"),
		},
		Request: config.RequestConfig{CustomerID: "cust-1", GLS: "gls-1"},
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(dir, "farmdata.db"),
		},
		Poll:    config.PollConfig{IntervalSecs: 1, CapSecs: 1, MaxAttempts: 3},
		Output:  config.OutputConfig{Dir: dir, Format: "json"},
		Refresh: config.RefreshConfig{Concurrency: 2},
		Log:     config.LogConfig{Level: "error", Format: "json"},
	}
	return api, dir
}

// execute runs cmd.RunE with the given flags and returns what it printed.
// Flags and output are reset when the test ends.
func execute(t *testing.T, cmd *cobra.Command, args []string, flags map[string]string) (string, error) {
	t.Helper()

	resetFlags(cmd)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetContext(context.TODO())
		resetFlags(cmd)
	})

	for name, value := range flags {
		require.NoError(t, cmd.Flags().Set(name, value), "flag --%s", name)
	}

	err := cmd.RunE(cmd, args)
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func login(t *testing.T) {
	t.Helper()
	_, err := execute(t, loginCmd, nil, map[string]string{"username": testUser, "password": testPassword})
	require.NoError(t, err)
}

func submitSample(t *testing.T) string {
	t.Helper()
	out, err := execute(t, submitCmd, nil, map[string]string{"sample": "true"})
	require.NoError(t, err)
	return out
}

// openTestStore opens the history database the commands wrote to.
func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}
