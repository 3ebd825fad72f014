// Package lifecycle drives a Farm Data request from authentication through
// submission, status checks and result retrieval.
//
// The Controller is a small state machine:
//
//	Unauthenticated -> Authenticated -> Submitted -> {status known, result known}
//
// Status and result are independent facts about the submitted request; neither
// moves the machine forward on its own. Every operation runs under a busy flag
// and reports failures as *Error values whose messages are ready to display.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/farmdata-cli/internal/credential"
	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

// State is the coarse lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a consistent view of the controller for a presentation layer.
type Snapshot struct {
	State     State                  `json:"state"`
	Busy      bool                   `json:"busy"`
	Error     string                 `json:"error,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Status    *farmdata.StatusRecord `json:"status,omitempty"`
	Result    json.RawMessage        `json:"result,omitempty"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithOnChange registers a callback invoked with a fresh snapshot after every
// operation finishes.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// Controller mediates the four API operations. It is safe for concurrent use,
// but only one operation runs at a time; others fail fast with ErrBusy.
type Controller struct {
	api   farmdata.Client
	creds credential.Store

	mu        sync.Mutex
	busy      bool
	token     string
	requestID string
	status    *farmdata.StatusRecord
	result    json.RawMessage
	lastErr   string

	onChange func(Snapshot)
}

// New creates a Controller in the Unauthenticated state. Call Resume to pick
// up a previously persisted token.
func New(api farmdata.Client, creds credential.Store, opts ...Option) *Controller {
	c := &Controller{api: api, creds: creds}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resume loads the persisted token, moving to Authenticated when one exists.
func (c *Controller) Resume() error {
	if err := c.begin(); err != nil {
		return err
	}

	token, err := c.creds.Load(credential.TokenKey)
	if err != nil {
		err = eris.Wrap(err, "lifecycle: load token")
		c.end(err)
		return err
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	zap.L().Debug("lifecycle: resumed", zap.Bool("authenticated", token != ""))
	c.end(nil)
	return nil
}

// Authenticate exchanges credentials for a bearer token and persists it.
// On failure the controller stays in its previous state.
func (c *Controller) Authenticate(ctx context.Context, username, password string) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer func() { c.end(err) }()

	resp, err := c.api.Token(ctx, username, password)
	if err != nil {
		zap.L().Warn("lifecycle: authentication failed", zap.String("username", username), zap.Error(err))
		return newError(KindAuth, err)
	}

	if err := c.creds.Save(credential.TokenKey, resp.AccessToken); err != nil {
		return newError(KindAuth, eris.Wrap(err, "persist token"))
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()

	zap.L().Info("lifecycle: authenticated", zap.String("username", username))
	return nil
}

// SubmitCriteria uploads criteria for a customer and GLS code. The previous
// request id, status and result are cleared before anything is sent,
// whatever the outcome.
func (c *Controller) SubmitCriteria(ctx context.Context, customerID, gls string, criteria farmdata.Criteria) (requestID string, err error) {
	if err := c.begin(); err != nil {
		return "", err
	}
	defer func() { c.end(err) }()

	c.mu.Lock()
	c.requestID = ""
	c.status = nil
	c.result = nil
	token := c.token
	c.mu.Unlock()

	if token == "" {
		return "", newError(KindSubmission, ErrNotAuthenticated)
	}
	if strings.TrimSpace(customerID) == "" {
		return "", newError(KindSubmission, eris.New("customer id is required"))
	}
	if strings.TrimSpace(gls) == "" {
		return "", newError(KindSubmission, eris.New("GLS code is required"))
	}
	if err := criteria.Validate(); err != nil {
		return "", newError(KindSubmission, err)
	}

	resp, err := c.api.UploadCriteria(ctx, token, farmdata.SubmissionRequest{
		CustomerID: customerID,
		GLS:        gls,
		Criteria:   criteria,
	})
	if err != nil {
		c.dropRejectedToken(err)
		return "", newError(KindSubmission, err)
	}

	c.mu.Lock()
	c.requestID = resp.RequestID
	c.mu.Unlock()

	zap.L().Info("lifecycle: criteria submitted",
		zap.String("request_id", resp.RequestID),
		zap.String("customer_id", customerID),
		zap.String("gls", gls),
	)
	return resp.RequestID, nil
}

// CheckStatus fetches the status of the submitted request. It returns
// (nil, nil) without doing anything when no request has been submitted.
// After a failure the stored status is cleared.
func (c *Controller) CheckStatus(ctx context.Context) (status *farmdata.StatusRecord, err error) {
	requestID, token, ok, err := c.beginRequest()
	if err != nil || !ok {
		return nil, err
	}
	defer func() { c.end(err) }()

	if token == "" {
		c.setStatus(nil)
		return nil, newError(KindStatus, ErrNotAuthenticated)
	}

	status, err = c.api.GetStatus(ctx, token, requestID)
	if err != nil {
		c.setStatus(nil)
		c.dropRejectedToken(err)
		return nil, newError(KindStatus, err)
	}

	c.setStatus(status)
	zap.L().Debug("lifecycle: status checked",
		zap.String("request_id", requestID),
		zap.String("status", status.Status),
		zap.Bool("can_download", status.CanDownload),
	)
	return status, nil
}

// WaitForStatus polls the submitted request until it completes, halts, or
// the polling budget runs out, recording every status seen along the way.
// A halted request returns its status with a *farmdata.HaltedError; an
// exhausted budget returns the last status with farmdata.ErrPollExhausted.
// Like CheckStatus it is a no-op without a submitted request.
func (c *Controller) WaitForStatus(ctx context.Context, opts ...farmdata.PollOption) (status *farmdata.StatusRecord, err error) {
	requestID, token, ok, err := c.beginRequest()
	if err != nil || !ok {
		return nil, err
	}
	defer func() { c.end(err) }()

	if token == "" {
		c.setStatus(nil)
		return nil, newError(KindStatus, ErrNotAuthenticated)
	}

	opts = append(slices.Clone(opts), farmdata.WithOnStatus(func(attempt int, s farmdata.StatusRecord) {
		c.setStatus(&s)
		zap.L().Debug("lifecycle: polled status",
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.String("status", s.Status),
		)
	}))

	status, err = farmdata.PollStatus(ctx, c.api, token, requestID, opts...)
	var halted *farmdata.HaltedError
	switch {
	case err == nil:
		return status, nil
	case errors.As(err, &halted), errors.Is(err, farmdata.ErrPollExhausted):
		return status, err
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return status, newError(KindStatus, err)
	default:
		c.setStatus(nil)
		c.dropRejectedToken(err)
		return nil, newError(KindStatus, err)
	}
}

// FetchResult retrieves the result payload of the submitted request. It
// returns (nil, nil) without doing anything when no request has been
// submitted. A payload carrying an "error" member is reported as a
// KindResultContent error and is not stored.
func (c *Controller) FetchResult(ctx context.Context) (result json.RawMessage, err error) {
	requestID, token, ok, err := c.beginRequest()
	if err != nil || !ok {
		return nil, err
	}
	defer func() { c.end(err) }()

	if token == "" {
		return nil, newError(KindResult, ErrNotAuthenticated)
	}

	payload, err := c.api.GetResponse(ctx, token, requestID)
	if err != nil {
		c.dropRejectedToken(err)
		return nil, newError(KindResult, err)
	}

	if msg, bad := farmdata.ContentError(payload); bad {
		note := farmdata.ContentMessage(payload)
		zap.L().Warn("lifecycle: result payload carries an error",
			zap.String("request_id", requestID),
			zap.String("error", msg),
			zap.String("message", note),
		)
		return nil, &Error{Kind: KindResultContent, Detail: msg, Message: note}
	}

	c.mu.Lock()
	c.result = payload
	c.mu.Unlock()

	zap.L().Info("lifecycle: result fetched",
		zap.String("request_id", requestID),
		zap.Int("bytes", len(payload)),
	)
	return payload, nil
}

// Logout forgets the token, in memory and in the credential store. The
// request id, status and result are left as they are.
func (c *Controller) Logout() (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer func() { c.end(err) }()

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if err := c.creds.Delete(credential.TokenKey); err != nil {
		return eris.Wrap(err, "lifecycle: forget token")
	}
	zap.L().Info("lifecycle: logged out")
	return nil
}

// State returns the current coarse state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Busy reports whether an operation is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Token returns the bearer token, or "" when unauthenticated.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// RequestID returns the id of the submitted request, or "".
func (c *Controller) RequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

// Snapshot returns the current presentation bindings.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Session returns the request-scoped state worth persisting.
func (c *Controller) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := model.Session{
		RequestID: c.requestID,
		Result:    c.result,
		UpdatedAt: time.Now().UTC(),
	}
	if c.status != nil {
		st := *c.status
		s.Status = &st
	}
	return s
}

// RestoreSession re-hydrates request-scoped state saved by Session.
func (c *Controller) RestoreSession(s model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestID = s.RequestID
	c.status = nil
	if s.Status != nil {
		st := *s.Status
		c.status = &st
	}
	c.result = s.Result
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	c.lastErr = ""
	return nil
}

// beginRequest is begin for operations that act on the submitted request.
// ok is false when there is no request, in which case nothing was started.
func (c *Controller) beginRequest() (requestID, token string, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requestID == "" {
		return "", "", false, nil
	}
	if c.busy {
		return "", "", false, ErrBusy
	}
	c.busy = true
	c.lastErr = ""
	return c.requestID, c.token, true, nil
}

func (c *Controller) end(err error) {
	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.lastErr = err.Error()
	}
	snap := c.snapshotLocked()
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

func (c *Controller) setStatus(s *farmdata.StatusRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// dropRejectedToken forgets the token when the server answered 401, so the
// next step is re-authentication.
func (c *Controller) dropRejectedToken(err error) {
	var apiErr *farmdata.APIError
	if !errors.As(err, &apiErr) || !apiErr.Unauthorized() {
		return
	}

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if derr := c.creds.Delete(credential.TokenKey); derr != nil {
		zap.L().Warn("lifecycle: forget rejected token", zap.Error(derr))
	}
	zap.L().Warn("lifecycle: token rejected by server, re-authentication required")
}

func (c *Controller) stateLocked() State {
	switch {
	case c.token == "":
		return StateUnauthenticated
	case c.requestID != "":
		return StateSubmitted
	default:
		return StateAuthenticated
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     c.stateLocked(),
		Busy:      c.busy,
		Error:     c.lastErr,
		RequestID: c.requestID,
		Result:    c.result,
	}
	if c.status != nil {
		st := *c.status
		s.Status = &st
	}
	return s
}
