package farmdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial     = 30 * time.Second
	defaultPollCap         = defaultPollInitial
	defaultPollMaxAttempts = 10
)

// ErrPollExhausted is returned when the request is still processing after
// the maximum number of status checks.
var ErrPollExhausted = eris.New("farmdata: request did not complete within the polling budget")

// HaltedError is returned when the server reports a status that will not
// progress without intervention ("error" or "hold").
type HaltedError struct {
	RequestID string
	Status    StatusRecord
}

func (e *HaltedError) Error() string {
	if e.Status.Message != "" {
		return fmt.Sprintf("farmdata: request %s halted with status %q: %s", e.RequestID, e.Status.Status, e.Status.Message)
	}
	return fmt.Sprintf("farmdata: request %s halted with status %q", e.RequestID, e.Status.Status)
}

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial       time.Duration
	cap           time.Duration
	timeout       time.Duration
	maxAttempts   int
	statusRetries int
	onStatus      func(attempt int, status StatusRecord)
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		initial:     defaultPollInitial,
		cap:         defaultPollCap,
		maxAttempts: defaultPollMaxAttempts,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout bounds the whole poll. Applied only if the parent context
// has no deadline; zero means no extra bound.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// WithMaxAttempts overrides the number of status checks before giving up.
func WithMaxAttempts(n int) PollOption {
	return func(c *pollConfig) {
		c.maxAttempts = n
	}
}

// WithStatusRetries allows n extra tries of a status check that failed with a
// transient error. Zero (the default) fails on the first error.
func WithStatusRetries(n int) PollOption {
	return func(c *pollConfig) {
		c.statusRetries = n
	}
}

// WithOnStatus registers a callback invoked after each successful status
// check. Callbacks run in the order they were registered.
func WithOnStatus(fn func(attempt int, status StatusRecord)) PollOption {
	return func(c *pollConfig) {
		prev := c.onStatus
		if prev == nil {
			c.onStatus = fn
			return
		}
		c.onStatus = func(attempt int, status StatusRecord) {
			prev(attempt, status)
			fn(attempt, status)
		}
	}
}

// PollStatus polls GetStatus until the request completes, halts, exhausts the
// attempt budget, or the context expires. The interval doubles after every
// check up to the cap. On ErrPollExhausted the last status is returned with
// the error.
func PollStatus(ctx context.Context, client Client, token, requestID string, opts ...PollOption) (*StatusRecord, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = defaultPollMaxAttempts
	}
	if cfg.cap < cfg.initial {
		cfg.cap = cfg.initial
	}

	if _, ok := ctx.Deadline(); !ok && cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	retriesLeft := cfg.statusRetries
	var last *StatusRecord

	for attempt := 1; attempt <= cfg.maxAttempts; {
		status, err := client.GetStatus(ctx, token, requestID)
		if err != nil {
			if retriesLeft <= 0 || !IsTemporary(err) || ctx.Err() != nil {
				return last, eris.Wrapf(err, "farmdata: poll status %s", requestID)
			}
			retriesLeft--
		} else {
			last = status
			if cfg.onStatus != nil {
				cfg.onStatus(attempt, *status)
			}
			switch {
			case status.Completed():
				return status, nil
			case status.Halted():
				return status, &HaltedError{RequestID: requestID, Status: *status}
			}
			attempt++
			if attempt > cfg.maxAttempts {
				break
			}
		}

		select {
		case <-ctx.Done():
			return last, eris.Wrapf(ctx.Err(), "farmdata: poll status %s timed out", requestID)
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}

	return last, ErrPollExhausted
}

// IsTemporary reports whether err is a transient API or network failure.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
