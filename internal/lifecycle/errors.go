package lifecycle

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

var (
	// ErrBusy is returned when an operation is attempted while another one
	// is still in flight.
	ErrBusy = eris.New("lifecycle: another operation is in progress")

	// ErrNotAuthenticated is wrapped by operations that need a token when
	// none is held.
	ErrNotAuthenticated = eris.New("not authenticated")
)

// Kind classifies a lifecycle failure by the operation that produced it.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindSubmission
	KindStatus
	KindResult
	// KindResultContent is a logical error the server returned inside an
	// otherwise successful result payload.
	KindResultContent
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindSubmission:
		return "submission"
	case KindStatus:
		return "status"
	case KindResult:
		return "result"
	case KindResultContent:
		return "result_content"
	default:
		return "unknown"
	}
}

func (k Kind) prefix() string {
	switch k {
	case KindAuth:
		return "Authentication failed"
	case KindSubmission:
		return "Upload failed"
	case KindStatus:
		return "Status check failed"
	case KindResult:
		return "Getting response failed"
	default:
		return ""
	}
}

// Error is the user-facing failure of a lifecycle operation. Its message is
// the operation prefix followed by the most specific detail available.
type Error struct {
	Kind   Kind
	Detail string
	// Message is the server's follow-up text for a KindResultContent
	// error. It is never part of Error().
	Message string
	Err     error
}

func (e *Error) Error() string {
	p := e.Kind.prefix()
	if p == "" {
		return e.Detail
	}
	return p + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MessageOf returns the server message carried by a lifecycle Error, if any.
func MessageOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Message
	}
	return ""
}

// IsKind reports whether err is a lifecycle Error of kind k.
func IsKind(err error, k Kind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == k
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Detail: Detail(err), Err: err}
}

// Detail picks the message shown for err: the server-provided detail when
// the response carried one, otherwise the transport-level message.
func Detail(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *farmdata.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			return apiErr.Detail
		}
		return fmt.Sprintf("Request failed with status code %d", apiErr.StatusCode)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}

	if errors.Is(err, ErrNotAuthenticated) {
		return ErrNotAuthenticated.Error()
	}

	return err.Error()
}
