package farmdata

import (
	"encoding/json"
	"strings"
)

// Status values reported by GET /get_status. Anything else means the request
// is still being processed.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusHold      = "hold"
)

// StatusRecord is the response from GET /get_status/{requestId}.
type StatusRecord struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CanDownload bool   `json:"can_download"`
}

// Completed reports whether the result is ready to fetch.
func (s StatusRecord) Completed() bool {
	return s.Status == StatusCompleted
}

// Halted reports whether the server stopped processing the request. Halted
// requests need support intervention and never complete on their own.
func (s StatusRecord) Halted() bool {
	return s.Status == StatusError || s.Status == StatusHold
}

// Terminal reports whether polling can stop.
func (s StatusRecord) Terminal() bool {
	return s.Completed() || s.Halted()
}

// ContentError reports the logical error a 200 result payload may carry
// instead of data: an object whose "error" member is truthy (non-null,
// non-empty, non-false, non-zero).
func ContentError(payload json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", false
	}
	raw, ok := obj["error"]
	if !ok {
		return "", false
	}

	var msg string
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch e := v.(type) {
	case nil:
		return "", false
	case bool:
		if !e {
			return "", false
		}
		msg = "true"
	case string:
		if e == "" {
			return "", false
		}
		msg = e
	case float64:
		if e == 0 {
			return "", false
		}
		msg = string(raw)
	default:
		msg = string(raw)
	}

	return msg, true
}

// ContentMessage returns the "message" member of an error payload, if any.
func ContentMessage(payload json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return ""
	}
	return strings.TrimSpace(obj.Message)
}
