package model

import (
	"encoding/json"
	"time"

	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

// StatusSubmitted is the local status of a request the server accepted but
// has not yet been checked.
const StatusSubmitted = "submitted"

// Submission is one accepted criteria upload and what is known about it.
type Submission struct {
	ID          string            `json:"id"`
	RequestID   string            `json:"request_id"`
	CustomerID  string            `json:"customer_id"`
	GLS         string            `json:"gls"`
	Criteria    farmdata.Criteria `json:"criteria"`
	Status      string            `json:"status"`
	Message     string            `json:"message,omitempty"`
	CanDownload bool              `json:"can_download"`
	Result      json.RawMessage   `json:"result,omitempty"`
	ResultError string            `json:"result_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Terminal reports whether the server will not change the status again.
func (s Submission) Terminal() bool {
	return farmdata.StatusRecord{Status: s.Status}.Terminal()
}

// Session is the request-scoped part of the lifecycle that outlives a single
// process: the active request and whatever was last learned about it.
type Session struct {
	RequestID string                 `json:"request_id,omitempty"`
	Status    *farmdata.StatusRecord `json:"status,omitempty"`
	Result    json.RawMessage        `json:"result,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}
