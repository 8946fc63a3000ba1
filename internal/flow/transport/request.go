package transport

import (
	"encoding/json"
	"net/http"
	"time"
)

// OperationType identifies a job API call.
type OperationType string

const (
	// OpSubmit creates a remote job. Not idempotent.
	OpSubmit OperationType = "submit"
	// OpGetStatus reads a job's status. Idempotent.
	OpGetStatus OperationType = "get_status"
	// OpTrigger starts an action on a job. Not idempotent.
	OpTrigger OperationType = "trigger"
	// OpFetch reads a job resource. Idempotent.
	OpFetch OperationType = "fetch"
)

// Idempotent reports whether repeating the call has no additional effect.
func (o OperationType) Idempotent() bool {
	return o == OpGetStatus || o == OpFetch
}

// Request is one call to the job API as it travels through the middleware
// pipeline.
type Request struct {
	Operation OperationType
	Method    string
	Path      string
	Body      json.RawMessage
	Header    http.Header

	JobID     string
	Action    string
	Resource  string
	RequestID string

	// Timeout bounds this call. Zero leaves only the caller's deadline.
	Timeout time.Duration
}

// Response is a successful (2xx) job API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
	LatencyMs  int64
}
