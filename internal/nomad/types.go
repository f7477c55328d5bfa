package nomad

import "encoding/json"

// MaxDispatchPayload is the upper bound, in bytes, on the base64-encoded
// dispatch payload. See https://www.nomadproject.io/api/jobs.html#payload.
const MaxDispatchPayload = 15 * 1024

// Log stream types accepted by the client fs/logs endpoint.
const (
	LogTypeStdout = "stdout"
	LogTypeStderr = "stderr"
)

// ClientStatus is the client-side status of an allocation.
type ClientStatus string

const (
	StatusPending  ClientStatus = "pending"
	StatusRunning  ClientStatus = "running"
	StatusComplete ClientStatus = "complete"
	StatusFailed   ClientStatus = "failed"
	StatusLost     ClientStatus = "lost"
)

// IsTerminal returns true if no further status transition can occur.
func (s ClientStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusLost:
		return true
	}
	return false
}

// DispatchRequest describes one instantiation of a parameterized job.
type DispatchRequest struct {
	JobID string
	Meta  map[string]string
	// Payload is the raw payload; the client base64-encodes it on the wire.
	// nil means no payload.
	Payload []byte
	// IDPrefixTemplate, when non-empty, is passed to Nomad to influence the
	// dispatched job ID.
	IDPrefixTemplate string
}

// DispatchResponse identifies the dispatched job instance.
type DispatchResponse struct {
	DispatchedJobID string `json:"DispatchedJobID"`
	EvalID          string `json:"EvalID"`
}

// Allocation is the subset of a Nomad allocation the tool cares about.
// TaskStates entries are kept opaque: only presence matters here.
type Allocation struct {
	ID         string                     `json:"ID"`
	TaskStates map[string]json.RawMessage `json:"TaskStates"`
}

// AllocStatus is the subset of a full allocation fetch used for
// completion polling.
type AllocStatus struct {
	ClientStatus ClientStatus `json:"ClientStatus"`
}

// LogChunk is one frame from the client fs/logs endpoint. Data is empty
// when the server had nothing new at the requested offset. Offset is the
// offset to resume from after consuming Data.
type LogChunk struct {
	File   string `json:"File"`
	Offset int64  `json:"Offset"`
	Data   []byte `json:"Data"`
}
