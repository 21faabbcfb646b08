// Package replication implements the replicated state machine layered on top
// of a consensus engine: write routing with leader forwarding, log-entry
// application against the storage engine, snapshot save/load coordination,
// catch-up tracking, and cluster membership bookkeeping.
package replication

import (
	"context"
	"encoding/json"
	"fmt"
)

// OpType tags the kind of operation carried by a replicated request.
type OpType string

// Operation tags.
const (
	OpWrite        OpType = "write"
	OpInitSnapshot OpType = "init_snapshot"
)

// Request is the transport-level request replicated through the log. The
// whole envelope is serialized into the log entry so that followers can
// re-execute the original operation verbatim.
type Request struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Seq    uint64            `json:"seq,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Op     OpType            `json:"op"`
	Body   []byte            `json:"body,omitempty"`
}

// Encode serializes the request into a log-entry payload.
func (r *Request) Encode() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("replication: encode request: %w", err)
	}
	return raw, nil
}

// DecodeRequest parses a log-entry payload back into a request.
func DecodeRequest(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("replication: decode request: %w", err)
	}
	return &req, nil
}

// Response carries the outcome of a replicated request back to the original
// caller. The HTTP layer blocks on Wait; the completion closure populates the
// response and signals done exactly once.
type Response struct {
	Status int
	Body   []byte

	done chan struct{}
}

// NewResponse creates an unsignaled response.
func NewResponse() *Response {
	return &Response{done: make(chan struct{})}
}

// Ok records a successful outcome. The caller must still signal completion
// through the owning closure.
func (r *Response) Ok(status int, body []byte) {
	r.Status = status
	r.Body = body
}

// Fail records a failed outcome as a JSON error body.
func (r *Response) Fail(status int, err error) {
	r.Status = status
	body, marshalErr := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
	if marshalErr != nil {
		body = []byte(`{"ok":false}`)
	}
	r.Body = body
}

// Wait blocks until the response is signaled or ctx expires.
func (r *Response) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return nil
	}
}

func (r *Response) signal() {
	close(r.done)
}
