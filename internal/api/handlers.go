// Package api exposes the node's public HTTP surface: KV reads and writes,
// node status and health, and operator endpoints for snapshots, votes, and
// membership changes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/d-sorokin/replication-lab/internal/kv"
	"github.com/d-sorokin/replication-lab/internal/replication"
)

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler serves the public API on top of the replication state machine.
type Handler struct {
	State  *replication.State
	Logger Logger

	// WriteTimeout bounds how long a caller blocks waiting for a write to
	// commit and apply.
	WriteTimeout time.Duration
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
}

type putRequest struct {
	Value string `json:"value"`
}

type peersRequest struct {
	Nodes string `json:"nodes"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// relay writes a replicated response back verbatim, preserving status and
// body from either the local apply or the forwarded leader response.
func relay(w http.ResponseWriter, res *replication.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

func (h *Handler) writeTimeout() time.Duration {
	if h.WriteTimeout > 0 {
		return h.WriteTimeout
	}
	return 30 * time.Second
}

// Get serves a local, possibly stale read.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, found, err := h.State.Read(key)
	if err != nil {
		h.Logger.Error("read failed", "key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal_error"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, apiResponse{OK: false, Error: "not_found", Key: key})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{OK: true, Key: key, Value: value})
}

// Put replicates a key write through the log.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var body putRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, Error: "bad_request", Message: "invalid JSON body"})
		return
	}
	key := r.PathValue("key")
	cmd, err := json.Marshal(kv.Command{Type: kv.PutCmd, Key: key, Value: body.Value})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal_error"})
		return
	}
	h.replicate(w, r, cmd)
}

// Delete replicates a key delete through the log.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	cmd, err := json.Marshal(kv.Command{Type: kv.DeleteCmd, Key: key})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal_error"})
		return
	}
	h.replicate(w, r, cmd)
}

func (h *Handler) replicate(w http.ResponseWriter, r *http.Request, cmd []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), h.writeTimeout())
	defer cancel()

	req := &replication.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Op:     replication.OpWrite,
		Body:   cmd,
	}
	res := replication.NewResponse()

	h.State.Write(ctx, req, res)
	if err := res.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, apiResponse{OK: false, Error: "timeout", Message: "write not committed before deadline"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{OK: false, Error: "canceled"})
		return
	}
	relay(w, res)
}

// Status reports the node's consensus and apply state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.State.NodeStatus())
}

// Health reports readiness: alive and caught up enough to serve reads.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.State.IsAlive() || !h.State.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{OK: false, Error: "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{OK: true})
}

// Snapshot triggers an on-demand snapshot and blocks until it completes.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.writeTimeout())
	defer cancel()

	res := replication.NewResponse()
	h.State.DoSnapshot(r.URL.Query().Get("snapshot_path"), res)
	if err := res.Wait(ctx); err != nil {
		writeJSON(w, http.StatusGatewayTimeout, apiResponse{OK: false, Error: "timeout", Message: "snapshot did not finish before deadline"})
		return
	}
	relay(w, res)
}

// Vote forces a new leader election.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	if err := h.State.TriggerVote(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{OK: false, Error: "unavailable", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{OK: true, Message: "vote triggered"})
}

// Peers submits an asynchronous cluster membership change.
func (h *Handler) Peers(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var body peersRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, Error: "bad_request", Message: "invalid JSON body"})
		return
	}
	if err := h.State.RefreshNodes(body.Nodes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, Error: "bad_request", Message: err.Error()})
		return
	}
	// Membership changes are eventually consistent; callers re-poll /status.
	writeJSON(w, http.StatusAccepted, apiResponse{OK: true, Message: "peer refresh submitted"})
}
