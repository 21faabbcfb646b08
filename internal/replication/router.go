package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/d-sorokin/replication-lab/internal/consensus"
	"github.com/d-sorokin/replication-lab/internal/kv"
)

// Write routes a replicated write. On the leader the request is serialized
// into a log entry and submitted to the engine; completion always arrives
// asynchronously through the response's closure. On a follower the request
// is forwarded to the current leader over HTTP and the leader's response is
// relayed back unchanged.
func (s *State) Write(ctx context.Context, req *Request, res *Response) {
	ctx, span := s.startSpan(ctx, "replication.Write",
		attribute.String("replication.op", string(req.Op)),
		attribute.String("http.path", req.Path),
	)
	defer span.End()

	if s.shutdown.Load() {
		s.metrics.IncProposal(s.opts.NodeID, "shutdown")
		spanRecordError(span, ErrShutdown)
		res.Fail(http.StatusServiceUnavailable, ErrShutdown)
		res.signal()
		return
	}

	if s.HasLeaderTerm() {
		s.submit(req, res)
		return
	}
	s.forwardToLeader(ctx, req, res)
}

func (s *State) submit(req *Request, res *Response) {
	engine := s.getEngine()
	if engine == nil {
		s.metrics.IncProposal(s.opts.NodeID, "shutdown")
		res.Fail(http.StatusServiceUnavailable, ErrShutdown)
		res.signal()
		return
	}

	data, err := req.Encode()
	if err != nil {
		s.metrics.IncProposal(s.opts.NodeID, "encode_error")
		res.Fail(http.StatusBadRequest, err)
		res.signal()
		return
	}

	s.metrics.IncProposal(s.opts.NodeID, "accepted")
	s.logger.Debug("submitting write", "op", req.Op, "path", req.Path, "bytes", len(data))
	engine.Submit(consensus.Task{Data: data, Done: NewWriteClosure(req, res)})
}

// forwardToLeader rewrites the request target to the current leader's API
// address and replays the leader's response verbatim to the caller.
func (s *State) forwardToLeader(ctx context.Context, req *Request, res *Response) {
	ctx, span := s.startSpan(ctx, "replication.forwardToLeader")
	defer span.End()

	engine := s.getEngine()
	if engine == nil {
		res.Fail(http.StatusServiceUnavailable, ErrShutdown)
		res.signal()
		return
	}

	leader, ok := engine.Status().LeaderPeer()
	if !ok {
		s.metrics.IncForward(s.opts.NodeID, "unavailable")
		spanRecordError(span, ErrUnavailable)
		res.Fail(http.StatusServiceUnavailable, ErrUnavailable)
		res.signal()
		return
	}

	target := s.leaderURL(leader, req.Path, req.Params)
	span.SetAttributes(attribute.String("replication.leader_url", target))
	s.logger.Debug("forwarding write to leader", "url", target, "method", req.Method)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		s.metrics.IncForward(s.opts.NodeID, "error")
		spanRecordError(span, err)
		res.Fail(http.StatusInternalServerError, err)
		res.signal()
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.metrics.IncForward(s.opts.NodeID, "error")
		forwardErr := fmt.Errorf("%w: %v", ErrForward, err)
		spanRecordError(span, forwardErr)
		res.Fail(http.StatusBadGateway, forwardErr)
		res.signal()
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.metrics.IncForward(s.opts.NodeID, "error")
		forwardErr := fmt.Errorf("%w: %v", ErrForward, err)
		spanRecordError(span, forwardErr)
		res.Fail(http.StatusBadGateway, forwardErr)
		res.signal()
		return
	}

	s.metrics.IncForward(s.opts.NodeID, "ok")
	res.Ok(resp.StatusCode, body)
	res.signal()
}

// leaderURL rewrites a request path onto the leader's API endpoint, keeping
// method, path, and body intact and substituting the scheme per the
// configured transport policy.
func (s *State) leaderURL(leader consensus.Peer, path string, params map[string]string) string {
	scheme := "http"
	if s.opts.APIUsesTLS {
		scheme = "https"
	}
	target := scheme + "://" + leader.APIAddr() + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}
	return target
}

// Read serves a local, possibly stale read. Reads do not go through the log
// and therefore carry no linearizability guarantee.
func (s *State) Read(key string) (string, bool, error) {
	return s.store.Get(key)
}

// DoDummyWrite pushes an empty operation through the normal write path to
// force the log position forward. Used to advance snapshot-eligibility
// bookkeeping; the result is not waited on.
func (s *State) DoDummyWrite(ctx context.Context) error {
	body, err := json.Marshal(kv.Command{Type: kv.NoopCmd})
	if err != nil {
		return err
	}
	req := &Request{Method: http.MethodPost, Path: "/dummy_write", Op: OpWrite, Body: body}
	s.Write(ctx, req, NewResponse())
	return nil
}
