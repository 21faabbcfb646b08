package replication

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/d-sorokin/replication-lab/internal/consensus"
	"github.com/d-sorokin/replication-lab/internal/kv"
)

// Fixed subdirectories of a node's state directory. The consensus engine owns
// all three; this layer only places storage checkpoints under the snapshot
// directory.
const (
	LogDirName      = "log"
	MetaDirName     = "meta"
	SnapshotDirName = "snapshot"
)

// Sentinel errors surfaced to write callers.
var (
	// ErrNotLeader means the submission raced a leadership change; the
	// caller should re-resolve the leader and retry.
	ErrNotLeader = errors.New("replication: not leader")
	// ErrUnavailable means no leader is currently elected.
	ErrUnavailable = errors.New("replication: no leader elected")
	// ErrForward means the HTTP forward to the leader failed.
	ErrForward = errors.New("replication: forwarding to leader failed")
	// ErrShutdown means the node is shutting down and accepts no new work.
	ErrShutdown = errors.New("replication: shutting down")
)

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics captures replication-level metric sinks.
type Metrics interface {
	IncProposal(nodeID, result string)
	IncForward(nodeID, result string)
	ObserveApplyDuration(nodeID string, d time.Duration, ok bool)
	SetApplyLag(nodeID string, lag int64)
	SetLeader(nodeID string, leader bool)
	SetCaughtUp(nodeID string, up bool)
	ObserveSnapshotSave(nodeID string, d time.Duration, result string)
	ObserveSnapshotSaveBytes(nodeID string, n int64)
	IncSnapshotLoad(nodeID, result string)
}

type noopMetrics struct{}

func (noopMetrics) IncProposal(string, string)                          {}
func (noopMetrics) IncForward(string, string)                           {}
func (noopMetrics) ObserveApplyDuration(string, time.Duration, bool)    {}
func (noopMetrics) SetApplyLag(string, int64)                           {}
func (noopMetrics) SetLeader(string, bool)                              {}
func (noopMetrics) SetCaughtUp(string, bool)                            {}
func (noopMetrics) ObserveSnapshotSave(string, time.Duration, string)   {}
func (noopMetrics) ObserveSnapshotSaveBytes(string, int64)              {}
func (noopMetrics) IncSnapshotLoad(string, string)                      {}

// Options configures replication behavior for a node.
type Options struct {
	NodeID string

	// APIUsesTLS selects the scheme used when forwarding to the leader.
	APIUsesTLS bool

	// CreateInitSnapshot issues a dummy write on leader start so that a
	// baseline snapshot exists even on an otherwise idle fresh cluster.
	CreateInitSnapshot bool

	CatchupMinSeqDiff   uint64
	CatchupThresholdPct uint64

	// ForwardTimeout bounds a single HTTP forward to the leader.
	ForwardTimeout time.Duration
}

// State is the replicated state machine registered with the consensus engine.
// It routes writes, applies committed entries to the storage engine in log
// order, coordinates snapshots, and tracks catch-up readiness.
type State struct {
	// mu guards the engine handle lifecycle so status reads can run
	// concurrently while the handle only mutates on start and join.
	mu     sync.RWMutex
	engine consensus.Engine

	// leaderTerm is positive while this node believes itself leader and -1
	// after step-down. It is the hot routing check and is never read under
	// a lock.
	leaderTerm atomic.Int64

	peersMu sync.RWMutex
	peers   []consensus.Peer

	store   *kv.Store
	logger  Logger
	tracer  oteltrace.Tracer
	metrics Metrics
	opts    Options

	httpClient *http.Client
	catchup    *Tracker

	appliedIndex     atomic.Int64
	initSnapshotDone atomic.Bool

	extMu           sync.Mutex
	extSnapshotPath string

	// shutdown is process-wide, set once, shared by reference with the
	// process wiring. Readers tolerate it flipping to true at any point.
	shutdown *atomic.Bool

	readyCh chan struct{}
}

// New creates the replication state machine. The engine handle is attached
// later via Start, after the engine has been constructed around this state.
func New(store *kv.Store, logger Logger, tracer oteltrace.Tracer, metrics Metrics, shutdown *atomic.Bool, opts Options) *State {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = 30 * time.Second
	}
	s := &State{
		store:      store,
		logger:     logger,
		tracer:     tracer,
		metrics:    metrics,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.ForwardTimeout},
		catchup:    NewTracker(opts.CatchupMinSeqDiff, opts.CatchupThresholdPct),
		shutdown:   shutdown,
		readyCh:    make(chan struct{}, 1),
	}
	s.leaderTerm.Store(-1)
	return s
}

// Start attaches the running consensus engine to this state machine.
func (s *State) Start(engine consensus.Engine) {
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

func (s *State) getEngine() consensus.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// HasLeaderTerm reports whether this node currently believes itself leader.
func (s *State) HasLeaderTerm() bool {
	return s.leaderTerm.Load() > 0
}

// IsReady reports whether this node is caught up enough to serve reads.
func (s *State) IsReady() bool {
	return s.catchup.IsReady()
}

// IsAlive reports whether the node is running and not shutting down.
func (s *State) IsAlive() bool {
	return s.getEngine() != nil && !s.shutdown.Load()
}

// AppliedIndex returns the highest log index applied to the storage engine.
func (s *State) AppliedIndex() int64 {
	return s.appliedIndex.Load()
}

// NodeState is a point-in-time view of the node for status APIs.
type NodeState struct {
	Role         string   `json:"role"`
	Term         int64    `json:"term"`
	LeaderAddr   string   `json:"leader,omitempty"`
	CommitIndex  int64    `json:"commit_index"`
	AppliedIndex int64    `json:"applied_index"`
	Peers        []string `json:"peers,omitempty"`
	CaughtUp     bool     `json:"caught_up"`
}

// NodeStatus returns a snapshot of the node's consensus and apply state.
func (s *State) NodeStatus() NodeState {
	out := NodeState{
		Role:         string(consensus.RoleShutdown),
		AppliedIndex: s.appliedIndex.Load(),
		CaughtUp:     s.catchup.IsReady(),
	}
	engine := s.getEngine()
	if engine == nil {
		return out
	}
	st := engine.Status()
	out.Role = string(st.Role)
	out.Term = st.Term
	out.LeaderAddr = st.LeaderAddr
	out.CommitIndex = st.CommitIndex
	for _, p := range s.Peers() {
		out.Peers = append(out.Peers, p.String())
	}
	return out
}

// Peers returns the last committed cluster configuration.
func (s *State) Peers() []consensus.Peer {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return append([]consensus.Peer(nil), s.peers...)
}

// TriggerVote forces a new leader election.
func (s *State) TriggerVote() error {
	engine := s.getEngine()
	if engine == nil {
		return ErrShutdown
	}
	return engine.TriggerVote()
}

// Shutdown stops accepting new work and begins engine shutdown. In-flight
// operations complete through their closures.
func (s *State) Shutdown() {
	s.logger.Info("replication state shutdown")
	s.shutdown.Store(true)
	if engine := s.getEngine(); engine != nil {
		engine.Shutdown()
	}
}

// Join blocks until the engine has fully stopped, then releases the handle.
func (s *State) Join() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		s.engine.Join()
		s.engine = nil
	}
}

// WaitReady blocks until the node is minimally initialized: a snapshot has
// been loaded, leadership resolved, or a leader observed.
func (s *State) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.readyCh:
		return nil
	}
}

// Notify signals the single-slot readiness gate.
func (s *State) Notify() {
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

// Apply executes committed entries in strict log order, exactly once each.
// It runs on the engine's apply goroutine; no two calls overlap. A storage
// error does not stall the log: the entry still counts as applied and the
// error reaches only the originating caller through its closure.
func (s *State) Apply(entries []consensus.Entry) {
	for _, e := range entries {
		s.applyOne(e)
	}
	s.observeCatchup()
}

func (s *State) applyOne(e consensus.Entry) {
	ctx, span := s.startSpan(context.Background(), "replication.Apply",
		attribute.Int64("log.index", e.Index),
		attribute.Int64("log.term", e.Term),
	)
	defer span.End()
	start := time.Now()

	var req *Request
	var done consensus.Closure
	res := NewResponse()

	if wc, ok := e.Done.(*WriteClosure); ok {
		// Locally originated entry: reuse the caller's request and
		// response instead of re-deserializing the payload.
		req, res, done = wc.Request(), wc.Response(), wc
	} else {
		decoded, err := DecodeRequest(e.Data)
		if err != nil {
			// The entry still advances the log position; a payload this
			// node cannot decode must not stall the whole group.
			s.logger.Error("skipping undecodable entry", "index", e.Index, "error", err)
			spanRecordError(span, err)
			s.appliedIndex.Store(e.Index)
			s.metrics.ObserveApplyDuration(s.opts.NodeID, time.Since(start), false)
			return
		}
		req = decoded
	}
	span.SetAttributes(attribute.String("replication.op", string(req.Op)))

	var applyErr error
	switch req.Op {
	case OpInitSnapshot:
		s.maybeTriggerInitSnapshot(ctx)
		res.Ok(http.StatusOK, []byte(`{"ok":true}`))
	default:
		applyErr = s.store.Apply(req.Body)
		if applyErr != nil {
			status := http.StatusInternalServerError
			if errors.Is(applyErr, kv.ErrBadCommand) {
				status = http.StatusBadRequest
			}
			res.Fail(status, applyErr)
		} else {
			res.Ok(http.StatusOK, []byte(`{"ok":true}`))
		}
	}

	s.appliedIndex.Store(e.Index)
	if done != nil {
		done.Run(nil)
	}

	if applyErr != nil {
		spanRecordError(span, applyErr)
		s.logger.Warn("apply failed", "index", e.Index, "error", applyErr)
	}
	s.metrics.ObserveApplyDuration(s.opts.NodeID, time.Since(start), applyErr == nil)
}

func (s *State) observeCatchup() {
	engine := s.getEngine()
	if engine == nil {
		return
	}
	st := engine.Status()
	applied := s.appliedIndex.Load()
	up := s.catchup.Observe(applied, st.CommitIndex)
	lag := st.CommitIndex - applied
	if lag < 0 {
		lag = 0
	}
	s.metrics.SetApplyLag(s.opts.NodeID, lag)
	s.metrics.SetCaughtUp(s.opts.NodeID, up)
}

// OnLeaderStart records the new leader term and, if configured, issues a
// dummy write so the snapshot trigger fires even on an idle fresh leader.
func (s *State) OnLeaderStart(term int64) {
	s.leaderTerm.Store(term)
	s.metrics.SetLeader(s.opts.NodeID, true)
	s.logger.Info("node becomes leader", "term", term)
	s.Notify()

	// The engine only considers a snapshot once the log has grown past the
	// last one, so a fresh leader has to put something in the log first.
	if s.opts.CreateInitSnapshot && !s.initSnapshotDone.Load() {
		req := &Request{Method: http.MethodPost, Path: "/init_snapshot", Op: OpInitSnapshot}
		s.Write(context.Background(), req, NewResponse())
	}
}

// OnLeaderStop resets the leader term to the step-down sentinel. Writes
// already queued fail with a not-leader error when their closures fire.
func (s *State) OnLeaderStop(reason error) {
	s.leaderTerm.Store(-1)
	s.metrics.SetLeader(s.opts.NodeID, false)
	s.logger.Info("node stepped down", "reason", reason)
}

// OnConfigurationCommitted replaces the peer set with the last committed
// cluster configuration.
func (s *State) OnConfigurationCommitted(conf consensus.Configuration) {
	s.peersMu.Lock()
	s.peers = append([]consensus.Peer(nil), conf.Peers...)
	s.peersMu.Unlock()
	s.logger.Info("configuration committed", "config", conf.String())
}

// OnStartFollowing records that this node now follows a leader.
func (s *State) OnStartFollowing(change consensus.LeaderChange) {
	s.logger.Info("node starts following", "leader", change.LeaderAddr, "term", change.Term)
	s.Notify()
}

// OnStopFollowing records that this node stopped following its leader.
func (s *State) OnStopFollowing(change consensus.LeaderChange) {
	s.logger.Info("node stops following", "leader", change.LeaderAddr, "reason", change.Reason)
}

// OnShutdown records engine shutdown.
func (s *State) OnShutdown() {
	s.logger.Info("node is down")
}

// OnError records a consensus-level error. Recovery is owned by the engine.
func (s *State) OnError(err error) {
	s.logger.Error("consensus error", "error", err)
}

func (s *State) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func spanRecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
