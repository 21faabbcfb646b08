// Package local implements a single-node consensus engine: every submitted
// task commits immediately, in order, and is fed to the registered state
// machine through the standard callback surface. It persists its metadata and
// log tail under the node's state directory and compacts the tail on
// snapshot, so a restarted node recovers from snapshot plus replay.
//
// It exists for single-node operation and integration testing; multi-node
// replication is the business of an external engine behind the same boundary.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/d-sorokin/replication-lab/internal/consensus"
)

// Engine errors.
var (
	ErrStopped          = errors.New("local: engine stopped")
	ErrSnapshotInFlight = errors.New("local: snapshot already in flight")
)

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures the engine.
type Options struct {
	// Dir is the node state directory; the engine owns its log, meta, and
	// snapshot subdirectories.
	Dir string

	// Self identifies this node in the cluster configuration.
	Self consensus.Peer

	// Config is the initial cluster configuration, used only when no
	// committed configuration has been persisted yet.
	Config consensus.Configuration

	// SnapshotEvery triggers a snapshot after this many applied entries.
	// Zero disables automatic snapshots.
	SnapshotEvery uint64
}

type logRecord struct {
	Index int64  `json:"index"`
	Term  int64  `json:"term"`
	Data  []byte `json:"data"`
}

type engineMeta struct {
	Term          int64            `json:"term"`
	AppliedIndex  int64            `json:"applied_index"`
	SnapshotIndex int64            `json:"snapshot_index"`
	Peers         []consensus.Peer `json:"peers,omitempty"`
}

type confChange struct {
	conf consensus.Configuration
	done consensus.Closure
}

// Engine is a single-node consensus engine.
type Engine struct {
	opts   Options
	sm     consensus.StateMachine
	logger Logger

	mu               sync.Mutex
	term             int64
	commitIndex      int64
	appliedIndex     int64
	snapshotIndex    int64
	peers            []consensus.Peer
	appliedSinceSnap uint64
	running          bool
	logFile          *os.File

	snapPending atomic.Bool

	taskCh   chan consensus.Task
	snapCh   chan consensus.Closure
	confCh   chan confChange
	voteCh   chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates an engine rooted at opts.Dir with sm as its state machine.
func New(opts Options, sm consensus.StateMachine, logger Logger) (*Engine, error) {
	for _, sub := range []string{"log", "meta", "snapshot"} {
		if err := os.MkdirAll(filepath.Join(opts.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("local: create %s dir: %w", sub, err)
		}
	}
	return &Engine{
		opts:   opts,
		sm:     sm,
		logger: logger,
		taskCh: make(chan consensus.Task, 1024),
		snapCh: make(chan consensus.Closure, 4),
		confCh: make(chan confChange, 4),
		voteCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

func (e *Engine) metaPath() string { return filepath.Join(e.opts.Dir, "meta", "engine.json") }
func (e *Engine) logPath() string  { return filepath.Join(e.opts.Dir, "log", "entries.log") }
func (e *Engine) snapDir() string  { return filepath.Join(e.opts.Dir, "snapshot") }

// Start recovers persisted state (snapshot, then log replay), assumes
// leadership for a fresh term, and begins serving callbacks.
func (e *Engine) Start() error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	e.term = meta.Term
	e.snapshotIndex = meta.SnapshotIndex
	e.peers = meta.Peers
	if len(e.peers) == 0 {
		e.peers = append([]consensus.Peer(nil), e.opts.Config.Peers...)
	}
	if len(e.peers) == 0 {
		e.peers = []consensus.Peer{e.opts.Self}
	}

	if err := e.restoreSnapshot(); err != nil {
		return err
	}
	if err := e.replayLog(); err != nil {
		return err
	}

	f, err := os.OpenFile(e.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("local: open log: %w", err)
	}
	e.logFile = f

	e.term++
	if err := e.persistMetaLocked(); err != nil {
		return err
	}
	e.running = true

	go e.run()
	return nil
}

func (e *Engine) restoreSnapshot() error {
	index, dir, ok, err := latestSnapshot(e.snapDir())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.sm.OnSnapshotLoad(&dirSnapshotReader{dir: dir}); err != nil {
		return fmt.Errorf("local: load snapshot %s: %w", dir, err)
	}
	e.snapshotIndex = index
	e.commitIndex = index
	e.appliedIndex = index
	e.logger.Info("snapshot restored", "index", index)
	return nil
}

func (e *Engine) replayLog() error {
	raw, err := os.ReadFile(e.logPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("local: read log: %w", err)
	}

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("local: decode log record: %w", err)
		}
		if rec.Index <= e.snapshotIndex {
			continue
		}
		e.commitIndex = rec.Index
		e.sm.Apply([]consensus.Entry{{Index: rec.Index, Term: rec.Term, Data: rec.Data}})
		e.appliedIndex = rec.Index
	}
	if e.appliedIndex > e.snapshotIndex {
		e.logger.Info("log replayed", "from", e.snapshotIndex+1, "to", e.appliedIndex)
	}
	return nil
}

func (e *Engine) run() {
	e.mu.Lock()
	conf := consensus.Configuration{Peers: append([]consensus.Peer(nil), e.peers...)}
	term := e.term
	e.mu.Unlock()

	e.sm.OnConfigurationCommitted(conf)
	e.sm.OnLeaderStart(term)

	for {
		select {
		case t := <-e.taskCh:
			e.commit(t)
		case done := <-e.snapCh:
			e.startSnapshot(done)
		case cc := <-e.confCh:
			e.applyConf(cc)
		case <-e.voteCh:
			e.reelect()
		case <-e.stopCh:
			e.shutdownLoop()
			return
		}
	}
}

func (e *Engine) commit(t consensus.Task) {
	e.mu.Lock()
	e.commitIndex++
	rec := logRecord{Index: e.commitIndex, Term: e.term, Data: t.Data}
	if err := e.appendRecordLocked(rec); err != nil {
		e.mu.Unlock()
		e.logger.Error("log append failed", "index", rec.Index, "error", err)
		e.sm.OnError(err)
		if t.Done != nil {
			t.Done.Run(err)
		}
		return
	}
	e.mu.Unlock()

	e.sm.Apply([]consensus.Entry{{Index: rec.Index, Term: rec.Term, Data: rec.Data, Done: t.Done}})

	e.mu.Lock()
	e.appliedIndex = rec.Index
	e.appliedSinceSnap++
	due := e.opts.SnapshotEvery > 0 && e.appliedSinceSnap >= e.opts.SnapshotEvery
	if err := e.persistMetaLocked(); err != nil {
		e.logger.Error("meta persist failed", "error", err)
	}
	e.mu.Unlock()

	if due && !e.snapPending.Load() {
		e.startSnapshot(nil)
	}
}

func (e *Engine) appendRecordLocked(rec logRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := e.logFile.Write(append(raw, '\n')); err != nil {
		return err
	}
	return e.logFile.Sync()
}

func (e *Engine) startSnapshot(done consensus.Closure) {
	if e.snapPending.Swap(true) {
		if done != nil {
			done.Run(ErrSnapshotInFlight)
		}
		return
	}

	e.mu.Lock()
	index := e.appliedIndex
	snapshotIndex := e.snapshotIndex
	e.mu.Unlock()

	// No log growth since the last snapshot means nothing to save. This is
	// why fresh leaders push a dummy write through the log first.
	if index <= snapshotIndex && done == nil {
		e.snapPending.Store(false)
		return
	}

	tmp := filepath.Join(e.snapDir(), fmt.Sprintf("snapshot_%d.tmp", index))
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		e.snapPending.Store(false)
		if done != nil {
			done.Run(err)
		}
		return
	}

	e.logger.Debug("snapshot save starting", "index", index)
	e.sm.OnSnapshotSave(&dirSnapshotWriter{dir: tmp}, consensus.ClosureFunc(func(err error) {
		e.finishSnapshot(index, tmp, err, done)
	}))
}

// finishSnapshot runs on the state machine's background save goroutine.
func (e *Engine) finishSnapshot(index int64, tmp string, saveErr error, done consensus.Closure) {
	defer e.snapPending.Store(false)

	if saveErr == nil {
		final := strings.TrimSuffix(tmp, ".tmp")
		_ = os.RemoveAll(final)
		if err := os.Rename(tmp, final); err != nil {
			saveErr = fmt.Errorf("local: finalize snapshot: %w", err)
		}
	}
	if saveErr != nil {
		_ = os.RemoveAll(tmp)
		e.logger.Error("snapshot save failed", "index", index, "error", saveErr)
		if done != nil {
			done.Run(saveErr)
		}
		return
	}

	e.mu.Lock()
	e.snapshotIndex = index
	e.appliedSinceSnap = 0
	if err := e.compactLogLocked(index); err != nil {
		e.logger.Error("log compaction failed", "error", err)
	}
	if err := e.persistMetaLocked(); err != nil {
		e.logger.Error("meta persist failed", "error", err)
	}
	e.mu.Unlock()

	e.dropOldSnapshots(index)
	e.logger.Info("snapshot saved", "index", index)
	if done != nil {
		done.Run(nil)
	}
}

// compactLogLocked rewrites the log keeping only entries past index.
func (e *Engine) compactLogLocked(index int64) error {
	raw, err := os.ReadFile(e.logPath())
	if err != nil {
		return err
	}
	var kept []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return err
		}
		if rec.Index > index {
			kept = append(kept, line)
		}
	}

	tmp := e.logPath() + ".tmp"
	content := ""
	if len(kept) > 0 {
		content = strings.Join(kept, "\n") + "\n"
	}
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	if err := e.logFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, e.logPath()); err != nil {
		return err
	}
	f, err := os.OpenFile(e.logPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	e.logFile = f
	return nil
}

func (e *Engine) dropOldSnapshots(latest int64) {
	entries, err := os.ReadDir(e.snapDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		index, ok := snapshotDirIndex(entry.Name())
		if ok && index < latest {
			_ = os.RemoveAll(filepath.Join(e.snapDir(), entry.Name()))
		}
	}
}

func (e *Engine) applyConf(cc confChange) {
	e.mu.Lock()
	e.peers = append([]consensus.Peer(nil), cc.conf.Peers...)
	if err := e.persistMetaLocked(); err != nil {
		e.logger.Error("meta persist failed", "error", err)
	}
	e.mu.Unlock()

	e.sm.OnConfigurationCommitted(cc.conf)
	if cc.done != nil {
		cc.done.Run(nil)
	}
}

func (e *Engine) reelect() {
	e.mu.Lock()
	e.term++
	term := e.term
	if err := e.persistMetaLocked(); err != nil {
		e.logger.Error("meta persist failed", "error", err)
	}
	e.mu.Unlock()

	e.sm.OnLeaderStop(errors.New("local: vote triggered"))
	e.sm.OnLeaderStart(term)
}

func (e *Engine) shutdownLoop() {
	// Pending submissions must still complete, with an error.
	for {
		select {
		case t := <-e.taskCh:
			if t.Done != nil {
				t.Done.Run(ErrStopped)
			}
		case done := <-e.snapCh:
			if done != nil {
				done.Run(ErrStopped)
			}
		case cc := <-e.confCh:
			if cc.done != nil {
				cc.done.Run(ErrStopped)
			}
		default:
			e.mu.Lock()
			e.running = false
			if e.logFile != nil {
				_ = e.logFile.Close()
			}
			e.mu.Unlock()
			e.sm.OnLeaderStop(ErrStopped)
			e.sm.OnShutdown()
			close(e.doneCh)
			return
		}
	}
}

// stopped reports whether shutdown has begun. Checked before enqueueing so a
// post-shutdown submission fails instead of landing in a drained channel.
func (e *Engine) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// Submit appends a task to the log. The closure fires with ErrStopped if the
// engine is shutting down.
func (e *Engine) Submit(task consensus.Task) {
	if e.stopped() {
		if task.Done != nil {
			task.Done.Run(ErrStopped)
		}
		return
	}
	select {
	case <-e.stopCh:
		if task.Done != nil {
			task.Done.Run(ErrStopped)
		}
	case e.taskCh <- task:
	}
}

// TriggerSnapshot requests an immediate snapshot save.
func (e *Engine) TriggerSnapshot(done consensus.Closure) {
	if e.stopped() {
		if done != nil {
			done.Run(ErrStopped)
		}
		return
	}
	select {
	case <-e.stopCh:
		if done != nil {
			done.Run(ErrStopped)
		}
	case e.snapCh <- done:
	}
}

// ChangePeers commits a new configuration.
func (e *Engine) ChangePeers(conf consensus.Configuration, done consensus.Closure) {
	if e.stopped() {
		if done != nil {
			done.Run(ErrStopped)
		}
		return
	}
	select {
	case <-e.stopCh:
		if done != nil {
			done.Run(ErrStopped)
		}
	case e.confCh <- confChange{conf: conf, done: done}:
	}
}

// TriggerVote re-elects this node for a fresh term.
func (e *Engine) TriggerVote() error {
	select {
	case <-e.stopCh:
		return ErrStopped
	case e.voteCh <- struct{}{}:
		return nil
	default:
		return nil
	}
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() consensus.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := consensus.Status{
		Term:         e.term,
		CommitIndex:  e.commitIndex,
		AppliedIndex: e.appliedIndex,
		Peers:        append([]consensus.Peer(nil), e.peers...),
	}
	if e.running {
		st.Role = consensus.RoleLeader
		st.LeaderAddr = e.opts.Self.Addr
	} else {
		st.Role = consensus.RoleShutdown
	}
	return st
}

// Shutdown begins engine shutdown. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Join blocks until the engine has fully stopped.
func (e *Engine) Join() {
	<-e.doneCh
}

func (e *Engine) loadMeta() (engineMeta, error) {
	raw, err := os.ReadFile(e.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return engineMeta{}, nil
	}
	if err != nil {
		return engineMeta{}, fmt.Errorf("local: read meta: %w", err)
	}
	var meta engineMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return engineMeta{}, fmt.Errorf("local: decode meta: %w", err)
	}
	return meta, nil
}

func (e *Engine) persistMetaLocked() error {
	meta := engineMeta{
		Term:          e.term,
		AppliedIndex:  e.appliedIndex,
		SnapshotIndex: e.snapshotIndex,
		Peers:         e.peers,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("local: encode meta: %w", err)
	}
	tmp := e.metaPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("local: write meta: %w", err)
	}
	if err := os.Rename(tmp, e.metaPath()); err != nil {
		return fmt.Errorf("local: replace meta: %w", err)
	}
	return nil
}

func latestSnapshot(dir string) (int64, string, bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("local: read snapshot dir: %w", err)
	}

	var indexes []int64
	byIndex := map[int64]string{}
	for _, entry := range entries {
		index, ok := snapshotDirIndex(entry.Name())
		if !ok {
			continue
		}
		indexes = append(indexes, index)
		byIndex[index] = entry.Name()
	}
	if len(indexes) == 0 {
		return 0, "", false, nil
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	latest := indexes[len(indexes)-1]
	return latest, filepath.Join(dir, byIndex[latest]), true, nil
}

func snapshotDirIndex(name string) (int64, bool) {
	if !strings.HasPrefix(name, "snapshot_") || strings.HasSuffix(name, ".tmp") {
		return 0, false
	}
	index, err := strconv.ParseInt(strings.TrimPrefix(name, "snapshot_"), 10, 64)
	if err != nil {
		return 0, false
	}
	return index, true
}
