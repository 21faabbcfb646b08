package local

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/d-sorokin/replication-lab/internal/consensus"
)

// recordingSM is a scripted state machine for engine tests. Applied entries
// are recorded and announced on a channel; snapshots persist the applied
// history to a single file so restore can be verified end to end.
type recordingSM struct {
	mu       sync.Mutex
	applied  []consensus.Entry
	starts   []int64
	stops    []error
	confs    []consensus.Configuration
	shutdown bool
	restored []consensus.Entry

	appliedCh chan int64
	saveCh    chan savedSnapshot

	// holdSaves keeps OnSnapshotSave from completing until the test releases
	// the captured closure, to exercise the one-save-in-flight guard.
	holdSaves bool
	heldCh    chan heldSave
}

type savedSnapshot struct {
	path string
}

type heldSave struct {
	writer consensus.SnapshotWriter
	done   consensus.Closure
}

type snapshotState struct {
	Entries []consensus.Entry `json:"entries"`
}

func newRecordingSM() *recordingSM {
	return &recordingSM{
		appliedCh: make(chan int64, 256),
		saveCh:    make(chan savedSnapshot, 8),
		heldCh:    make(chan heldSave, 8),
	}
}

func (f *recordingSM) Apply(entries []consensus.Entry) {
	f.mu.Lock()
	for _, e := range entries {
		f.applied = append(f.applied, consensus.Entry{Index: e.Index, Term: e.Term, Data: append([]byte(nil), e.Data...)})
	}
	f.mu.Unlock()
	for _, e := range entries {
		if e.Done != nil {
			e.Done.Run(nil)
		}
		f.appliedCh <- e.Index
	}
}

func (f *recordingSM) OnSnapshotSave(w consensus.SnapshotWriter, done consensus.Closure) {
	if f.holdSaves {
		f.heldCh <- heldSave{writer: w, done: done}
		return
	}
	f.completeSave(w, done)
}

func (f *recordingSM) completeSave(w consensus.SnapshotWriter, done consensus.Closure) {
	f.mu.Lock()
	state := snapshotState{Entries: append([]consensus.Entry(nil), f.applied...)}
	f.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		done.Run(err)
		return
	}
	if err := os.WriteFile(filepath.Join(w.Path(), "state.json"), raw, 0o644); err != nil {
		done.Run(err)
		return
	}
	if err := w.AddFile("state.json"); err != nil {
		done.Run(err)
		return
	}
	f.saveCh <- savedSnapshot{path: w.Path()}
	done.Run(nil)
}

func (f *recordingSM) OnSnapshotLoad(r consensus.SnapshotReader) error {
	raw, err := os.ReadFile(filepath.Join(r.Path(), "state.json"))
	if err != nil {
		return err
	}
	var state snapshotState
	if err := json.Unmarshal(raw, &state); err != nil {
		return err
	}
	f.mu.Lock()
	f.restored = state.Entries
	f.applied = append([]consensus.Entry(nil), state.Entries...)
	f.mu.Unlock()
	return nil
}

func (f *recordingSM) OnLeaderStart(term int64) {
	f.mu.Lock()
	f.starts = append(f.starts, term)
	f.mu.Unlock()
}

func (f *recordingSM) OnLeaderStop(reason error) {
	f.mu.Lock()
	f.stops = append(f.stops, reason)
	f.mu.Unlock()
}

func (f *recordingSM) OnConfigurationCommitted(conf consensus.Configuration) {
	f.mu.Lock()
	f.confs = append(f.confs, conf)
	f.mu.Unlock()
}

func (f *recordingSM) OnStartFollowing(consensus.LeaderChange) {}
func (f *recordingSM) OnStopFollowing(consensus.LeaderChange)  {}

func (f *recordingSM) OnShutdown() {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
}

func (f *recordingSM) OnError(error) {}

func (f *recordingSM) appliedEntries() []consensus.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]consensus.Entry(nil), f.applied...)
}

func (f *recordingSM) waitApplied(t *testing.T, index int64) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-f.appliedCh:
			if got >= index {
				return
			}
		case <-deadline:
			t.Fatalf("entry %d never applied", index)
		}
	}
}

func (f *recordingSM) waitSave(t *testing.T) savedSnapshot {
	t.Helper()
	select {
	case s := <-f.saveCh:
		return s
	case <-time.After(5 * time.Second):
		t.Fatalf("snapshot save never completed")
		return savedSnapshot{}
	}
}

// doneRecorder records closure outcomes for submitted tasks.
type doneRecorder struct {
	ch chan error
}

func newDoneRecorder() *doneRecorder { return &doneRecorder{ch: make(chan error, 1)} }

func (d *doneRecorder) Run(err error) { d.ch <- err }

func (d *doneRecorder) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-d.ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("closure never fired")
		return nil
	}
}

func testOptions(dir string) Options {
	return Options{
		Dir:  dir,
		Self: consensus.Peer{Addr: "127.0.0.1:8107", APIPort: 8108},
	}
}

func startEngine(t *testing.T, opts Options, sm consensus.StateMachine) *Engine {
	t.Helper()
	e, err := New(opts, sm, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return e
}

func TestEngineCommitsInOrderWithClosures(t *testing.T) {
	t.Parallel()

	sm := newRecordingSM()
	e := startEngine(t, testOptions(t.TempDir()), sm)
	defer func() { e.Shutdown(); e.Join() }()

	dones := make([]*doneRecorder, 3)
	for i := range dones {
		dones[i] = newDoneRecorder()
		e.Submit(consensus.Task{Data: []byte{byte('a' + i)}, Done: dones[i]})
	}
	for _, d := range dones {
		if err := d.wait(t); err != nil {
			t.Fatalf("task error = %v", err)
		}
	}
	sm.waitApplied(t, 3)

	applied := sm.appliedEntries()
	if len(applied) != 3 {
		t.Fatalf("applied = %d entries, want 3", len(applied))
	}
	for i, entry := range applied {
		if entry.Index != int64(i+1) {
			t.Fatalf("entry %d has index %d, want %d", i, entry.Index, i+1)
		}
		if string(entry.Data) != string([]byte{byte('a' + i)}) {
			t.Fatalf("entry %d data = %q", i, entry.Data)
		}
	}

	st := e.Status()
	if st.Role != consensus.RoleLeader {
		t.Fatalf("role = %q, want leader", st.Role)
	}
	if st.CommitIndex != 3 || st.AppliedIndex != 3 {
		t.Fatalf("status = %+v, want commit/applied 3", st)
	}
}

func TestEngineStartAnnouncesLeadershipAndConfig(t *testing.T) {
	t.Parallel()

	sm := newRecordingSM()
	conf, err := consensus.ParseConfiguration("127.0.0.1:8107:8108")
	if err != nil {
		t.Fatalf("ParseConfiguration() error = %v", err)
	}
	opts := testOptions(t.TempDir())
	opts.Config = conf

	e := startEngine(t, opts, sm)
	defer func() { e.Shutdown(); e.Join() }()

	// The run loop fires the callbacks asynchronously right after Start.
	deadline := time.Now().Add(5 * time.Second)
	for {
		sm.mu.Lock()
		started := len(sm.starts) > 0 && len(sm.confs) > 0
		sm.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("leadership callbacks never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.starts[0] < 1 {
		t.Fatalf("leader term = %d, want >= 1", sm.starts[0])
	}
	if len(sm.confs[0].Peers) != 1 {
		t.Fatalf("initial config peers = %d, want 1", len(sm.confs[0].Peers))
	}
}

func TestEngineRestartReplaysLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	sm := newRecordingSM()
	e := startEngine(t, testOptions(dir), sm)
	for i := 0; i < 3; i++ {
		d := newDoneRecorder()
		e.Submit(consensus.Task{Data: []byte("payload"), Done: d})
		if err := d.wait(t); err != nil {
			t.Fatalf("task error = %v", err)
		}
	}
	firstTerm := e.Status().Term
	e.Shutdown()
	e.Join()

	sm2 := newRecordingSM()
	e2 := startEngine(t, testOptions(dir), sm2)
	defer func() { e2.Shutdown(); e2.Join() }()

	applied := sm2.appliedEntries()
	if len(applied) != 3 {
		t.Fatalf("replayed = %d entries, want 3", len(applied))
	}
	for i, entry := range applied {
		if entry.Index != int64(i+1) {
			t.Fatalf("replayed entry %d has index %d", i, entry.Index)
		}
		if string(entry.Data) != "payload" {
			t.Fatalf("replayed entry %d data = %q", i, entry.Data)
		}
	}

	st := e2.Status()
	if st.CommitIndex != 3 || st.AppliedIndex != 3 {
		t.Fatalf("status after restart = %+v", st)
	}
	if st.Term <= firstTerm {
		t.Fatalf("term after restart = %d, want > %d", st.Term, firstTerm)
	}
}

func TestEngineAutoSnapshotCompactsAndRecovers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := testOptions(dir)
	opts.SnapshotEvery = 3

	sm := newRecordingSM()
	e := startEngine(t, opts, sm)

	for i := 0; i < 4; i++ {
		d := newDoneRecorder()
		e.Submit(consensus.Task{Data: []byte{byte('0' + i)}, Done: d})
		if err := d.wait(t); err != nil {
			t.Fatalf("task error = %v", err)
		}
	}
	saved := sm.waitSave(t)
	if saved.path == "" {
		t.Fatalf("no snapshot saved")
	}
	e.Shutdown()
	e.Join()

	// The finalized snapshot directory must exist without the .tmp suffix.
	if _, err := os.Stat(filepath.Join(dir, "snapshot", "snapshot_3")); err != nil {
		t.Fatalf("finalized snapshot missing: %v", err)
	}

	sm2 := newRecordingSM()
	e2 := startEngine(t, opts, sm2)
	defer func() { e2.Shutdown(); e2.Join() }()

	sm2.mu.Lock()
	restored := len(sm2.restored)
	sm2.mu.Unlock()
	if restored != 3 {
		t.Fatalf("restored %d entries from snapshot, want 3", restored)
	}

	// Only entry 4 lives past the snapshot, so replay adds exactly one.
	applied := sm2.appliedEntries()
	if len(applied) != 4 {
		t.Fatalf("entries after restore+replay = %d, want 4", len(applied))
	}
	if applied[3].Index != 4 {
		t.Fatalf("replayed entry index = %d, want 4", applied[3].Index)
	}
}

func TestEngineRejectsConcurrentSnapshots(t *testing.T) {
	t.Parallel()

	sm := newRecordingSM()
	sm.holdSaves = true
	e := startEngine(t, testOptions(t.TempDir()), sm)
	defer func() { e.Shutdown(); e.Join() }()

	d := newDoneRecorder()
	e.Submit(consensus.Task{Data: []byte("x"), Done: d})
	if err := d.wait(t); err != nil {
		t.Fatalf("task error = %v", err)
	}

	first := newDoneRecorder()
	e.TriggerSnapshot(first)

	var held heldSave
	select {
	case held = <-sm.heldCh:
	case <-time.After(5 * time.Second):
		t.Fatalf("snapshot save never requested")
	}

	second := newDoneRecorder()
	e.TriggerSnapshot(second)
	if err := second.wait(t); !errors.Is(err, ErrSnapshotInFlight) {
		t.Fatalf("second snapshot error = %v, want ErrSnapshotInFlight", err)
	}

	sm.completeSave(held.writer, held.done)
	if err := first.wait(t); err != nil {
		t.Fatalf("first snapshot error = %v", err)
	}
}

func TestEngineChangePeersCommitsAndPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sm := newRecordingSM()
	e := startEngine(t, testOptions(dir), sm)

	conf, err := consensus.ParseConfiguration("10.0.0.1:8107:8108,10.0.0.2:8107:8108")
	if err != nil {
		t.Fatalf("ParseConfiguration() error = %v", err)
	}
	d := newDoneRecorder()
	e.ChangePeers(conf, d)
	if err := d.wait(t); err != nil {
		t.Fatalf("ChangePeers() closure error = %v", err)
	}

	if got := len(e.Status().Peers); got != 2 {
		t.Fatalf("peers = %d, want 2", got)
	}
	e.Shutdown()
	e.Join()

	sm2 := newRecordingSM()
	e2 := startEngine(t, testOptions(dir), sm2)
	defer func() { e2.Shutdown(); e2.Join() }()

	if got := len(e2.Status().Peers); got != 2 {
		t.Fatalf("peers after restart = %d, want 2 (persisted)", got)
	}
}

func TestEngineTriggerVoteReelects(t *testing.T) {
	t.Parallel()

	sm := newRecordingSM()
	e := startEngine(t, testOptions(t.TempDir()), sm)
	defer func() { e.Shutdown(); e.Join() }()

	before := e.Status().Term
	if err := e.TriggerVote(); err != nil {
		t.Fatalf("TriggerVote() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for e.Status().Term <= before {
		if time.Now().After(deadline) {
			t.Fatalf("term never advanced past %d", before)
		}
		time.Sleep(10 * time.Millisecond)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.stops) == 0 || len(sm.starts) < 2 {
		t.Fatalf("expected step-down and re-start callbacks, got stops=%d starts=%d", len(sm.stops), len(sm.starts))
	}
}

func TestEngineShutdownFailsPendingWork(t *testing.T) {
	t.Parallel()

	sm := newRecordingSM()
	e := startEngine(t, testOptions(t.TempDir()), sm)

	e.Shutdown()

	d := newDoneRecorder()
	e.Submit(consensus.Task{Data: []byte("late"), Done: d})
	if err := d.wait(t); !errors.Is(err, ErrStopped) {
		t.Fatalf("late submit error = %v, want ErrStopped", err)
	}

	snapDone := newDoneRecorder()
	e.TriggerSnapshot(snapDone)
	if err := snapDone.wait(t); !errors.Is(err, ErrStopped) {
		t.Fatalf("late snapshot error = %v, want ErrStopped", err)
	}

	e.Join()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.shutdown {
		t.Fatalf("OnShutdown never fired")
	}
	if len(sm.stops) == 0 || !errors.Is(sm.stops[len(sm.stops)-1], ErrStopped) {
		t.Fatalf("expected OnLeaderStop(ErrStopped), got %v", sm.stops)
	}
	if e.Status().Role != consensus.RoleShutdown {
		t.Fatalf("role = %q, want shutdown", e.Status().Role)
	}
}
