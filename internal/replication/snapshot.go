package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/d-sorokin/replication-lab/internal/consensus"
)

const (
	dbSnapshotName     = "db_snapshot"
	descriptorFileName = "descriptor.json"
)

// snapshotDescriptor is the small metadata file written alongside the storage
// checkpoint. It enumerates the snapshot's file members and the applied log
// index the checkpoint corresponds to.
type snapshotDescriptor struct {
	AppliedIndex int64    `json:"applied_index"`
	CreatedAt    int64    `json:"created_at"`
	Files        []string `json:"files"`
}

// snapshotJob bundles everything one background save needs. It is built fresh
// per attempt, owned exclusively by the save goroutine, and discarded after
// the done closure fires.
type snapshotJob struct {
	writer          consensus.SnapshotWriter
	checkpointPath  string
	extSnapshotPath string
	appliedIndex    int64
	done            consensus.Closure
}

// OnSnapshotSave is invoked by the engine when a snapshot is due. The actual
// checkpoint-and-copy work runs on a background goroutine so the engine's
// apply goroutine is never blocked on filesystem I/O. The engine enforces at
// most one save in flight by not calling again until done fires.
func (s *State) OnSnapshotSave(w consensus.SnapshotWriter, done consensus.Closure) {
	if s.shutdown.Load() {
		done.Run(ErrShutdown)
		return
	}
	job := &snapshotJob{
		writer:          w,
		checkpointPath:  filepath.Join(w.Path(), dbSnapshotName),
		extSnapshotPath: s.extPath(),
		appliedIndex:    s.appliedIndex.Load(),
		done:            done,
	}
	go s.saveSnapshot(job)
}

func (s *State) saveSnapshot(job *snapshotJob) {
	_, span := s.startSpan(context.Background(), "replication.saveSnapshot",
		attribute.Int64("log.index", job.appliedIndex),
	)
	defer span.End()
	start := time.Now()

	err := s.buildSnapshot(job)
	result := "ok"
	if err != nil {
		result = "error"
		spanRecordError(span, err)
		s.logger.Error("snapshot save failed", "error", err)
	} else {
		s.logger.Info("snapshot save succeeded", "applied_index", job.appliedIndex)
	}
	s.metrics.ObserveSnapshotSave(s.opts.NodeID, time.Since(start), result)
	job.done.Run(err)
}

func (s *State) buildSnapshot(job *snapshotJob) error {
	if err := s.store.Checkpoint(job.checkpointPath); err != nil {
		return err
	}

	var members []string
	root := job.writer.Path()
	err := filepath.WalkDir(job.checkpointPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		members = append(members, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replication: enumerate checkpoint: %w", err)
	}

	desc := snapshotDescriptor{
		AppliedIndex: job.appliedIndex,
		CreatedAt:    time.Now().Unix(),
		Files:        members,
	}
	raw, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("replication: encode descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, descriptorFileName), raw, 0o644); err != nil {
		return fmt.Errorf("replication: write descriptor: %w", err)
	}

	if err := job.writer.AddFile(descriptorFileName); err != nil {
		return fmt.Errorf("replication: register descriptor: %w", err)
	}
	var total int64
	for _, member := range members {
		if err := job.writer.AddFile(member); err != nil {
			return fmt.Errorf("replication: register %s: %w", member, err)
		}
		if info, statErr := os.Stat(filepath.Join(root, member)); statErr == nil {
			total += info.Size()
		}
	}
	s.metrics.ObserveSnapshotSaveBytes(s.opts.NodeID, total)

	if job.extSnapshotPath != "" {
		if err := copyTree(root, job.extSnapshotPath); err != nil {
			return fmt.Errorf("replication: copy snapshot to %s: %w", job.extSnapshotPath, err)
		}
	}
	return nil
}

// OnSnapshotLoad restores state from a snapshot: validates the descriptor and
// the storage checkpoint it names, then atomically swaps the live storage
// handle. A non-nil return aborts node startup; serving from unverified state
// would violate correctness.
func (s *State) OnSnapshotLoad(r consensus.SnapshotReader) error {
	_, span := s.startSpan(context.Background(), "replication.loadSnapshot")
	defer span.End()

	raw, err := os.ReadFile(filepath.Join(r.Path(), descriptorFileName))
	if err != nil {
		s.metrics.IncSnapshotLoad(s.opts.NodeID, "error")
		spanRecordError(span, err)
		return fmt.Errorf("replication: read descriptor: %w", err)
	}
	var desc snapshotDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		s.metrics.IncSnapshotLoad(s.opts.NodeID, "error")
		spanRecordError(span, err)
		return fmt.Errorf("replication: decode descriptor: %w", err)
	}

	for _, member := range desc.Files {
		if _, err := os.Stat(filepath.Join(r.Path(), member)); err != nil {
			s.metrics.IncSnapshotLoad(s.opts.NodeID, "error")
			spanRecordError(span, err)
			return fmt.Errorf("replication: snapshot member %s missing: %w", member, err)
		}
	}

	checkpointDir := filepath.Join(r.Path(), dbSnapshotName)
	if err := s.store.Restore(checkpointDir); err != nil {
		s.metrics.IncSnapshotLoad(s.opts.NodeID, "error")
		spanRecordError(span, err)
		return err
	}

	s.appliedIndex.Store(desc.AppliedIndex)
	s.initSnapshotDone.Store(true)
	s.metrics.IncSnapshotLoad(s.opts.NodeID, "ok")
	s.logger.Info("snapshot loaded", "applied_index", desc.AppliedIndex)
	span.SetAttributes(attribute.Int64("log.index", desc.AppliedIndex))
	s.Notify()
	return nil
}

// DoSnapshot handles an operator-triggered snapshot. It requests a save
// through the engine and completes res when the asynchronous save finishes;
// if snapshotPath is set, the finished snapshot is also copied there.
func (s *State) DoSnapshot(snapshotPath string, res *Response) {
	if s.shutdown.Load() {
		res.Fail(http.StatusServiceUnavailable, ErrShutdown)
		res.signal()
		return
	}
	engine := s.getEngine()
	if engine == nil {
		res.Fail(http.StatusServiceUnavailable, ErrShutdown)
		res.signal()
		return
	}
	if snapshotPath != "" {
		if err := os.MkdirAll(snapshotPath, 0o755); err != nil {
			res.Fail(http.StatusBadRequest, err)
			res.signal()
			return
		}
	}
	s.setExtSnapshotPath(snapshotPath)
	s.logger.Info("on-demand snapshot requested", "path", snapshotPath)
	engine.TriggerSnapshot(&onDemandSnapshotClosure{state: s, res: res})
}

// maybeTriggerInitSnapshot takes the lazy one-time startup snapshot that
// guarantees a baseline exists even for a brand-new single-node cluster.
func (s *State) maybeTriggerInitSnapshot(_ context.Context) {
	if s.initSnapshotDone.Swap(true) {
		return
	}
	engine := s.getEngine()
	if engine == nil {
		s.initSnapshotDone.Store(false)
		return
	}
	s.logger.Info("triggering init snapshot")
	engine.TriggerSnapshot(&initSnapshotClosure{state: s})
}

// SetExtSnapshotPath records an externally supplied destination for the next
// snapshot save.
func (s *State) SetExtSnapshotPath(path string) {
	s.setExtSnapshotPath(path)
}

func (s *State) setExtSnapshotPath(path string) {
	s.extMu.Lock()
	s.extSnapshotPath = path
	s.extMu.Unlock()
}

func (s *State) extPath() string {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	return s.extSnapshotPath
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
}
