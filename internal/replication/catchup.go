package replication

import "sync/atomic"

// Tracker decides whether this node's applied log position is close enough to
// the leader's committed position to be trusted for reads.
//
// Two independently configurable thresholds feed the decision: an absolute
// sequence gap under which the node always counts as caught up, and a
// percentage of the leader's committed position the node must have applied.
// The flag is monotone-safe: once caught up, a transient single-entry lag
// does not flip it back. Readiness is only lost when the gap grows past
// twice the absolute floor while also falling under the percentage threshold.
type Tracker struct {
	minSeqDiff   uint64
	thresholdPct uint64
	caughtUp     atomic.Bool
}

// NewTracker creates a tracker with the given absolute gap floor and
// percentage threshold.
func NewTracker(minSeqDiff, thresholdPct uint64) *Tracker {
	return &Tracker{minSeqDiff: minSeqDiff, thresholdPct: thresholdPct}
}

// Observe recomputes the caught-up flag from the node's applied index and the
// leader's last known committed index, and returns the new value.
func (t *Tracker) Observe(applied, leaderCommit int64) bool {
	if leaderCommit <= 0 || applied >= leaderCommit {
		t.caughtUp.Store(true)
		return true
	}

	gap := uint64(leaderCommit - applied)
	pct := uint64(applied * 100 / leaderCommit)

	if gap <= t.minSeqDiff || pct >= t.thresholdPct {
		t.caughtUp.Store(true)
		return true
	}

	// Hysteresis: a node that was ready stays ready until the gap clears
	// twice the floor, so one straggling entry cannot flap readiness.
	if t.caughtUp.Load() && gap <= 2*t.minSeqDiff {
		return true
	}

	t.caughtUp.Store(false)
	return false
}

// IsReady reports the current caught-up state.
func (t *Tracker) IsReady() bool {
	return t.caughtUp.Load()
}
