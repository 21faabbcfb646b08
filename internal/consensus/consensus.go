// Package consensus defines the boundary between the replicated state machine
// and the consensus engine that orders writes across the cluster.
//
// The engine owns leader election, log replication, and quorum commitment. The
// replication layer implements StateMachine and registers it once; the engine
// invokes the callbacks serially from its own apply goroutine.
package consensus

import (
	"fmt"
	"strconv"
	"strings"
)

// Closure is a single-use completion callback carried across an asynchronous
// consensus operation. Run fires exactly once, with a nil error on success.
// After Run returns the closure must not be touched again.
type Closure interface {
	Run(err error)
}

// ClosureFunc adapts a plain function to the Closure interface.
type ClosureFunc func(err error)

// Run invokes the wrapped function.
func (f ClosureFunc) Run(err error) { f(err) }

// Task couples a serialized log entry with the closure that reports its
// outcome. Ownership of Done transfers to the engine at submission; the
// engine guarantees Done fires exactly once, including on leadership loss
// or engine shutdown.
type Task struct {
	Data []byte
	Done Closure
}

// Entry is one committed log entry handed to the state machine, in strict
// log order. Done is non-nil only when this node originated the entry.
type Entry struct {
	Index int64
	Term  int64
	Data  []byte
	Done  Closure
}

// SnapshotWriter stages files for a snapshot being saved. The engine owns the
// staging directory; the state machine places files under Path and registers
// each member with AddFile so the engine can ship them to lagging peers.
type SnapshotWriter interface {
	Path() string
	AddFile(name string) error
}

// SnapshotReader exposes a snapshot being restored.
type SnapshotReader interface {
	Path() string
	ListFiles() []string
}

// Role is the node's current consensus role.
type Role string

// Consensus roles.
const (
	RoleLeader    Role = "leader"
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleShutdown  Role = "shutdown"
)

// Peer identifies a cluster member: its peering endpoint plus the port the
// public API listens on. The API port rides along so followers can forward
// writes to the leader without a separate discovery mechanism.
type Peer struct {
	Addr    string // host:port peering endpoint
	APIPort int
}

// String renders the canonical "host:peering_port:api_port" form.
func (p Peer) String() string {
	return p.Addr + ":" + strconv.Itoa(p.APIPort)
}

// APIAddr returns the peer's API endpoint as host:port.
func (p Peer) APIAddr() string {
	host := p.Addr
	if i := strings.LastIndex(p.Addr, ":"); i >= 0 {
		host = p.Addr[:i]
	}
	return host + ":" + strconv.Itoa(p.APIPort)
}

// ParsePeer parses the canonical "host:peering_port:api_port" form.
func ParsePeer(raw string) (Peer, error) {
	raw = strings.TrimSpace(raw)
	i := strings.LastIndex(raw, ":")
	if i <= 0 || i == len(raw)-1 {
		return Peer{}, fmt.Errorf("consensus: invalid peer %q", raw)
	}
	apiPort, err := strconv.Atoi(raw[i+1:])
	if err != nil {
		return Peer{}, fmt.Errorf("consensus: invalid api port in peer %q: %w", raw, err)
	}
	addr := raw[:i]
	if !strings.Contains(addr, ":") {
		return Peer{}, fmt.Errorf("consensus: peer %q missing peering port", raw)
	}
	return Peer{Addr: addr, APIPort: apiPort}, nil
}

// Configuration is a committed cluster peer set. It is replaced wholesale on
// every configuration-commit event and never partially mutated.
type Configuration struct {
	Peers []Peer
}

// String renders the comma-separated canonical node-configuration form.
func (c Configuration) String() string {
	parts := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, ",")
}

// ParseConfiguration parses a comma-separated list of canonical peer strings.
func ParseConfiguration(raw string) (Configuration, error) {
	var conf Configuration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		peer, err := ParsePeer(part)
		if err != nil {
			return Configuration{}, err
		}
		conf.Peers = append(conf.Peers, peer)
	}
	if len(conf.Peers) == 0 {
		return Configuration{}, fmt.Errorf("consensus: empty configuration %q", raw)
	}
	return conf, nil
}

// LeaderChange describes a leadership transition observed by a follower.
type LeaderChange struct {
	LeaderAddr string
	Term       int64
	Reason     string
}

// Status is a point-in-time view of the engine's state.
type Status struct {
	Role         Role
	Term         int64
	LeaderAddr   string // peering endpoint of the known leader, "" if none
	CommitIndex  int64
	AppliedIndex int64
	Peers        []Peer
}

// LeaderPeer returns the peer record for the current leader, if known.
func (s Status) LeaderPeer() (Peer, bool) {
	if s.LeaderAddr == "" {
		return Peer{}, false
	}
	for _, p := range s.Peers {
		if p.Addr == s.LeaderAddr {
			return p, true
		}
	}
	return Peer{}, false
}

// StateMachine is the callback surface the replication layer registers with
// the engine. The engine invokes Apply, OnSnapshotSave, OnSnapshotLoad, and
// the leadership callbacks serially with respect to each other from its apply
// goroutine; implementations must not block on work the engine itself is
// waiting on.
type StateMachine interface {
	// Apply executes committed entries in strict log order, exactly once each.
	Apply(entries []Entry)

	// OnSnapshotSave saves a consistent snapshot through w and fires done
	// exactly once when finished. The engine does not request another save
	// until done fires.
	OnSnapshotSave(w SnapshotWriter, done Closure)

	// OnSnapshotLoad restores state from r. A non-nil error is fatal: the
	// node must not serve from unverified state.
	OnSnapshotLoad(r SnapshotReader) error

	OnLeaderStart(term int64)
	OnLeaderStop(reason error)
	OnConfigurationCommitted(conf Configuration)
	OnStartFollowing(change LeaderChange)
	OnStopFollowing(change LeaderChange)
	OnShutdown()
	OnError(err error)
}

// Engine is the outward-facing contract of the consensus engine.
type Engine interface {
	// Submit appends a task to the replicated log. Completion is always
	// delivered asynchronously through the task's closure; Submit itself
	// never blocks on log commitment.
	Submit(task Task)

	// TriggerSnapshot requests an immediate snapshot save. done may be nil.
	TriggerSnapshot(done Closure)

	// ChangePeers proposes a new cluster configuration. The closure fires
	// when the change is committed or rejected.
	ChangePeers(conf Configuration, done Closure)

	// TriggerVote forces a new election.
	TriggerVote() error

	Status() Status
	Shutdown()
	// Join blocks until the engine has fully stopped.
	Join()
}
