package replication

import (
	"strconv"
	"strings"

	"github.com/d-sorokin/replication-lab/internal/consensus"
)

// RefreshNodes submits a configuration change describing the desired peer
// set. Completion is asynchronous and only logged; the authoritative peer set
// is updated solely through OnConfigurationCommitted, so callers observing
// membership always see the last committed configuration, never an in-flight
// proposal.
func (s *State) RefreshNodes(nodes string) error {
	if s.shutdown.Load() {
		return ErrShutdown
	}
	engine := s.getEngine()
	if engine == nil {
		return ErrShutdown
	}

	conf, err := consensus.ParseConfiguration(nodes)
	if err != nil {
		return err
	}

	s.logger.Info("refreshing nodes", "config", conf.String())
	engine.ChangePeers(conf, &refreshPeersClosure{logger: s.logger})
	return nil
}

// ToNodesConfig derives the canonical node-configuration string. An empty
// initial peer list yields a single-node configuration combining this node's
// peering endpoint and API port.
func ToNodesConfig(peeringAddr string, apiPort int, nodes string) string {
	nodes = strings.TrimSpace(nodes)
	if nodes == "" {
		return peeringAddr + ":" + strconv.Itoa(apiPort)
	}
	return nodes
}
