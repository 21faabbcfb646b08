package replication

import (
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/d-sorokin/replication-lab/internal/consensus"
	"github.com/d-sorokin/replication-lab/internal/consensus/mocks"
)

func TestRefreshNodesSubmitsConfiguration(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s, _ := newTestState(t, Options{NodeID: "n1"})
	engine := mocks.NewMockEngine(ctrl)
	s.Start(engine)

	var proposed consensus.Configuration
	engine.EXPECT().ChangePeers(gomock.Any(), gomock.Any()).Do(func(conf consensus.Configuration, done consensus.Closure) {
		proposed = conf
	})

	if err := s.RefreshNodes("10.0.0.1:8107:8108,10.0.0.2:8107:8108"); err != nil {
		t.Fatalf("RefreshNodes() error = %v", err)
	}
	if len(proposed.Peers) != 2 {
		t.Fatalf("proposed peers = %d, want 2", len(proposed.Peers))
	}

	// The proposal alone must not change the observed peer set; that only
	// happens on commit.
	if got := len(s.Peers()); got != 0 {
		t.Fatalf("peers before commit = %d, want 0", got)
	}

	s.OnConfigurationCommitted(proposed)
	if got := len(s.Peers()); got != 2 {
		t.Fatalf("peers after commit = %d, want 2", got)
	}
}

func TestRefreshNodesRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s, _ := newTestState(t, Options{NodeID: "n1"})
	s.Start(mocks.NewMockEngine(ctrl))

	if err := s.RefreshNodes("definitely-not-peers"); err == nil {
		t.Fatalf("expected error for malformed node list")
	}
	if err := s.RefreshNodes(""); err == nil {
		t.Fatalf("expected error for empty node list")
	}
}

func TestRefreshNodesWithoutEngine(t *testing.T) {
	t.Parallel()

	s, _ := newTestState(t, Options{NodeID: "n1"})

	if err := s.RefreshNodes("10.0.0.1:8107:8108"); err == nil {
		t.Fatalf("expected error when no engine is attached")
	}
}

func TestToNodesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		peeringAddr string
		apiPort     int
		nodes       string
		want        string
	}{
		{
			name:        "empty nodes falls back to self",
			peeringAddr: "127.0.0.1:8107",
			apiPort:     8108,
			nodes:       "",
			want:        "127.0.0.1:8107:8108",
		},
		{
			name:        "whitespace nodes falls back to self",
			peeringAddr: "127.0.0.1:8107",
			apiPort:     8108,
			nodes:       "   ",
			want:        "127.0.0.1:8107:8108",
		},
		{
			name:        "explicit nodes pass through",
			peeringAddr: "127.0.0.1:8107",
			apiPort:     8108,
			nodes:       "10.0.0.1:8107:8108,10.0.0.2:8107:8108",
			want:        "10.0.0.1:8107:8108,10.0.0.2:8107:8108",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ToNodesConfig(tt.peeringAddr, tt.apiPort, tt.nodes); got != tt.want {
				t.Fatalf("ToNodesConfig() = %q, want %q", got, tt.want)
			}
		})
	}
}
