package consensus

import (
	"reflect"
	"testing"
)

func TestParsePeer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Peer
		wantErr bool
	}{
		{
			name: "canonical form",
			raw:  "10.0.0.1:8107:8108",
			want: Peer{Addr: "10.0.0.1:8107", APIPort: 8108},
		},
		{
			name: "hostname",
			raw:  "node-a.internal:7000:7001",
			want: Peer{Addr: "node-a.internal:7000", APIPort: 7001},
		},
		{
			name: "surrounding whitespace",
			raw:  "  127.0.0.1:8107:8108 ",
			want: Peer{Addr: "127.0.0.1:8107", APIPort: 8108},
		},
		{name: "missing api port", raw: "10.0.0.1:8107", wantErr: true},
		{name: "missing peering port", raw: "host:8108", wantErr: true},
		{name: "non-numeric api port", raw: "10.0.0.1:8107:api", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "trailing colon", raw: "10.0.0.1:8107:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePeer(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePeer(%q) expected error, got %+v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePeer(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParsePeer(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPeerStringRoundTrip(t *testing.T) {
	t.Parallel()

	p := Peer{Addr: "10.0.0.1:8107", APIPort: 8108}
	if got := p.String(); got != "10.0.0.1:8107:8108" {
		t.Fatalf("String() = %q, want %q", got, "10.0.0.1:8107:8108")
	}
	back, err := ParsePeer(p.String())
	if err != nil {
		t.Fatalf("ParsePeer(String()) error = %v", err)
	}
	if back != p {
		t.Fatalf("round trip = %+v, want %+v", back, p)
	}
}

func TestPeerAPIAddr(t *testing.T) {
	t.Parallel()

	p := Peer{Addr: "10.0.0.1:8107", APIPort: 8108}
	if got := p.APIAddr(); got != "10.0.0.1:8108" {
		t.Fatalf("APIAddr() = %q, want %q", got, "10.0.0.1:8108")
	}
}

func TestParseConfiguration(t *testing.T) {
	t.Parallel()

	conf, err := ParseConfiguration("10.0.0.1:8107:8108, 10.0.0.2:8107:8108,10.0.0.3:8107:8108")
	if err != nil {
		t.Fatalf("ParseConfiguration() error = %v", err)
	}
	want := []Peer{
		{Addr: "10.0.0.1:8107", APIPort: 8108},
		{Addr: "10.0.0.2:8107", APIPort: 8108},
		{Addr: "10.0.0.3:8107", APIPort: 8108},
	}
	if !reflect.DeepEqual(conf.Peers, want) {
		t.Fatalf("peers = %+v, want %+v", conf.Peers, want)
	}
	if got := conf.String(); got != "10.0.0.1:8107:8108,10.0.0.2:8107:8108,10.0.0.3:8107:8108" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseConfigurationRejectsEmptyAndMalformed(t *testing.T) {
	t.Parallel()

	if _, err := ParseConfiguration(""); err == nil {
		t.Fatalf("expected error for empty configuration")
	}
	if _, err := ParseConfiguration(" , "); err == nil {
		t.Fatalf("expected error for blank configuration")
	}
	if _, err := ParseConfiguration("10.0.0.1:8107:8108,bogus"); err == nil {
		t.Fatalf("expected error for malformed peer")
	}
}

func TestStatusLeaderPeer(t *testing.T) {
	t.Parallel()

	peers := []Peer{
		{Addr: "10.0.0.1:8107", APIPort: 8108},
		{Addr: "10.0.0.2:8107", APIPort: 9108},
	}

	st := Status{Role: RoleFollower, LeaderAddr: "10.0.0.2:8107", Peers: peers}
	leader, ok := st.LeaderPeer()
	if !ok {
		t.Fatalf("expected leader peer")
	}
	if leader.APIPort != 9108 {
		t.Fatalf("leader api port = %d, want 9108", leader.APIPort)
	}

	st.LeaderAddr = ""
	if _, ok := st.LeaderPeer(); ok {
		t.Fatalf("expected no leader peer when leader addr empty")
	}

	st.LeaderAddr = "10.0.0.9:8107"
	if _, ok := st.LeaderPeer(); ok {
		t.Fatalf("expected no leader peer when leader not in peer set")
	}
}
