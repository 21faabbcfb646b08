package app

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config contains runtime settings for a node process.
type Config struct {
	NodeID   string
	LogLevel string

	// APIAddr is the public HTTP API listen address.
	APIAddr string
	// PeeringAddr is the consensus peering endpoint for this node.
	PeeringAddr string
	// DataDir is the node state directory (log, meta, snapshot, db).
	DataDir string
	// Nodes is the initial peer list in canonical
	// "host:peering_port:api_port" comma-separated form. Empty means a
	// single-node cluster derived from PeeringAddr and APIAddr.
	Nodes string

	// ElectionTimeoutMS is handed to the consensus engine.
	ElectionTimeoutMS int
	// SnapshotEvery triggers a snapshot after this many applied entries.
	// Zero disables automatic snapshots.
	SnapshotEvery uint64

	CatchupMinSeqDiff   uint64
	CatchupThresholdPct uint64

	APIUsesTLS         bool
	CreateInitSnapshot bool

	MetricsAddr        string
	PprofAddr          string
	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
}

// DefaultConfig returns a local-development configuration.
func DefaultConfig() Config {
	return Config{
		NodeID:              "node-1",
		LogLevel:            "info",
		APIAddr:             ":8108",
		PeeringAddr:         "127.0.0.1:8107",
		DataDir:             "./var/node-1",
		ElectionTimeoutMS:   2000,
		SnapshotEvery:       1000,
		CatchupMinSeqDiff:   0,
		CatchupThresholdPct: 95,
		CreateInitSnapshot:  true,
		TracingServiceName:  "replication-lab",
	}
}

// LoadConfigFromEnv loads config from REPL_-prefixed environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	readString(&cfg.NodeID, "REPL_NODE_ID")
	readString(&cfg.LogLevel, "REPL_LOG_LEVEL")
	readString(&cfg.APIAddr, "REPL_API_ADDR")
	readString(&cfg.PeeringAddr, "REPL_PEERING_ADDR")
	readString(&cfg.DataDir, "REPL_DATA_DIR")
	readString(&cfg.Nodes, "REPL_NODES")
	readString(&cfg.MetricsAddr, "REPL_METRICS_ADDR")
	readString(&cfg.PprofAddr, "REPL_PPROF_ADDR")
	readString(&cfg.TracingEndpoint, "REPL_TRACING_ENDPOINT")
	readString(&cfg.TracingServiceName, "REPL_TRACING_SERVICE_NAME")

	if err := readInt(&cfg.ElectionTimeoutMS, "REPL_ELECTION_TIMEOUT_MS"); err != nil {
		return Config{}, err
	}
	if err := readUint(&cfg.SnapshotEvery, "REPL_SNAPSHOT_EVERY"); err != nil {
		return Config{}, err
	}
	if err := readUint(&cfg.CatchupMinSeqDiff, "REPL_CATCHUP_MIN_SEQ_DIFF"); err != nil {
		return Config{}, err
	}
	if err := readUint(&cfg.CatchupThresholdPct, "REPL_CATCHUP_THRESHOLD_PCT"); err != nil {
		return Config{}, err
	}
	if err := readBool(&cfg.APIUsesTLS, "REPL_API_USES_TLS"); err != nil {
		return Config{}, err
	}
	if err := readBool(&cfg.CreateInitSnapshot, "REPL_INIT_SNAPSHOT"); err != nil {
		return Config{}, err
	}
	if err := readBool(&cfg.TracingEnabled, "REPL_TRACING_ENABLED"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and consistent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("app: node id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app: unsupported log level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.APIAddr) == "" {
		return fmt.Errorf("app: api addr is required")
	}
	if strings.TrimSpace(c.PeeringAddr) == "" {
		return fmt.Errorf("app: peering addr is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("app: data dir is required")
	}
	if c.CatchupThresholdPct > 100 {
		return fmt.Errorf("app: catchup threshold must be a percentage, got %d", c.CatchupThresholdPct)
	}
	if _, err := c.APIPort(); err != nil {
		return err
	}
	return nil
}

// APIPort extracts the port of the public API listen address.
func (c Config) APIPort() (int, error) {
	_, portStr, err := net.SplitHostPort(c.APIAddr)
	if err != nil {
		return 0, fmt.Errorf("app: invalid api addr %q: %w", c.APIAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("app: invalid api port %q: %w", portStr, err)
	}
	return port, nil
}

func readString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("app: invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func readUint(dst *uint64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("app: invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func readBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("app: invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}
