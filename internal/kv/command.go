// Package kv implements the Pebble-backed key-value storage engine applied by
// the replication layer.
package kv

// CommandType identifies a KV operation encoded in the replicated log.
type CommandType string

// Supported KV commands. NoopCmd is used by dummy writes that exist only to
// advance the log position.
const (
	PutCmd    CommandType = "put"
	DeleteCmd CommandType = "delete"
	NoopCmd   CommandType = "noop"
)

// Command is the serialized operation applied to the KV store.
type Command struct {
	Type  CommandType `json:"type"`
	Key   string      `json:"key"`
	Value string      `json:"value,omitempty"`
}
