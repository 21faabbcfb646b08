package kv

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCommand(t *testing.T, cmd Command) []byte {
	t.Helper()
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	return raw
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreApplyPutGetDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	require.NoError(t, s.Apply(mustCommand(t, Command{Type: PutCmd, Key: "alpha", Value: "1"})))
	require.NoError(t, s.Apply(mustCommand(t, Command{Type: PutCmd, Key: "alpha", Value: "2"})))

	val, found, err := s.Get("alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", val)

	require.NoError(t, s.Apply(mustCommand(t, Command{Type: DeleteCmd, Key: "alpha"})))
	_, found, err = s.Get("alpha")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreGetMissingKey(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, found, err := s.Get("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreApplyNoopLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	require.NoError(t, s.Apply(mustCommand(t, Command{Type: PutCmd, Key: "k", Value: "v"})))
	require.NoError(t, s.Apply(mustCommand(t, Command{Type: NoopCmd})))

	val, found, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", val)
}

func TestStoreApplyRejectsBadCommands(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.Apply([]byte("not json"))
	require.ErrorIs(t, err, ErrBadCommand)

	err = s.Apply(mustCommand(t, Command{Type: "compact", Key: "k"}))
	require.ErrorIs(t, err, ErrBadCommand)
}

func TestStoreCheckpointRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	require.NoError(t, s.Apply(mustCommand(t, Command{Type: PutCmd, Key: "a", Value: "1"})))
	require.NoError(t, s.Apply(mustCommand(t, Command{Type: PutCmd, Key: "b", Value: "2"})))

	checkpoint := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, s.Checkpoint(checkpoint))

	// Mutations after the checkpoint must vanish on restore.
	require.NoError(t, s.Apply(mustCommand(t, Command{Type: PutCmd, Key: "c", Value: "3"})))
	require.NoError(t, s.Apply(mustCommand(t, Command{Type: DeleteCmd, Key: "a"})))

	require.NoError(t, s.Restore(checkpoint))

	val, found, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", val)

	val, found, err = s.Get("b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", val)

	_, found, err = s.Get("c")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreRestoreFailureKeepsServingInstance(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	require.NoError(t, s.Apply(mustCommand(t, Command{Type: PutCmd, Key: "k", Value: "v"})))

	err := s.Restore(filepath.Join(t.TempDir(), "no-such-checkpoint"))
	require.Error(t, err)

	val, found, getErr := s.Get("k")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "v", val)
}

func TestStoreRestoreSwapsDir(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	before := s.Dir()
	checkpoint := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, s.Checkpoint(checkpoint))
	require.NoError(t, s.Restore(checkpoint))
	assert.NotEqual(t, before, s.Dir())
}
