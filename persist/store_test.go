package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Cycles  int64  `json:"cycles"`
	Payload string `json:"payload"`
}

func parseTestState(data []byte) (int64, error) {
	var s testState
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, err
	}
	if s.Payload == "" {
		return 0, fmt.Errorf("missing payload")
	}
	return s.Cycles, nil
}

func encodeTestState(t *testing.T, cycles int64) []byte {
	t.Helper()
	data, err := json.Marshal(testState{Cycles: cycles, Payload: "ok"})
	require.NoError(t, err)
	return data
}

func newTestStore(t *testing.T, backups int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	return NewStore(path, backups, parseTestState, zerolog.Nop())
}

func TestCommitThenLoad(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 3)
	data := encodeTestState(t, 7)
	require.NoError(t, s.Commit(data))

	res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, data, res.Data)
	assert.False(t, res.Fresh)
	assert.False(t, res.FromBackup)
	assert.Equal(t, s.Path(), res.Source)

	// No staging leftover after a clean commit.
	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCommitRotatesBackups(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 2)
	for c := int64(1); c <= 4; c++ {
		require.NoError(t, s.Commit(encodeTestState(t, c)))
	}

	canonical, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	cyc, err := parseTestState(canonical)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cyc)

	for gen, want := range map[int]int64{1: 3, 2: 2} {
		data, err := os.ReadFile(fmt.Sprintf("%s.bak.%d", s.Path(), gen))
		require.NoError(t, err)
		cyc, err := parseTestState(data)
		require.NoError(t, err)
		assert.Equal(t, want, cyc, "bak.%d", gen)
	}

	// Retention is bounded: bak.3 never appears with backups=2.
	_, err = os.Stat(s.Path() + ".bak.3")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadFallsBackToBackupOnTruncation(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 3)
	for c := int64(1); c <= 3; c++ {
		require.NoError(t, s.Commit(encodeTestState(t, c)))
	}

	// Simulate a torn write on the canonical file.
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"cycles":3,"pay`), 0644))

	res, err := s.Load()
	require.NoError(t, err)
	assert.True(t, res.FromBackup)
	assert.Equal(t, s.Path()+".bak.1", res.Source)
	cyc, err := parseTestState(res.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cyc)
	assert.Equal(t, int64(1), res.CyclesLost)
}

func TestLoadSkipsCorruptBackup(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 3)
	for c := int64(1); c <= 3; c++ {
		require.NoError(t, s.Commit(encodeTestState(t, c)))
	}

	// Canonical and newest backup both torn: recovery lands on bak.2.
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(s.Path()+".bak.1", []byte("garbage"), 0644))

	res, err := s.Load()
	require.NoError(t, err)
	assert.True(t, res.FromBackup)
	assert.Equal(t, s.Path()+".bak.2", res.Source)
	cyc, err := parseTestState(res.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cyc)
	assert.Equal(t, int64(1), res.CyclesLost)
}

func TestLoadNothingReadableIsDataLoss(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 3)

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	// An unreadable canonical file without backups is loss too, never a
	// fresh start.
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0644))
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestFreshMarkerAllowsEmptyState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 3)
	require.NoError(t, s.MarkFresh())

	res, err := s.Load()
	require.NoError(t, err)
	assert.True(t, res.Fresh)
	assert.Nil(t, res.Data)

	// The first durable commit retires the marker.
	require.NoError(t, s.Commit(encodeTestState(t, 1)))
	_, err = os.Stat(s.Path() + ".fresh")
	assert.True(t, os.IsNotExist(err))

	res, err = s.Load()
	require.NoError(t, err)
	assert.False(t, res.Fresh)
}

func TestFreshMarkerIgnoredWhenBackupsExist(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 3)
	require.NoError(t, s.Commit(encodeTestState(t, 5)))
	require.NoError(t, s.Commit(encodeTestState(t, 6)))

	// A stray marker plus existing (even unreadable) state is an
	// inconsistency, not permission to start empty.
	require.NoError(t, s.MarkFresh())
	require.NoError(t, os.Remove(s.Path()))
	require.NoError(t, os.WriteFile(s.Path()+".bak.1", []byte("garbage"), 0644))

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestCommitVerificationFailure(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)

	err := s.Commit([]byte(`{"cycles":1}`)) // parse rejects missing payload

	var cve *CommitVerificationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, s.Path(), cve.Path)
}

func TestAdvisoryLockFailsFast(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	a := NewStore(path, 0, parseTestState, zerolog.Nop())
	b := NewStore(path, 0, parseTestState, zerolog.Nop())

	require.NoError(t, a.Acquire())
	t.Cleanup(func() { _ = a.Release() })

	err := b.Acquire()
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, a.Release())
	assert.NoError(t, b.Acquire())
	assert.NoError(t, b.Release())
}

func TestZeroBackupsDisablesRotation(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	require.NoError(t, s.Commit(encodeTestState(t, 1)))
	require.NoError(t, s.Commit(encodeTestState(t, 2)))

	_, err := os.Stat(s.Path() + ".bak.1")
	assert.True(t, os.IsNotExist(err))
}
