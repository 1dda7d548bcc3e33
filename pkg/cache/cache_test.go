package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/request"
)

func newStore(t *testing.T, opts ...Option) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), "demo", zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return s
}

func fp(params map[string]string) string {
	return request.Fingerprint("demo", "/series", params)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "GDP"})

	require.NoError(t, s.Put(key, []byte(`{"rows":1}`), time.Hour))

	payload, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"rows":1}`, string(payload))
}

func TestGetNeverWrittenIsMiss(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "NEVER"})

	payload, ok, err := s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
	assert.False(t, s.Has(key))
}

func TestHasDistinguishesAbsentFromEmpty(t *testing.T) {
	s := newStore(t)
	empty := fp(map[string]string{"id": "EMPTY"})
	absent := fp(map[string]string{"id": "ABSENT"})

	// A present-but-falsy payload must still report present.
	require.NoError(t, s.Put(empty, []byte(`[]`), time.Hour))

	assert.True(t, s.Has(empty))
	assert.False(t, s.Has(absent))
}

func TestLazyExpiry(t *testing.T) {
	now := time.Now()
	clock := &now
	s := newStore(t, WithClock(func() time.Time { return *clock }))
	key := fp(map[string]string{"id": "TTL"})

	require.NoError(t, s.Put(key, []byte(`1`), time.Second))
	assert.True(t, s.Has(key))

	later := now.Add(1100 * time.Millisecond)
	clock = &later

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must never be returned")

	// The stale file was deleted, not just skipped.
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExpiryWallClock(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "SHORT"})

	require.NoError(t, s.Put(key, []byte(`1`), time.Second))
	assert.True(t, s.Has(key))

	time.Sleep(1100 * time.Millisecond)
	assert.False(t, s.Has(key))
}

func TestUnsafeKeysRaiseSecurityViolation(t *testing.T) {
	s := newStore(t)

	unsafe := []string{
		"../escape",
		"../../etc/passwd",
		"/etc/passwd",
		"..%2f..%2fescape",
		"abc/../def",
		"ABCDEF0123456789", // uppercase is not a digest we produce
		"short",
		"",
	}

	for _, key := range unsafe {
		_, _, err := s.Get(key)
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.IsType(err, errors.ErrorTypeSecurity), "key %q", key)

		err = s.Put(key, []byte(`x`), time.Hour)
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.IsType(err, errors.ErrorTypeSecurity), "key %q", key)
	}

	// Nothing escaped the root.
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnsafeNamespaceRejected(t *testing.T) {
	_, err := NewFileStore(t.TempDir(), "../outside", zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSecurity))
}

func TestCorruptEntryIsMissAndDeleted(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "CORRUPT"})

	require.NoError(t, s.Put(key, []byte(`{"good":true}`), time.Hour))

	path := filepath.Join(s.Root(), key+entrySuffix)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupted file must be deleted")
}

func TestLastWriterWins(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "RACE"})

	require.NoError(t, s.Put(key, []byte(`"first"`), time.Hour))
	require.NoError(t, s.Put(key, []byte(`"second"`), time.Hour))

	payload, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"second"`, string(payload))
}

func TestPutRejectsNonPositiveTTL(t *testing.T) {
	s := newStore(t)
	err := s.Put(fp(map[string]string{"id": "X"}), []byte(`1`), 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestClear(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, s.Put(fp(map[string]string{"id": id}), []byte(`1`), time.Hour))
	}

	require.NoError(t, s.Clear())
	assert.False(t, s.Has(fp(map[string]string{"id": "A"})))

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClearRemovesStagingResidue(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "KEPT"})
	require.NoError(t, s.Put(key, []byte(`1`), time.Hour))

	// Simulate a writer killed between CreateTemp and Rename.
	orphan := filepath.Join(s.Root(), key+entrySuffix+".tmp-123456")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o600))

	require.NoError(t, s.Clear())

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "staging residue must not survive Clear")
}

func TestOpenSweepsStagingResidue(t *testing.T) {
	root := t.TempDir()
	first, err := NewFileStore(root, "demo", zaptest.NewLogger(t))
	require.NoError(t, err)

	key := fp(map[string]string{"id": "KEPT"})
	require.NoError(t, first.Put(key, []byte(`1`), time.Hour))
	orphan := filepath.Join(first.Root(), key+entrySuffix+".tmp-abc999")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o600))

	// Reopening the partition drops the orphan but keeps real entries.
	second, err := NewFileStore(root, "demo", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, statErr := os.Stat(orphan)
	assert.True(t, os.IsNotExist(statErr))
	assert.True(t, second.Has(key))
}

func TestHasFoldsUnsafeKeyIntoFalse(t *testing.T) {
	s := newStore(t)

	// Get surfaces the violation; the boolean Has can only report false.
	_, _, err := s.Get("../escape")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSecurity))
	assert.False(t, s.Has("../escape"))
}

func TestNamespacePartitioning(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileStore(root, "fred", zaptest.NewLogger(t))
	require.NoError(t, err)
	b, err := NewFileStore(root, "worldbank", zaptest.NewLogger(t))
	require.NoError(t, err)

	key := request.Fingerprint("shared", "/e", nil)
	require.NoError(t, a.Put(key, []byte(`"a"`), time.Hour))

	assert.True(t, a.Has(key))
	assert.False(t, b.Has(key), "partitions must not share entries")
}

func TestNoPartialWritesVisible(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "ATOMIC"})
	require.NoError(t, s.Put(key, []byte(`{"v":1}`), time.Hour))

	// Only the renamed entry exists; no temp residue after a clean write.
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key+entrySuffix, entries[0].Name())
}

func TestStats(t *testing.T) {
	s := newStore(t)
	key := fp(map[string]string{"id": "STATS"})

	s.Get(key)
	require.NoError(t, s.Put(key, []byte(`1`), time.Hour))
	s.Get(key)

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Writes)
}
