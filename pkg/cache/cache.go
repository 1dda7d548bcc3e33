// Package cache implements the file-backed, TTL'd response cache.
//
// Each entry is one file under the store root, named solely from the
// request fingerprint (a hex digest), never from user-supplied text. Expiry
// is lazy: a Get on an expired entry reports a miss and removes the stale
// file. Writes become visible only through an atomic rename, so a process
// killed mid-write leaves at most one temp file and never a torn entry.
package cache

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// entrySuffix is appended to the fingerprint to form the entry file name.
const entrySuffix = ".json"

// fingerprintPattern accepts only hex digests. Anything else (traversal
// sequences, absolute paths, encoded separators) is rejected before a path
// is ever built.
var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{16,64}$`)

// namespacePattern restricts the per-connector cache partition name.
var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Entry is the on-disk envelope for one cached payload. Entries are owned
// exclusively by the store; callers receive payload copies, never the entry.
type Entry struct {
	Fingerprint string            `json:"fingerprint"`
	Payload     gojson.RawMessage `json:"payload"`
	CreatedAt   time.Time         `json:"created_at"`
	TTLSeconds  int64             `json:"ttl_seconds"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Stats reports store activity counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Writes    int64 `json:"writes"`
	Evictions int64 `json:"evictions"`
}

// FileStore is a file-backed TTL key/value store partitioned by namespace.
// Concurrent writers to the same fingerprint are resolved last-writer-wins;
// no cross-process locking is attempted at this scale.
type FileStore struct {
	root   string
	logger *zap.Logger
	now    func() time.Time

	stats Stats
}

// Option configures a FileStore
type Option func(*FileStore)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates (and if needed, makes) the cache partition for one
// namespace under root.
func NewFileStore(root, namespace string, log *zap.Logger, opts ...Option) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !namespacePattern.MatchString(namespace) {
		return nil, errors.Newf(errors.ErrorTypeSecurity, "cache namespace %q is not a safe directory name", namespace)
	}

	abs, err := filepath.Abs(filepath.Join(root, namespace))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "resolving cache root")
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "creating cache directory")
	}

	s := &FileStore{
		root:   abs,
		logger: log.With(zap.String("component", "cache"), zap.String("namespace", namespace)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sweepStaging()
	return s, nil
}

// sweepStaging drops staging files orphaned by a process killed before its
// rename. A leftover temp file is never a valid entry.
func (s *FileStore) sweepStaging() {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn("failed to scan cache partition", zap.Error(err))
		return
	}
	for _, de := range dirEntries {
		if de.IsDir() || !isStagingFile(de.Name()) {
			continue
		}
		s.remove(filepath.Join(s.root, de.Name()))
	}
}

// Root returns the absolute partition directory.
func (s *FileStore) Root() string {
	return s.root
}

// Get returns the payload for fingerprint. ok is false on a miss; an
// expired or unreadable entry is a miss and its file is removed. The error
// return is reserved for security violations and unexpected I/O failures.
func (s *FileStore) Get(fingerprint string) (payload []byte, ok bool, err error) {
	path, err := s.entryPath(fingerprint)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is fingerprint-derived and containment-checked
	if err != nil {
		if os.IsNotExist(err) {
			s.stats.Misses++
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, errors.ErrorTypeInternal, "reading cache entry")
	}

	var entry Entry
	if err := gojson.Unmarshal(data, &entry); err != nil || entry.Fingerprint != fingerprint {
		// Corruption is a miss: log it, drop the file, let the request
		// proceed to the network.
		s.logger.Warn("corrupt cache entry dropped",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		s.remove(path)
		s.stats.Misses++
		return nil, false, nil
	}

	if s.now().After(entry.ExpiresAt) {
		s.remove(path)
		s.stats.Misses++
		s.stats.Evictions++
		return nil, false, nil
	}

	s.stats.Hits++
	return entry.Payload, true, nil
}

// Put stores payload under fingerprint with the given TTL. The entry is
// written to a temp file first and renamed into place, so readers never
// observe a partial write.
func (s *FileStore) Put(fingerprint string, payload []byte, ttl time.Duration) error {
	path, err := s.entryPath(fingerprint)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return errors.Newf(errors.ErrorTypeValidation, "cache ttl must be positive, got %s", ttl)
	}

	now := s.now()
	entry := Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		CreatedAt:   now,
		TTLSeconds:  int64(ttl / time.Second),
		ExpiresAt:   now.Add(ttl),
	}

	data, err := gojson.Marshal(&entry)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encoding cache entry")
	}

	tmp, err := os.CreateTemp(s.root, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "staging cache entry")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeInternal, "writing cache entry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeInternal, "flushing cache entry")
	}

	// Atomic publish; last writer wins.
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeInternal, "publishing cache entry")
	}

	s.stats.Writes++
	return nil
}

// Has reports whether an unexpired entry exists for fingerprint. Absence
// and "present but empty payload" are distinct: an entry whose payload is
// empty still reports true. The boolean signature folds failures into
// false, so a key that is not a valid fingerprint also reports false here;
// callers that need the SecurityViolation surfaced use Get or Put, which
// return it.
func (s *FileStore) Has(fingerprint string) bool {
	_, ok, err := s.Get(fingerprint)
	return err == nil && ok
}

// Clear removes every entry in this partition, including any staging
// files left behind by a writer killed before its rename.
func (s *FileStore) Clear() error {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "listing cache directory")
	}

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if !strings.HasSuffix(de.Name(), entrySuffix) && !isStagingFile(de.Name()) {
			continue
		}
		s.remove(filepath.Join(s.root, de.Name()))
	}
	return nil
}

// isStagingFile reports whether name is a CreateTemp staging file from an
// interrupted Put.
func isStagingFile(name string) bool {
	return strings.Contains(name, entrySuffix+".tmp-")
}

// GetStats returns a snapshot of store activity.
func (s *FileStore) GetStats() Stats {
	return s.stats
}

// entryPath maps a fingerprint to its entry file, enforcing two independent
// defenses: the name is accepted only if it is a bare hex digest, and
// the resolved path must stay inside the store root. Escapes surface as
// SecurityViolation, never as a silent correction.
func (s *FileStore) entryPath(fingerprint string) (string, error) {
	if !fingerprintPattern.MatchString(fingerprint) {
		s.logger.Warn("rejected unsafe cache key", zap.Int("key_length", len(fingerprint)))
		return "", errors.New(errors.ErrorTypeSecurity, "cache key is not a fingerprint digest")
	}

	path := filepath.Clean(filepath.Join(s.root, fingerprint+entrySuffix))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		s.logger.Warn("rejected cache path escaping store root")
		return "", errors.New(errors.ErrorTypeSecurity, "cache path escapes store root")
	}
	return path, nil
}

func (s *FileStore) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove cache entry", zap.Error(err))
	}
}
