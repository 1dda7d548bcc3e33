// Package credentials resolves API keys for connector instances.
//
// A credential is looked up in a fixed order: the value supplied at
// construction, the environment variable <NAME>_API_KEY, and finally a
// line-oriented key file discovered on disk. Resolution happens once per
// connector construction and is reused until Refresh is called.
package credentials

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// Source identifies where a credential value was resolved from
type Source string

const (
	// SourceConstructor means the value was passed explicitly at construction
	SourceConstructor Source = "constructor"
	// SourceEnv means the value came from an environment variable
	SourceEnv Source = "env"
	// SourceFile means the value came from a discovered key file
	SourceFile Source = "file"
)

// DefaultOverridePathEnv names the environment variable that points at an
// explicit key file, taking precedence over the well-known locations.
const DefaultOverridePathEnv = "KRL_API_KEY_FILE"

// DefaultKeyFileName is the file name scanned for in the well-known locations.
const DefaultKeyFileName = "api_keys.txt"

// Credential is an immutable resolved secret. It is created once per
// connector construction and never mutated afterwards.
type Credential struct {
	Name       string
	Value      string
	Source     Source
	ResolvedAt time.Time
}

// Resolver resolves named credentials. A zero Resolver is not usable;
// construct one with NewResolver.
type Resolver struct {
	explicit        string
	overridePathEnv string
	fileName        string
	workDir         string

	// Indirections for tests
	lookupEnv func(string) (string, bool)
	homeDir   func() (string, error)

	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*Credential
}

// Option configures a Resolver
type Option func(*Resolver)

// WithExplicitValue supplies a constructor-time credential value, which
// always wins over environment and file lookup.
func WithExplicitValue(value string) Option {
	return func(r *Resolver) { r.explicit = value }
}

// WithOverridePathEnv overrides the environment variable consulted for an
// explicit key-file path.
func WithOverridePathEnv(name string) Option {
	return func(r *Resolver) { r.overridePathEnv = name }
}

// WithKeyFileName overrides the key file name scanned for in the well-known
// locations.
func WithKeyFileName(name string) Option {
	return func(r *Resolver) { r.fileName = name }
}

// WithWorkDir overrides the directory the relative ./config fallback is
// resolved against. Defaults to the process working directory.
func WithWorkDir(dir string) Option {
	return func(r *Resolver) { r.workDir = dir }
}

// WithLookupEnv replaces the environment lookup, for tests.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

// WithHomeDir replaces home directory discovery, for tests.
func WithHomeDir(fn func() (string, error)) Option {
	return func(r *Resolver) { r.homeDir = fn }
}

// NewResolver creates a credential resolver
func NewResolver(log *zap.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{
		overridePathEnv: DefaultOverridePathEnv,
		fileName:        DefaultKeyFileName,
		lookupEnv:       os.LookupEnv,
		homeDir:         os.UserHomeDir,
		logger:          log.With(zap.String("component", "credentials")),
		cache:           make(map[string]*Credential),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves the named credential, returning the cached result when
// the name was already resolved for this resolver. When required is false
// and no value can be found, Resolve returns (nil, nil).
func (r *Resolver) Resolve(name string, required bool) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cred, ok := r.cache[name]; ok {
		return cred, nil
	}
	return r.resolveLocked(name, required)
}

// Refresh discards any cached resolution for name and resolves it again.
func (r *Resolver) Refresh(name string, required bool) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cache, name)
	return r.resolveLocked(name, required)
}

func (r *Resolver) resolveLocked(name string, required bool) (*Credential, error) {
	// Only the resolution source is ever logged, never the value.
	if r.explicit != "" {
		return r.store(name, r.explicit, SourceConstructor), nil
	}

	envVar := EnvVarFor(name)
	if value, ok := r.lookupEnv(envVar); ok && value != "" {
		return r.store(name, value, SourceEnv), nil
	}

	if value, ok := r.scanKeyFiles(name); ok {
		return r.store(name, value, SourceFile), nil
	}

	if required {
		return nil, errors.Newf(errors.ErrorTypeMissingCredential,
			"credential %q unresolved: no constructor value, %s unset, no key file entry", name, envVar)
	}

	r.logger.Debug("credential not found, proceeding unauthenticated", zap.String("name", name))
	return nil, nil
}

func (r *Resolver) store(name, value string, source Source) *Credential {
	cred := &Credential{
		Name:       name,
		Value:      value,
		Source:     source,
		ResolvedAt: time.Now(),
	}
	r.cache[name] = cred
	r.logger.Info("credential resolved",
		zap.String("name", name),
		zap.String("source", string(source)))
	return cred
}

// scanKeyFiles searches the candidate key files in order and returns the
// first value found for name. A missing file at any single location is not
// an error; the scan simply moves on.
func (r *Resolver) scanKeyFiles(name string) (string, bool) {
	for _, path := range r.searchPaths() {
		value, ok, err := lookupInFile(path, FileKeyFor(name))
		if err != nil {
			r.logger.Warn("skipping unreadable key file", zap.String("path", path), zap.Error(err))
			continue
		}
		if ok {
			return value, true
		}
	}
	return "", false
}

// searchPaths returns candidate key file paths in resolution order:
// the override-path environment variable, the well-known home locations,
// then the relative ./config fallback.
func (r *Resolver) searchPaths() []string {
	var paths []string

	if override, ok := r.lookupEnv(r.overridePathEnv); ok && override != "" {
		paths = append(paths, override)
	}

	if home, err := r.homeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".krl", r.fileName),
			filepath.Join(home, ".config", "krl", r.fileName),
		)
	}

	workDir := r.workDir
	if workDir == "" {
		workDir = "."
	}
	paths = append(paths, filepath.Join(workDir, "config", r.fileName))

	return paths
}

// EnvVarFor returns the environment variable consulted for name,
// e.g. "fred" -> "FRED_API_KEY".
func EnvVarFor(name string) string {
	return normalizeName(name, "_") + "_API_KEY"
}

// FileKeyFor returns the key-file entry key for name,
// e.g. "fred" -> "FRED API KEY".
func FileKeyFor(name string) string {
	return normalizeName(name, " ") + " API KEY"
}

func normalizeName(name, sep string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	fields := strings.FieldsFunc(upper, func(c rune) bool {
		return c == ' ' || c == '-' || c == '_' || c == '.'
	})
	return strings.Join(fields, sep)
}

// lookupInFile scans a line-oriented key file for the given key. Lines have
// the form "KEY NAME: value"; keys are case-sensitive, the first match wins,
// and there is no comment syntax.
func lookupInFile(path, key string) (string, bool, error) {
	f, err := os.Open(path) //nolint:gosec // G304: paths come from a fixed search list
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		if strings.TrimSpace(line[:idx]) != key {
			continue
		}
		return strings.TrimSpace(line[idx+1:]), true, nil
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
