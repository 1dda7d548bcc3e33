package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

func noEnv(string) (string, bool) { return "", false }

func envWith(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func noHome() (string, error) { return "", os.ErrNotExist }

func TestResolveConstructorWins(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t),
		WithExplicitValue("ctor-secret"),
		WithLookupEnv(envWith(map[string]string{"FRED_API_KEY": "env-secret"})),
		WithHomeDir(noHome),
	)

	cred, err := r.Resolve("fred", true)
	require.NoError(t, err)
	assert.Equal(t, "ctor-secret", cred.Value)
	assert.Equal(t, SourceConstructor, cred.Source)
	assert.False(t, cred.ResolvedAt.IsZero())
}

func TestResolveFromEnv(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t),
		WithLookupEnv(envWith(map[string]string{"FRED_API_KEY": "env-secret"})),
		WithHomeDir(noHome),
	)

	cred, err := r.Resolve("fred", true)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cred.Value)
	assert.Equal(t, SourceEnv, cred.Source)
}

func TestResolveFromOverrideFile(t *testing.T) {
	// Override path to a file containing "MY API KEY: abc123",
	// no constructor value, no environment variable.
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("OTHER API KEY: nope\nMY API KEY: abc123\n"), 0o600))

	r := NewResolver(zaptest.NewLogger(t),
		WithLookupEnv(envWith(map[string]string{DefaultOverridePathEnv: path})),
		WithHomeDir(noHome),
	)

	cred, err := r.Resolve("my", true)
	require.NoError(t, err)
	assert.Equal(t, "abc123", cred.Value)
	assert.Equal(t, SourceFile, cred.Source)
}

func TestResolveFromHomeLocation(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".krl"), 0o700))
	path := filepath.Join(home, ".krl", DefaultKeyFileName)
	require.NoError(t, os.WriteFile(path, []byte("FRED API KEY: home-secret\n"), 0o600))

	r := NewResolver(zaptest.NewLogger(t),
		WithLookupEnv(noEnv),
		WithHomeDir(func() (string, error) { return home, nil }),
	)

	cred, err := r.Resolve("fred", true)
	require.NoError(t, err)
	assert.Equal(t, "home-secret", cred.Value)
	assert.Equal(t, SourceFile, cred.Source)
}

func TestResolveFromRelativeConfigDir(t *testing.T) {
	work := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(work, "config"), 0o700))
	path := filepath.Join(work, "config", DefaultKeyFileName)
	require.NoError(t, os.WriteFile(path, []byte("BLS API KEY: rel-secret\n"), 0o600))

	r := NewResolver(zaptest.NewLogger(t),
		WithLookupEnv(noEnv),
		WithHomeDir(noHome),
		WithWorkDir(work),
	)

	cred, err := r.Resolve("bls", true)
	require.NoError(t, err)
	assert.Equal(t, "rel-secret", cred.Value)
}

func TestFileKeyIsCaseSensitiveFirstMatchWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	content := "fred api key: lowercase-ignored\nFRED API KEY: first\nFRED API KEY: second\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r := NewResolver(zaptest.NewLogger(t),
		WithLookupEnv(envWith(map[string]string{DefaultOverridePathEnv: path})),
		WithHomeDir(noHome),
	)

	cred, err := r.Resolve("fred", true)
	require.NoError(t, err)
	assert.Equal(t, "first", cred.Value)
}

func TestMissingFileLocationsAreNotErrors(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t),
		WithLookupEnv(envWith(map[string]string{DefaultOverridePathEnv: "/nonexistent/keys.txt"})),
		WithHomeDir(noHome),
		WithWorkDir(t.TempDir()),
	)

	cred, err := r.Resolve("fred", false)
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestRequiredUnresolvedFails(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t), WithLookupEnv(noEnv), WithHomeDir(noHome))

	_, err := r.Resolve("fred", true)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingCredential))
	// The error names the lookup locations but never a secret value.
	assert.Contains(t, err.Error(), "FRED_API_KEY")
}

func TestResolveCachesUntilRefresh(t *testing.T) {
	vars := map[string]string{"FRED_API_KEY": "v1"}
	r := NewResolver(zaptest.NewLogger(t), WithLookupEnv(envWith(vars)), WithHomeDir(noHome))

	first, err := r.Resolve("fred", true)
	require.NoError(t, err)
	assert.Equal(t, "v1", first.Value)

	vars["FRED_API_KEY"] = "v2"
	cached, err := r.Resolve("fred", true)
	require.NoError(t, err)
	assert.Equal(t, "v1", cached.Value, "resolution happens at most once per construction")

	refreshed, err := r.Refresh("fred", true)
	require.NoError(t, err)
	assert.Equal(t, "v2", refreshed.Value)
}

func TestNameNormalization(t *testing.T) {
	assert.Equal(t, "FRED_API_KEY", EnvVarFor("fred"))
	assert.Equal(t, "WORLD_BANK_API_KEY", EnvVarFor("world-bank"))
	assert.Equal(t, "FRED API KEY", FileKeyFor("fred"))
	assert.Equal(t, "WORLD BANK API KEY", FileKeyFor("world_bank"))
}
