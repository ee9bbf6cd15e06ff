package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-indexer/domain"
)

const seedYAML = `
- name: Alice
  seek_share: share
  resource_type: GPU cluster
  description: Large GPU cluster for model training
  legacy_embedding: [0.1, 0.2, 0.3]
- name: Bob
  seek_share: share
  resource_type: Quantum computer
  description: Superconducting qubits available for experiments
- name: Carol
  seek_share: seek
  resource_type: GPU
  description: Looking for GPU time for training
`

// setupWorkspace writes a config that keeps every store under a temp dir.
func setupWorkspace(t *testing.T) (configPath, seedPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "indexer.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
sqlite_path: `+filepath.Join(dir, "profiles.db")+`
log_level: error
index:
  backend: badger
  badger_dir: `+filepath.Join(dir, "index")+`
embedding:
  provider: hashing
  dimension: 64
pool:
  workers: 2
  base_backoff: 10ms
reindex:
  concurrency: 2
  lock_path: `+filepath.Join(dir, "reindex.lock")+`
`), 0o644))
	seedPath = filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o644))
	return configPath, seedPath
}

// run executes the root command with fresh flag values.
func run(t *testing.T, args ...string) error {
	t.Helper()
	flagConfigPath, flagJSON = "", false
	flagSeedNoWait = false
	flagIndexForce, flagIndexWait = false, true
	flagReindexForce = false
	flagSearchResourceType, flagSearchIntent, flagSearchExclude, flagSearchLimit = "", domain.IntentSeek, 0, 0
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func openTestApp(t *testing.T, configPath string) *app {
	t.Helper()
	flagConfigPath = configPath
	a, err := newApp(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestParseProfileID(t *testing.T) {
	id, err := parseProfileID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseProfileID(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadSeed(t *testing.T) {
	_, seedPath := setupWorkspace(t)
	profiles, err := loadSeed(seedPath)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "Alice", profiles[0].Name)
	assert.Equal(t, "GPU cluster", profiles[0].ResourceType)
	assert.Equal(t, domain.IntentShare, profiles[0].Intent)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, profiles[0].LegacyEmbedding)
	assert.Empty(t, profiles[1].LegacyEmbedding)
}

func TestLoadSeed_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: not-a-list\n"), 0o644))
	_, err := loadSeed(path)
	assert.Error(t, err)

	_, err = loadSeed(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCommands_EndToEnd(t *testing.T) {
	configPath, seedPath := setupWorkspace(t)

	require.NoError(t, run(t, "seed", seedPath, "--config", configPath))
	require.NoError(t, run(t, "stats", "--config", configPath, "--json"))
	require.NoError(t, run(t, "outdated", "--config", configPath))
	require.NoError(t, run(t, "index", "1", "--config", configPath))
	require.NoError(t, run(t, "index", "1", "--force", "--config", configPath))
	require.NoError(t, run(t, "reindex", "--config", configPath))
	require.NoError(t, run(t, "reindex", "--force", "--config", configPath))
	require.NoError(t, run(t, "search", "GPU", "training", "--resource-type", "gpu", "--config", configPath))

	a := openTestApp(t, configPath)
	ctx := context.Background()

	stats, err := a.indexing.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalProfiles)
	assert.Equal(t, 3, stats.TotalIndexed)
	assert.Equal(t, "healthy", stats.Health)
	assert.Equal(t, map[string]int{"hashing-v1-64": 3}, stats.PerVersionCounts)

	outdated, err := a.indexing.Outdated(ctx)
	require.NoError(t, err)
	assert.Empty(t, outdated)

	// Carol seeks GPUs; only the sharing GPU profile qualifies.
	matches, err := a.search.Search(ctx, domain.SearchRequest{
		QueryText:    "GPU time for training",
		ResourceType: "gpu",
		Intent:       domain.IntentSeek,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Alice", matches[0].Name)
	assert.Equal(t, domain.SourceDedicated, matches[0].Source)
	a.Close()

	require.NoError(t, run(t, "delete", "2", "--config", configPath))
	a = openTestApp(t, configPath)
	stats, err = a.indexing.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProfiles)
	assert.Equal(t, 2, stats.TotalIndexed)
}

func TestCommands_IndexUnknownProfile(t *testing.T) {
	configPath, _ := setupWorkspace(t)
	err := run(t, "index", "99", "--config", configPath)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}
