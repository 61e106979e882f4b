package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DUEDECK_VAULT__MASTER_KEY", testKey)

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "duedeck.db", cfg.DB.Path)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "bolt", cfg.Docstore.Backend)
	assert.Equal(t, "America/New_York", cfg.Location().String())
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlPath := filepath.Join(dir, "duedeck.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
db:
  path: from-file.db
sync:
  concurrency: 2
  timezone: America/Chicago
log:
  format: json
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DUEDECK_VAULT__MASTER_KEY="+testKey+"\nDUEDECK_SYNC__CONCURRENCY=6\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DUEDECK_VAULT__MASTER_KEY"); os.Unsetenv("DUEDECK_SYNC__CONCURRENCY") })

	cfg, err := Load(newFlags(t, "--config", yamlPath, "--db.path", "from-flag.db"))
	require.NoError(t, err)
	assert.Equal(t, "from-flag.db", cfg.DB.Path)
	assert.Equal(t, 6, cfg.Sync.Concurrency)
	assert.Equal(t, "America/Chicago", cfg.Sync.Timezone)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, testKey, cfg.Vault.MasterKey)
}

func TestLoadRejects(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"missing master key", map[string]string{}},
		{"short master key", map[string]string{"DUEDECK_VAULT__MASTER_KEY": "abcd"}},
		{"non hex master key", map[string]string{"DUEDECK_VAULT__MASTER_KEY": strings.Repeat("zz", 32)}},
		{"unknown backend", map[string]string{"DUEDECK_VAULT__MASTER_KEY": testKey, "DUEDECK_DOCSTORE__BACKEND": "s3"}},
		{"b2 without credentials", map[string]string{"DUEDECK_VAULT__MASTER_KEY": testKey, "DUEDECK_DOCSTORE__BACKEND": "b2"}},
		{"bad timezone", map[string]string{"DUEDECK_VAULT__MASTER_KEY": testKey, "DUEDECK_SYNC__TIMEZONE": "Mars/Olympus"}},
		{"zero concurrency", map[string]string{"DUEDECK_VAULT__MASTER_KEY": testKey, "DUEDECK_SYNC__CONCURRENCY": "0"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}
