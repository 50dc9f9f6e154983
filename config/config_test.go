package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.NoError(t, err)
	assert.Equal(t, "default", f.Manager.Name)
	assert.Equal(t, 3, f.Manager.MaxPoolSize)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manager.toml")
	contents := `
[manager]
name = "worker-pool-a"
resource_type = "worker"
max_pool_size = 5
min_pool_size = 1
pool_check_interval = "15s"

[resource]
script_dir_path = "/srv/scripts"
script_files = ["entrypoint.js"]
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	f, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "worker-pool-a", f.Manager.Name)
	assert.Equal(t, 5, f.Manager.MaxPoolSize)
	assert.Equal(t, 1, f.Manager.MinPoolSize)
	assert.Equal(t, []string{"entrypoint.js"}, f.Resource.ScriptFiles)

	opts, err := f.Options()
	assert.NoError(t, err)
	assert.True(t, len(opts) >= 4)
}

func TestLoadFlatFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manager.conf")
	contents := "manager.name = worker-pool-b\nmanager.max_pool_size = 4\nresource.namespace = staging\n"
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	f, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "worker-pool-b", f.Manager.Name)
	assert.Equal(t, 4, f.Manager.MaxPoolSize)
	assert.Equal(t, "staging", f.Resource.Namespace)
}

func TestValidateRejectsMissingName(t *testing.T) {
	f := DefaultFile()
	f.Manager.Name = ""
	assert.Error(t, f.Validate())
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.toml")

	f := DefaultFile()
	f.Manager.Name = "round-trip"
	assert.NoError(t, Save(f, path))

	loaded, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "round-trip", loaded.Manager.Name)
}
