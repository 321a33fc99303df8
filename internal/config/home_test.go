package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetCodeflowHomeWithEnvVar tests CODEFLOW_HOME env var takes precedence
func TestGetCodeflowHomeWithEnvVar(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "state")
	t.Setenv("CODEFLOW_HOME", custom)

	home, err := GetCodeflowHome()
	require.NoError(t, err)
	assert.Equal(t, custom, home)
	assert.DirExists(t, custom)
}

// TestGetCodeflowHomeFindsProjectRoot tests the walk up to a go.mod
func TestGetCodeflowHomeFindsProjectRoot(t *testing.T) {
	t.Setenv("CODEFLOW_HOME", "")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/x\n"), 0644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	home, err := GetCodeflowHome()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, HomeDirName), resolve(t, home, root))
}

func TestFindProjectRootPrefersMarker(t *testing.T) {
	root := t.TempDir()
	inner := filepath.Join(root, "svc")
	require.NoError(t, os.MkdirAll(inner, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".codeflow-root"), nil, 0644))

	found, err := findProjectRoot(inner)
	require.NoError(t, err)
	assert.Equal(t, root, found)

	require.NoError(t, os.WriteFile(filepath.Join(inner, "go.mod"), []byte("module m\n"), 0644))
	found, err = findProjectRoot(inner)
	require.NoError(t, err)
	assert.Equal(t, inner, found, "nearest directory wins")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CODEFLOW_TEST_DOTENV=from-file\nGITHUB_REPO=acme/fromfile\n"), 0644))

	t.Setenv("GITHUB_REPO", "acme/shell")
	os.Unsetenv("CODEFLOW_TEST_DOTENV")
	t.Cleanup(func() { os.Unsetenv("CODEFLOW_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("CODEFLOW_TEST_DOTENV"))
	assert.Equal(t, "acme/shell", os.Getenv("GITHUB_REPO"), "shell environment wins over .env")
}

func TestLoadResolvesEverything(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CODEFLOW_HOME", home)
	t.Setenv("CODEFLOW_CONFIG", "")
	t.Setenv("TEST_COMMAND", "go test ./...")
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("store:\n  backend: sqlite\n"), 0644))

	cfg, gotHome, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, home, gotHome)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "go test ./...", cfg.Repo.TestCommand)
	assert.Equal(t, filepath.Join(home, "runs.db"), cfg.Store.DBPath)
	assert.Equal(t, filepath.Join(home, "logs"), cfg.LogDir)
}

// resolve evaluates symlinks in both paths so macOS /private/var temp dirs compare equal.
func resolve(t *testing.T, got, root string) string {
	t.Helper()
	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	realGot, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	rel, err := filepath.Rel(realRoot, realGot)
	require.NoError(t, err)
	return filepath.Join(root, rel)
}
