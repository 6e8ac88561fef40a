package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	hkerrors "github.com/yakovlev-alexey/hot-keeper/internal/platform/errors"
)

func setupProject(t *testing.T) (dir, entry string) {
	t.Helper()
	dir = t.TempDir()
	entry = filepath.Join(dir, "src", "app")
	require.NoError(t, os.MkdirAll(entry, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(entry, "main.go"), []byte("package main\n"), 0o644))
	return dir, entry
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ptr[T any](v T) *T { return &v }

func TestLoad_Defaults(t *testing.T) {
	dir, entry := setupProject(t)

	cfg, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir})
	require.NoError(t, err)

	assert.Equal(t, entry, cfg.EntryPath)
	assert.Equal(t, 3000, cfg.Port)
	assert.False(t, cfg.Secure)
	assert.Equal(t, []string{"./"}, cfg.Watch)
	assert.Equal(t, []string{"node_modules", ".git"}, cfg.ExcludeWatch)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.CleanupTimeout)
	assert.Equal(t, time.Duration(0), cfg.Debounce)
	assert.NotEmpty(t, cfg.WorkDir)
}

func TestLoad_DefaultJSONFile(t *testing.T) {
	dir, _ := setupProject(t)
	writeFile(t, filepath.Join(dir, "hot-keeper.json"), `{
  "port": 4000,
  "watch": ["./src"],
  "excludeWatch": ["./src/ignored"],
  "shutdownTimeout": "2s"
}`)

	cfg, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir})
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, []string{"./src"}, cfg.Watch)
	assert.Equal(t, []string{"./src/ignored"}, cfg.ExcludeWatch)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_ExplicitYAMLFile(t *testing.T) {
	dir, _ := setupProject(t)
	writeFile(t, filepath.Join(dir, "dev.yaml"), `
secure: true
port: 8443
certs:
  cert: ./certs/cert.pem
  key: ./certs/key.pem
adminPort: 9090
logFormat: json
`)

	cfg, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir, ConfigPath: "dev.yaml"})
	require.NoError(t, err)

	assert.True(t, cfg.Secure)
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, 9090, cfg.AdminPort)
	cert, key := cfg.CertPaths()
	assert.Equal(t, filepath.Join(dir, "certs", "cert.pem"), cert)
	assert.Equal(t, filepath.Join(dir, "certs", "key.pem"), key)
}

func TestLoad_MissingExplicitFileFallsBackToDefaults(t *testing.T) {
	dir, _ := setupProject(t)

	cfg, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir, ConfigPath: "missing.json"})
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
}

func TestLoad_MalformedExplicitFileIsInvalid(t *testing.T) {
	dir, _ := setupProject(t)
	writeFile(t, filepath.Join(dir, "broken.json"), `{"port": [}`)

	_, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir, ConfigPath: "broken.json"})
	require.Error(t, err)
	assert.True(t, hkerrors.IsKind(err, hkerrors.KindConfigInvalid))
}

func TestLoad_SingleWatchPath(t *testing.T) {
	dir, _ := setupProject(t)
	writeFile(t, filepath.Join(dir, "hot-keeper.yaml"), "watch: ./src\nexcludeWatch: ./src/tmp\n")

	cfg, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir})
	require.NoError(t, err)

	assert.Equal(t, []string{"./src"}, cfg.Watch)
	assert.Equal(t, []string{"./src/tmp"}, cfg.ExcludeWatch)
}

func TestLoad_UndecodableDefaultFileLeavesDefaults(t *testing.T) {
	dir, _ := setupProject(t)
	writeFile(t, filepath.Join(dir, "hot-keeper.yaml"), "port: 4000\nsecure: maybe\nwatch: [./src]\n")

	cfg, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.False(t, cfg.Secure)
	assert.Equal(t, []string{"./"}, cfg.Watch)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir, _ := setupProject(t)
	writeFile(t, filepath.Join(dir, "hot-keeper.json"), `{"port": 4000}`)
	t.Setenv("HOT_KEEPER_PORT", "5000")
	t.Setenv("HOT_KEEPER_EXCLUDE_WATCH", "vendor,tmp")
	t.Setenv("HOT_KEEPER_LOG_LEVEL", "debug")

	cfg, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir})
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, []string{"vendor", "tmp"}, cfg.ExcludeWatch)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidEnvironmentNumber(t *testing.T) {
	dir, _ := setupProject(t)
	t.Setenv("HOT_KEEPER_PORT", "three thousand")

	_, err := Load(LoadOptions{EntryPath: "src/app", BaseDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOT_KEEPER_PORT must be a number")
}

func TestLoad_CommandLineOverridesEverything(t *testing.T) {
	dir, _ := setupProject(t)
	writeFile(t, filepath.Join(dir, "hot-keeper.json"), `{"port": 4000, "watch": ["./lib"]}`)
	t.Setenv("HOT_KEEPER_PORT", "5000")

	cfg, err := Load(LoadOptions{
		EntryPath: "src/app",
		BaseDir:   dir,
		Overrides: Overrides{
			Port:     ptr(6000),
			Watch:    []string{"./src"},
			Debounce: ptr(200 * time.Millisecond),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, []string{"./src"}, cfg.Watch)
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce)
}

func TestValidate(t *testing.T) {
	dir, entry := setupProject(t)

	valid := func() *Config {
		cfg := Default()
		cfg.BaseDir = dir
		cfg.EntryPath = entry
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, "port must be between 1 and 65535"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port must be between 1 and 65535"},
		{"no watch paths", func(c *Config) { c.Watch = nil }, "at least one watch path is required"},
		{"secure without key", func(c *Config) { c.Secure = true; c.Certs.Cert = "cert.pem" }, "HTTPS requires both cert and key files"},
		{"secure without cert", func(c *Config) { c.Secure = true; c.Certs.Key = "key.pem" }, "HTTPS requires both cert and key files"},
		{"admin port clash", func(c *Config) { c.AdminPort = c.Port }, "admin port must differ"},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "timeouts must be positive"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format must be text or json"},
		{"missing entry", func(c *Config) { c.EntryPath = filepath.Join(dir, "nope") }, "entry file not found"},
		{"entry outside watch", func(c *Config) { c.Watch = []string{"./lib"} }, "not under any watch path"},
		{"entry excluded", func(c *Config) { c.ExcludeWatch = []string{"src"} }, "not under any watch path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, hkerrors.IsKind(err, hkerrors.KindConfigInvalid))
		})
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, Validate(valid()))
	})
}

func TestValidate_SecureDoesNotRequireFilesOnDisk(t *testing.T) {
	dir, entry := setupProject(t)
	cfg := Default()
	cfg.BaseDir = dir
	cfg.EntryPath = entry
	cfg.Secure = true
	cfg.Certs = Certs{Cert: "certs/cert.pem", Key: "certs/key.pem"}

	assert.NoError(t, Validate(cfg), "file existence is checked by the listener at each start")
}
