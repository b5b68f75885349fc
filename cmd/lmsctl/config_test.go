package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"LMS_BASE_URL", "LMS_STORE", "LMS_PASSPHRASE", "LMS_REDIS_ADDR", "LMS_DEBOUNCE"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "fs", cfg.Store)
	assert.Equal(t, "lmsctl", cfg.RedisPrefix)
	assert.Equal(t, time.Second, cfg.Debounce)
}

func TestLoadConfig_Env(t *testing.T) {
	isolate(t)
	t.Setenv("LMS_BASE_URL", "https://lms.example.com")
	t.Setenv("LMS_STORE", "redis")
	t.Setenv("LMS_DEBOUNCE", "250ms")

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example.com", cfg.BaseURL)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
}

func TestLoadConfig_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "lmsctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://school.example.com
store: fs
store_path: /tmp/creds.enc
passphrase: hunter22
`), 0o600))

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://school.example.com", cfg.BaseURL)
	assert.Equal(t, "/tmp/creds.enc", cfg.StorePath)
	assert.Equal(t, "hunter22", cfg.Passphrase)

	// env wins over the file
	t.Setenv("LMS_BASE_URL", "https://override.example.com")
	cfg, err = loadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.BaseURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	isolate(t)

	t.Setenv("LMS_STORE", "sqlite")
	_, err := loadConfig(viper.New(), "")
	assert.ErrorContains(t, err, "invalid store")

	_, err = loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestConfigCommand(t *testing.T) {
	isolate(t)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"config", "--store", "redis", "--redis-addr", "cache:6379"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "redis_addr:   cache:6379")
}

func TestOpenBackend_FSRequiresPassphrase(t *testing.T) {
	_, _, err := openBackend(&Config{Store: "fs"})
	assert.ErrorContains(t, err, "passphrase")

	store, closer, err := openBackend(&Config{
		Store:      "fs",
		StorePath:  filepath.Join(t.TempDir(), "creds.enc"),
		Passphrase: "correct horse",
	})
	require.NoError(t, err)
	defer closer.Close()
	assert.NotNil(t, store)
}
