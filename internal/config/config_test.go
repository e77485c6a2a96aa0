package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

// unsetenv removes keys for the duration of the test. Dotenv files never
// override variables that are present, even when empty.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyFileOverlaysDefinedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
host = " broker.local "
tls = true
root_ca = "/etc/kuksa/ca.pem"
timeout = "750ms"
fields = ["value", "actuator_target"]

[relay]
listen = ":9000"
`)

	cfg := Default()
	require.NoError(t, cfg.ApplyFile(path))

	assert.Equal(t, "broker.local", cfg.Host)
	assert.Equal(t, 55556, cfg.Port, "undefined keys keep their defaults")
	assert.True(t, cfg.TLS)
	assert.Equal(t, "/etc/kuksa/ca.pem", cfg.RootCA)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.Equal(t, []broker.Field{broker.FieldValue, broker.FieldActuatorTarget}, cfg.Fields)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestApplyFileErrors(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	err := cfg.ApplyFile(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, `timeout = "soon"`)
	assert.Error(t, cfg.ApplyFile(bad))

	unknown := filepath.Join(dir, "fields.toml")
	writeFile(t, unknown, `fields = ["colour"]`)
	assert.Error(t, cfg.ApplyFile(unknown))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"KUKSA_HOST":      "10.0.0.2",
		"KUKSA_PORT":      "55555",
		"KUKSA_TLS":       "true",
		"KUKSA_AUTHORITY": "Server",
		"KUKSA_FIELDS":    "value, metadata",
		"KUKSA_LOG_LEVEL": "debug",
		"KUKSA_TIMEOUT":   "2s",
		"KUKSA_TOKEN":     " ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2", cfg.Host)
	assert.Equal(t, 55555, cfg.Port)
	assert.True(t, cfg.TLS)
	assert.Equal(t, "Server", cfg.Authority)
	assert.Equal(t, []broker.Field{broker.FieldValue, broker.FieldMetadata}, cfg.Fields)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.Token, "blank variables are ignored")

	for _, env := range []map[string]string{
		{"KUKSA_PORT": "http"},
		{"KUKSA_TLS": "maybe"},
		{"KUKSA_TIMEOUT": "5"},
		{"KUKSA_FIELDS": "value,,"},
	} {
		cfg := Default()
		assert.Error(t, cfg.ApplyEnv(mapLookup(env)), "%v", env)
	}
}

func TestLoadLayersFileDotenvAndEnvironment(t *testing.T) {
	t.Setenv("KUKSA_HOME", t.TempDir())
	unsetenv(t, "KUKSA_HOST", "KUKSA_PORT", "KUKSA_TOKEN_FILE")
	paths := GetProfilePaths("")

	writeFile(t, paths.Config, "host = \"from-file\"\nport = 1000\nlog_level = \"warn\"\n")
	writeFile(t, paths.Env, "KUKSA_PORT=2000\nKUKSA_LOG_LEVEL=error\n")
	writeFile(t, paths.Token, "opaque-token\n")
	t.Setenv("KUKSA_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Host)
	assert.Equal(t, 2000, cfg.Port, "dotenv overrides the file")
	assert.Equal(t, "debug", cfg.LogLevel, "process environment wins over dotenv")
	assert.Equal(t, paths.Token, cfg.TokenFile)
}

func TestLoadWithoutProfileFiles(t *testing.T) {
	t.Setenv("KUKSA_HOME", t.TempDir())
	unsetenv(t, "KUKSA_HOST", "KUKSA_TOKEN_FILE")

	cfg, err := Load("fresh")
	require.NoError(t, err)
	assert.Equal(t, Default().Host, cfg.Host)
	assert.Empty(t, cfg.TokenFile)
}

func TestConnectionInfo(t *testing.T) {
	logger := zerolog.Nop()

	cfg := Default()
	info, err := cfg.ConnectionInfo(logger)
	require.NoError(t, err)
	assert.Equal(t, "localhost:55556", info.Address())
	assert.False(t, info.TLSEnabled)
	assert.Nil(t, info.Certificate)
	assert.Nil(t, info.Authentication)

	cfg.TLS = true
	_, err = cfg.ConnectionInfo(logger)
	assert.ErrorIs(t, err, transport.ErrInvalidConnectionInfo, "TLS needs a root certificate")

	cfg.RootCA = "/etc/kuksa/ca.pem"
	cfg.Authority = "Server"
	cfg.Token = "inline"
	cfg.TokenFile = "/does/not/matter"
	info, err = cfg.ConnectionInfo(logger)
	require.NoError(t, err)
	require.NotNil(t, info.Certificate)
	assert.Equal(t, transport.FileSource("/etc/kuksa/ca.pem"), info.Certificate.Source)
	assert.Equal(t, "Server", info.Certificate.OverrideAuthority)
	assert.Equal(t, "inline", info.Authentication.Token)

	tokenPath := filepath.Join(t.TempDir(), "token.jwt")
	writeFile(t, tokenPath, "from-file")
	cfg = Default()
	cfg.TokenFile = tokenPath
	info, err = cfg.ConnectionInfo(logger)
	require.NoError(t, err)
	assert.Equal(t, "from-file", info.Authentication.Token)

	cfg.TokenFile = filepath.Join(t.TempDir(), "missing.jwt")
	_, err = cfg.ConnectionInfo(logger)
	assert.Error(t, err)

	cfg = Default()
	cfg.Port = 0
	_, err = cfg.ConnectionInfo(logger)
	assert.ErrorIs(t, err, transport.ErrInvalidConnectionInfo)
}

func TestTimeoutConfig(t *testing.T) {
	cfg := Default()
	cfg.Timeout = 1500 * time.Millisecond
	assert.Equal(t, 1500*time.Millisecond, cfg.TimeoutConfig().Timeout())

	cfg.Timeout = 0
	assert.Equal(t, Default().Timeout, cfg.TimeoutConfig().Timeout())
}
