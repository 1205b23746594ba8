package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvHome, EnvRelayURL, EnvUser, EnvPassphrase, EnvLogLevel, EnvStorageDriver} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()

	cfg, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, 1000, cfg.Crypto.MaxSkip)
	assert.Equal(t, 2000, cfg.Crypto.MaxCache)
	assert.Equal(t, 100, cfg.Crypto.OneTimePrekeyCount)
	assert.Equal(t, "Pinpoint", cfg.Crypto.Info)
	assert.Equal(t, 60*time.Second, cfg.Conversation.ResendResetTimeout)
	assert.Equal(t, 15*time.Second, cfg.Relay.Timeout)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	yml := `user: alice
relay:
  url: http://127.0.0.1:8080
  timeout: 3s
storage:
  driver: sqlite
crypto:
  max_skip: 50
conversation:
  resend_reset_timeout: 2m
`
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFile), []byte(yml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(home, EnvFile), []byte("PINPOINT_USER=bob\nPINPOINT_PASSPHRASE=from-dotenv\n"), 0o600))
	t.Setenv(EnvUser, "carol")

	cfg, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.User, "process env beats .env")
	assert.Equal(t, "from-dotenv", cfg.Passphrase)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Relay.URL)
	assert.Equal(t, 3*time.Second, cfg.Relay.Timeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 50, cfg.Crypto.MaxSkip)
	assert.Equal(t, 2000, cfg.Crypto.MaxCache, "unset keys keep defaults")
	assert.Equal(t, 2*time.Minute, cfg.Conversation.ResendResetTimeout)
}

func TestLoad_UnknownField(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFile), []byte("relay:\n  urll: x\n"), 0o600))

	_, err := Load(home)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Crypto.MaxSkip = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Storage.Driver = "postgres"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Relay.Timeout = -time.Second
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Conversation.ResendResetTimeout = 0
	assert.Error(t, bad.Validate())
}
