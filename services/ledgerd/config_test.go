package ledgerd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subledger/storage/journal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "data_dir: /var/lib/subledger\nauth:\n  disabled: true\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, journal.DriverSQLite, cfg.Journal.Driver)
	require.Equal(t, "/var/lib/subledger/journal.db", cfg.Journal.DSN)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
}

func TestLoadConfigReadsSecretFile(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "api.secret")
	require.NoError(t, os.WriteFile(secret, []byte("  s3cret\n"), 0o600))
	path := writeConfig(t, "auth:\n  hmac_secret_file: "+secret+"\n  clock_skew: 30s\nshutdown_timeout: 5s\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Auth.HMACSecret)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"missing secret":   "listen: \":1\"\n",
		"unknown field":    "auth:\n  disabled: true\nbogus: 1\n",
		"bad duration":     "auth:\n  disabled: true\nshutdown_timeout: soon\n",
		"unknown driver":   "auth:\n  disabled: true\njournal:\n  driver: mongo\n",
		"postgres no dsn":  "auth:\n  disabled: true\njournal:\n  driver: postgres\n",
		"negative limiter": "auth:\n  disabled: true\nrate_limit:\n  burst: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
