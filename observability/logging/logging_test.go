package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "subledgerd", "test")
	logger.Info("purchase settled", "op", "purchase", MaskField("authorization", "Bearer abc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "purchase settled", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "subledgerd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "purchase", line["op"])
	require.Equal(t, RedactedValue, line["authorization"])
	require.Contains(t, line, "timestamp")
}

func TestFileWriterRotates(t *testing.T) {
	require.NotNil(t, File{}.writer())
	path := filepath.Join(t.TempDir(), "ledger.log")
	w := File{Path: path}.writer()
	_, err := w.Write([]byte("{}\n"))
	require.NoError(t, err)
	require.FileExists(t, path)
}

func TestSensitiveKeysMaskedWithoutCallerHelp(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "subledgerd", "")
	logger.Info("journal opened",
		"driver", "postgres",
		"dsn", "postgres://ledger:hunter2@db/ledger",
		"Token", "eyJhbGciOi",
		"secret", "",
		slog.Group("auth", "hmac_secret", "s3cr3t", "issuer", "subledger"),
	)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "postgres", line["driver"])
	require.Equal(t, RedactedValue, line["dsn"])
	require.Equal(t, RedactedValue, line["Token"])
	require.Equal(t, "", line["secret"])
	auth, ok := line["auth"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, RedactedValue, auth["hmac_secret"])
	require.Equal(t, "subledger", auth["issuer"])
	require.NotContains(t, buf.String(), "hunter2")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "", MaskField("token", "").Value.String())
	require.Equal(t, RedactedValue, MaskField("op", "purchase").Value.String())
	require.True(t, IsSensitive(" Authorization "))
	require.False(t, IsSensitive("account"))
}
