package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendingd", "test", Options{Level: "debug", Output: &buf})
	logger.Debug("auction cleared", slog.Uint64("maturity", 1800000000), MaskField("proof", "0xdeadbeef"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "auction cleared", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["proof"])
	require.Contains(t, line, "timestamp")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendingd", "", Options{Level: "warn", Output: &buf})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "0x01", MaskField("maturity", "0x01").Value.String())
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "", MaskField("authorization", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "loan_id")
}

func TestSetupRotatesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lendingd.log")
	logger := SetupWithOptions("lendingd", "test", Options{File: path, MaxSizeMB: 1})
	logger.Info("loan claimed", slog.Uint64("loan_id", 7))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"loan claimed"`)
}
