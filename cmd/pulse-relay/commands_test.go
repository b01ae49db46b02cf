package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, "relay:\n  window_ms: 250\n")
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "looks good")

	bad := writeConfig(t, "relay:\n  window_ms: -3\n")
	_, err = execute(t, "validate", "--config", bad)
	require.Error(t, err)

	_, err = execute(t, "validate")
	require.Error(t, err)
}

func TestValidateReadsConfigFromEnv(t *testing.T) {
	path := writeConfig(t, "relay:\n  window_ms: 250\n")
	t.Setenv("PULSE_CONFIG", path)
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, path)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, "relay:\n  window_ms: 250\nhttp:\n  addr: :7000\n")
	t.Setenv("PULSE_HTTP_ADDR", "127.0.0.1:9999")

	v := viper.New()
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.Set("config", path)
	v.Set("window-ms", int64(0))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	assert.Equal(t, int64(0), cfg.Relay.WindowMs)
}

func TestStatsCommandPrintsSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"p1":{"source_id":"p1","count":4,"mean_latency":25,"p95_latency":40,"delivery_ratio":1}}`))
	}))
	defer srv.Close()

	out, err := execute(t, "stats", "--url", srv.URL, "--interval", "10ms", "--count", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "source=p1 count=4 mean=25.0ms p95=40.0ms")
	assert.Contains(t, out, "pdr=1.000")
}
