package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  name: calc
  advertise: calc.internal
listen:
  websocket: ""
  tcp: 127.0.0.1:9090
runtime:
  codec: binary
  request_timeout: 2s
limits:
  rate: 100
  burst: 20
  retries: 2
discovery:
  backend: etcd
  endpoints: ["127.0.0.1:2379"]
log:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "calc", cfg.Service.Name)
	assert.Equal(t, "calc.internal", cfg.Service.Advertise)
	assert.Empty(t, cfg.Listen.WebSocket)
	assert.Equal(t, "127.0.0.1:9090", cfg.Listen.TCP)
	assert.Equal(t, "/rpc", cfg.Listen.Path)
	assert.Equal(t, "binary", cfg.Runtime.Codec)
	assert.Equal(t, 2*time.Second, cfg.Runtime.RequestTimeout)
	assert.Equal(t, 64, cfg.Runtime.Concurrency)
	assert.Equal(t, float64(100), cfg.Limits.Rate)
	assert.Equal(t, 20, cfg.Limits.Burst)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Discovery.Endpoints)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":        "listen:\n  udp: :53\n",
		"bad codec":          "runtime:\n  codec: xml\n",
		"no listener":        "listen:\n  websocket: \"\"\n",
		"bad address":        "listen:\n  tcp: localhost\n",
		"bad path":           "listen:\n  path: rpc\n",
		"etcd w/o endpoints": "discovery:\n  backend: etcd\n",
		"rate w/o burst":     "limits:\n  rate: 5\n",
		"too many retries":   "limits:\n  retries: 50\n",
		"missing script":     "script:\n  path: /does/not/exist.js\n",
		"bad level":          "log:\n  level: loud\n",
		"bad duration":       "runtime:\n  heartbeat: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLogger(t *testing.T) {
	log, err := LogConfig{Level: "warn"}.Logger()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))

	_, err = LogConfig{Level: "loud"}.Logger()
	assert.Error(t, err)
}
