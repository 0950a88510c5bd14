package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
	"go.uber.org/zap/zaptest"

	"bridge-rpc/client"
	"bridge-rpc/config"
	"bridge-rpc/loadbalance"
)

const testScript = `
bridge.register("script.upper", function (s) { return s.toUpperCase(); });
bridge.call("bridge.ping", [], function (r) { globalThis.pong = r; });
`

func testConfig(t *testing.T) *config.Config {
	script := filepath.Join(t.TempDir(), "init.js")
	require.NoError(t, os.WriteFile(script, []byte(testScript), 0o600))

	cfg := config.Default()
	cfg.Listen.WebSocket = "127.0.0.1:0"
	cfg.Listen.TCP = "127.0.0.1:0"
	cfg.Discovery.Backend = "memory"
	cfg.Script.Path = script
	cfg.Limits.Rate = 1000
	cfg.Limits.Burst = 100
	cfg.Limits.Retries = 1
	cfg.Limits.HandlerTimeout = time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestDaemon(t *testing.T) {
	cfg := testConfig(t)
	d, err := newDaemon(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.start(ctx))

	instances, err := d.discovery.Discover(ctx, cfg.Service.Name)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	for _, inst := range instances {
		assert.Contains(t, inst.Methods, "bridge.ping")
		assert.Equal(t, version, inst.Version)
	}

	for _, key := range []string{"a", "b"} {
		c := client.NewClient(d.discovery, &loadbalance.RoundRobinBalancer{},
			client.WithService(cfg.Service.Name), client.WithID(key))
		var pong string
		require.NoError(t, c.Call(ctx, "bridge.ping", nil, &pong))
		assert.Equal(t, "pong", pong)

		var echoed map[string]any
		require.NoError(t, c.Call(ctx, "bridge.echo", []any{map[string]any{"k": "v"}}, &echoed))
		assert.Equal(t, map[string]any{"k": "v"}, echoed)
		require.NoError(t, c.Close())
	}

	// the script host reached a native functor through its own session
	require.Eventually(t, func() bool {
		var pong string
		return d.script.EvalJSON(ctx, `globalThis.pong || ""`, &pong) == nil && pong == "pong"
	}, 2*time.Second, 10*time.Millisecond)

	// the script session stays attached while clients come and go
	sessions := d.server.Sessions()
	require.NotEmpty(t, sessions)
	assert.Equal(t, "local", sessions[0].Transport)

	require.NoError(t, d.stop(5*time.Second))
	instances, err = d.discovery.Discover(context.Background(), cfg.Service.Name)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestAdvertise(t *testing.T) {
	cfg := config.Default()
	cfg.Service.Advertise = "bridge.example"
	d := &daemon{cfg: cfg}

	addr := &fakeAddr{"[::]:8080"}
	assert.Equal(t, "bridge.example:8080", d.advertise(addr))

	cfg.Service.Advertise = ""
	assert.Equal(t, "10.0.0.1:9090", d.advertise(&fakeAddr{"10.0.0.1:9090"}))
}

type fakeAddr struct{ s string }

func (a *fakeAddr) Network() string { return "tcp" }
func (a *fakeAddr) String() string  { return a.s }

func TestLoadConfigFlags(t *testing.T) {
	var (
		got    *config.Config
		gotErr error
	)
	app := newApp()
	app.Action = func(c *cli.Context) error {
		got, gotErr = loadConfig(c)
		return nil
	}

	require.NoError(t, app.Run([]string{"bridged",
		"--ws", "127.0.0.1:0",
		"--tcp", ":9000",
		"--codec", "binary",
		"--etcd", "10.0.0.1:2379", "--etcd", "10.0.0.2:2379",
		"--log-level", "debug",
	}))
	require.NoError(t, gotErr)
	assert.Equal(t, "127.0.0.1:0", got.Listen.WebSocket)
	assert.Equal(t, ":9000", got.Listen.TCP)
	assert.Equal(t, "binary", got.Runtime.Codec)
	assert.Equal(t, "etcd", got.Discovery.Backend)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, got.Discovery.Endpoints)
	assert.Equal(t, "debug", got.Log.Level)

	require.NoError(t, app.Run([]string{"bridged", "--codec", "xml"}))
	assert.Error(t, gotErr)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: calc\nlisten:\n  websocket: :7000\n"), 0o600))

	var got *config.Config
	app := newApp()
	app.Action = func(c *cli.Context) error {
		var err error
		got, err = loadConfig(c)
		return err
	}
	require.NoError(t, app.Run([]string{"bridged", "-c", path, "--ws", ":7001"}))
	assert.Equal(t, "calc", got.Service.Name)
	assert.Equal(t, ":7001", got.Listen.WebSocket)
}
