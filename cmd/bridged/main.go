// Command bridged serves native functors to browser and script hosts over the bridge protocol.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"bridge-rpc/config"
)

const version = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bridged:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "bridged"
	app.Usage = "Serve native functors over WebSocket and TCP"
	app.Version = version
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:   "c,config",
			Usage:  "YAML configuration file",
			EnvVar: "BRIDGED_CONFIG",
		},
		&cli.StringFlag{
			Name:  "ws",
			Usage: "WebSocket listen address, overrides listen.websocket",
		},
		&cli.StringFlag{
			Name:  "tcp",
			Usage: "framed TCP listen address, overrides listen.tcp",
		},
		&cli.StringFlag{
			Name:  "codec",
			Usage: "wire codec: json or binary",
		},
		&cli.StringSliceFlag{
			Name:  "etcd",
			Usage: "etcd endpoint; enables etcd discovery (repeatable)",
		},
		&cli.StringFlag{
			Name:  "script",
			Usage: "JavaScript file to run in an embedded host",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Value: 10 * time.Second,
			Usage: "how long to wait for sessions on shutdown",
		},
	}
	app.Action = run
	return app
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.start(ctx); err != nil {
		d.stop(c.Duration("shutdown-timeout"))
		return err
	}
	log.Info("bridged started",
		zap.String("id", d.server.ID()),
		zap.String("websocket", addrString(d.wsAddr)),
		zap.String("tcp", addrString(d.tcpAddr)),
		zap.String("discovery", cfg.Discovery.Backend))

	waitErr := d.wait(ctx)
	log.Info("shutting down")
	if err := d.stop(c.Duration("shutdown-timeout")); err != nil {
		log.Warn("unclean shutdown", zap.Error(err))
	}
	return waitErr
}

// loadConfig reads the configuration file, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet("ws") {
		cfg.Listen.WebSocket = c.String("ws")
	}
	if c.IsSet("tcp") {
		cfg.Listen.TCP = c.String("tcp")
	}
	if c.IsSet("codec") {
		cfg.Runtime.Codec = c.String("codec")
	}
	if endpoints := c.StringSlice("etcd"); len(endpoints) > 0 {
		cfg.Discovery.Backend = "etcd"
		cfg.Discovery.Endpoints = endpoints
	}
	if c.IsSet("script") {
		cfg.Script.Path = c.String("script")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	return cfg, cfg.Validate()
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "off"
	}
	return addr.String()
}
