// Package config loads the bridged daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		if err != nil {
			return false
		}
		n, err := strconv.Atoi(port)
		return err == nil && n >= 0 && n <= 65535
	})
	return v
}

// Config is the complete daemon configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Listen    ListenConfig    `yaml:"listen"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Limits    LimitsConfig    `yaml:"limits"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Script    ScriptConfig    `yaml:"script"`
	Log       LogConfig       `yaml:"log"`
}

type ServiceConfig struct {
	Name string `yaml:"name" validate:"required"`
	// Host announced to discovery in place of the listen host, e.g. a public name.
	Advertise string `yaml:"advertise"`
}

type ListenConfig struct {
	WebSocket      string   `yaml:"websocket" validate:"required_without=TCP,omitempty,listen_addr"`
	TCP            string   `yaml:"tcp" validate:"omitempty,listen_addr"`
	Path           string   `yaml:"path" validate:"required,startswith=/"`
	OriginPatterns []string `yaml:"origin_patterns"`
}

type RuntimeConfig struct {
	Codec          string        `yaml:"codec" validate:"oneof=json binary"`
	Concurrency    int           `yaml:"concurrency" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
	Heartbeat      time.Duration `yaml:"heartbeat" validate:"gte=0"`
}

type LimitsConfig struct {
	// Per-session budget for a single inbound request; zero disables.
	HandlerTimeout time.Duration `yaml:"handler_timeout" validate:"gte=0"`
	// Requests per second per session; zero disables.
	Rate  float64 `yaml:"rate" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"required_with=Rate,gte=0"`
	// Retries of functor failures marked temporary.
	Retries    int           `yaml:"retries" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

type DiscoveryConfig struct {
	Backend   string   `yaml:"backend" validate:"oneof=none memory etcd"`
	Endpoints []string `yaml:"endpoints" validate:"required_if=Backend etcd,dive,required"`
	Prefix    string   `yaml:"prefix"`
	TTL       int64    `yaml:"ttl" validate:"gte=0"`
}

type ScriptConfig struct {
	// Path of a JavaScript file run in an embedded host attached to the server.
	Path string `yaml:"path" validate:"omitempty,file"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration serving WebSocket on :8080 without discovery.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "bridge"},
		Listen: ListenConfig{
			WebSocket: ":8080",
			Path:      "/rpc",
		},
		Runtime: RuntimeConfig{
			Codec:       "json",
			Concurrency: 64,
			Heartbeat:   30 * time.Second,
		},
		Limits: LimitsConfig{
			RetryDelay: 50 * time.Millisecond,
		},
		Discovery: DiscoveryConfig{
			Backend: "none",
			Prefix:  "/bridge-rpc/",
			TTL:     10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over Default and validates the result. Unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger builds the zap logger described by c.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
