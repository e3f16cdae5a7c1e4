// Package config holds the settings of the h1mux server.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

type Config struct {
	// Network is one of tcp, unix, tls, quic, ws or stdio.
	Network string `mapstructure:"network"`
	Addr    string `mapstructure:"addr"`

	CertFile string `mapstructure:"cert"`
	KeyFile  string `mapstructure:"key"`

	MaxHeaderBytes int   `mapstructure:"max_header_bytes"`
	MaxDrainBytes  int64 `mapstructure:"max_drain_bytes"`
	MaxConns       int   `mapstructure:"max_conns"` // 0 is unlimited

	Handler      string        `mapstructure:"handler"` // echo, text or ticker
	Text         string        `mapstructure:"text"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	TickCount    int           `mapstructure:"tick_count"`

	LogLevel string `mapstructure:"log_level"`
	LogDev   bool   `mapstructure:"log_dev"`

	// Trace is a file to write exchange records to, "-" for stderr.
	Trace       string `mapstructure:"trace"`
	TraceFormat string `mapstructure:"trace_format"`
}

func Default() Config {
	return Config{
		Network:        "tcp",
		Addr:           "127.0.0.1:8080",
		MaxHeaderBytes: 1 << 20,
		MaxDrainBytes:  256 << 10,
		Handler:        "text",
		Text:           "Hello World\n",
		TickInterval:   time.Second,
		LogLevel:       "info",
		TraceFormat:    "json",
	}
}

// Decode applies input, typically a map parsed from command line
// arguments, on top of Default. Strings are converted to numbers, bools
// and durations as needed. Unknown keys are an error.
func Decode(input any) (Config, error) {
	cfg := Default()
	if input == nil {
		return cfg, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(input); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Network {
	case "tcp", "unix", "tls", "quic", "ws", "stdio":
	default:
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	if (c.Network == "tls" || c.Network == "quic") && (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("config: cert and key must be given together")
	}
	switch c.Handler {
	case "echo", "text", "ticker":
	default:
		return fmt.Errorf("config: unknown handler %q", c.Handler)
	}
	if c.MaxHeaderBytes < 0 || c.MaxDrainBytes < 0 || c.MaxConns < 0 {
		return fmt.Errorf("config: limits can't be negative")
	}
	if c.Handler == "ticker" && c.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive")
	}
	return nil
}
