// Package config loads chromext settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/chromext/chromext/internal/cdp"
)

// Prefix is the environment variable prefix, e.g. CHROMEXT_NAMESPACE.
const Prefix = "CHROMEXT"

// Config holds all chromext configuration.
type Config struct {
	// Namespace is "chrome" or "webview"; empty means no hook mode is active.
	Namespace       string `envconfig:"NAMESPACE"`
	Tab             string `envconfig:"TAB"`
	Socket          string `envconfig:"SOCKET"`
	StrictHandshake bool   `envconfig:"STRICT_HANDSHAKE" default:"false"`
	MaxFrameSize    int64  `envconfig:"MAX_FRAME_SIZE" default:"67108864"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"warn"`
}

// Load reads the given .env files (missing ones are skipped) and then the
// process environment. Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		MaxFrameSize: cdp.DefaultMaxFrameSize,
		LogLevel:     "warn",
	}
}

// CDPNamespace parses Namespace.
func (c *Config) CDPNamespace() (cdp.Namespace, error) {
	return cdp.ParseNamespace(c.Namespace)
}

// CDPOptions builds connection options. An unset namespace is passed through;
// cdp.Connect reports it as a ConfigurationError.
func (c *Config) CDPOptions() (cdp.Options, error) {
	ns, err := c.CDPNamespace()
	if err != nil {
		return cdp.Options{}, err
	}

	opts := cdp.Options{
		Namespace:    ns,
		SocketName:   c.Socket,
		MaxFrameSize: c.MaxFrameSize,
	}
	if c.StrictHandshake {
		opts.Handshake = cdp.StrictResponse{}
	}
	return opts, nil
}
