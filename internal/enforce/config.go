package enforce

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"enforce/internal/environment"
	"enforce/internal/errorreport"
)

// DefaultDataRetention is how long saved consent stays valid when the
// caller does not choose a retention period.
const DefaultDataRetention = 31536000000 * time.Millisecond

// Appearance selects the look of presented surfaces.
type Appearance int

const (
	AppearanceSystem Appearance = iota
	AppearanceLight
	AppearanceDark
)

func (a Appearance) String() string {
	switch a {
	case AppearanceLight:
		return "light"
	case AppearanceDark:
		return "dark"
	default:
		return "system"
	}
}

// ParseAppearance accepts light, dark, system or default (case-insensitive).
func ParseAppearance(s string) (Appearance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "system", "default":
		return AppearanceSystem, nil
	case "light":
		return AppearanceLight, nil
	case "dark":
		return AppearanceDark, nil
	default:
		return AppearanceSystem, fmt.Errorf("unknown appearance %q", s)
	}
}

// Config is the coordinator configuration. It is a value: changing the
// environment produces a new Config.
type Config struct {
	ClientName  string
	PublishPath string
	Environment string
	Debug       bool
	// DataRetention is the TTL applied on every save. Zero keeps an
	// existing expiry.
	DataRetention  time.Duration
	AutoShow       bool
	Version        string
	DefaultConsent map[string]bool
	Appearance     Appearance
}

type ConfigOption func(*Config)

func WithDebug(debug bool) ConfigOption {
	return func(c *Config) { c.Debug = debug }
}

func WithDataRetention(d time.Duration) ConfigOption {
	return func(c *Config) { c.DataRetention = d }
}

func WithAutoShow(autoShow bool) ConfigOption {
	return func(c *Config) { c.AutoShow = autoShow }
}

func WithVersion(version string) ConfigOption {
	return func(c *Config) { c.Version = version }
}

func WithDefaultConsent(defaults map[string]bool) ConfigOption {
	return func(c *Config) { c.DefaultConsent = maps.Clone(defaults) }
}

func WithAppearance(a Appearance) ConfigOption {
	return func(c *Config) { c.Appearance = a }
}

// NewConfig returns a Config with retention of one year, auto-show on,
// version "1" and the system appearance unless overridden.
func NewConfig(clientName, publishPath, env string, opts ...ConfigOption) Config {
	c := Config{
		ClientName:    clientName,
		PublishPath:   publishPath,
		Environment:   env,
		DataRetention: DefaultDataRetention,
		AutoShow:      true,
		Version:       "1",
		Appearance:    AppearanceSystem,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithEnvironment returns a copy of c pointing at env.
func (c Config) WithEnvironment(env string) Config {
	next := c.clone()
	next.Environment = env
	return next
}

// DocumentURL is the environment.json URL for c.
func (c Config) DocumentURL() (string, error) {
	return environment.BuildURL(c.ClientName, c.PublishPath, c.Environment, c.Debug)
}

func (c Config) clone() Config {
	c.DefaultConsent = maps.Clone(c.DefaultConsent)
	return c
}

func (c Config) target() errorreport.Target {
	return errorreport.Target{
		ClientName:  c.ClientName,
		PublishPath: c.PublishPath,
		Debug:       c.Debug,
	}
}
