// Package config loads yepmodel configuration from YAML, with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shinyes/yep_model/pkg/bridge"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "YEPMODEL"

// Config is the full configuration of the yepmodel tooling.
type Config struct {
	Log     Log     `yaml:"log"`
	Binding Binding `yaml:"binding"`
	Storage Storage `yaml:"storage"`
	Metrics Metrics `yaml:"metrics"`
}

// Log configures the logrus logger.
type Log struct {
	Level Loglevel `yaml:"level"`
	// Formatter is text or json.
	Formatter string `yaml:"formatter" validate:"omitempty,oneof=text json"`
}

// Binding holds the defaults applied to every binding.
type Binding struct {
	StrictUnknownFields bool `yaml:"strictunknownfields"`
	AutoResync          bool `yaml:"autoresync"`
	MaxPendingBatches   int  `yaml:"maxpendingbatches" validate:"gte=0"`
}

// Storage configures where documents are saved. Each workspace is its own
// badger directory under Path. An empty path keeps documents in memory
// only.
type Storage struct {
	Path      string `yaml:"path"`
	Workspace string `yaml:"workspace" validate:"required"`
}

// Metrics configures the metrics endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// Loglevel is one of error, warn, info or debug.
type Loglevel string

// UnmarshalYAML lowercases and checks the level.
func (l *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	s = strings.ToLower(s)
	switch s {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %s, must be one of [error, warn, info, debug]", s)
	}
	*l = Loglevel(s)
	return nil
}

// Options returns the binding options described by b.
func (b Binding) Options() bridge.Options {
	return bridge.Options{
		StrictUnknownFields: b.StrictUnknownFields,
		AutoResync:          b.AutoResync,
		MaxPendingBatches:   b.MaxPendingBatches,
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:     Log{Level: "info", Formatter: "text"},
		Binding: Binding{MaxPendingBatches: 1024},
		Storage: Storage{Workspace: "default"},
		Metrics: Metrics{Addr: ":5001"},
	}
}

var validate = validator.New()

// Parser parses configuration and applies environment overrides.
type Parser struct {
	prefix string
	env    map[string]string
}

// NewParser returns a parser reading overrides named after prefix from
// environ, given in os.Environ form.
func NewParser(prefix string, environ []string) *Parser {
	p := &Parser{prefix: prefix, env: make(map[string]string)}
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			p.env[parts[0]] = parts[1]
		}
	}
	return p
}

// Parse reads in on top of the defaults, then applies overrides.
//
// Environment variables override fields following the scheme below:
// c.Log.Level may be replaced by PREFIX_LOG_LEVEL,
// c.Binding.MaxPendingBatches by PREFIX_BINDING_MAXPENDINGBATCHES.
func (p *Parser) Parse(in []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(in, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := p.overwrite(c); err != nil {
		return nil, err
	}
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

func (p *Parser) overwrite(c *Config) error {
	sections := []struct {
		name   string
		fields map[string]any
	}{
		{"LOG", map[string]any{"LEVEL": &c.Log.Level, "FORMATTER": &c.Log.Formatter}},
		{"BINDING", map[string]any{
			"STRICTUNKNOWNFIELDS": &c.Binding.StrictUnknownFields,
			"AUTORESYNC":          &c.Binding.AutoResync,
			"MAXPENDINGBATCHES":   &c.Binding.MaxPendingBatches,
		}},
		{"STORAGE", map[string]any{"PATH": &c.Storage.Path, "WORKSPACE": &c.Storage.Workspace}},
		{"METRICS", map[string]any{"ENABLED": &c.Metrics.Enabled, "ADDR": &c.Metrics.Addr}},
	}
	for _, s := range sections {
		for field, dst := range s.fields {
			key := strings.ToUpper(p.prefix + "_" + s.name + "_" + field)
			v, ok := p.env[key]
			if !ok {
				continue
			}
			if err := yaml.Unmarshal([]byte(v), dst); err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
		}
	}
	return nil
}

// Load parses the file at path with overrides from the process
// environment. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	var in []byte
	if path != "" {
		var err error
		if in, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return NewParser(EnvPrefix, os.Environ()).Parse(in)
}
