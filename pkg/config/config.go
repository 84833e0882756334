// Package config loads and validates the declarative machine description:
// the hierarchy entry list plus the declared systems to converge.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file name looked up under the repo root.
const DefaultFile = "config.yml"

// validate is the shared validator instance for config structs.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the top-level declarative description, immutable once loaded.
type Config struct {
	// Facts overrides detected facts (environment overrides win over these).
	Facts map[string]string `yaml:"facts"`

	// Hierarchy is the ordered list of data source path templates. Paths may
	// contain {fact} placeholders.
	Hierarchy []string `yaml:"hierarchy"`

	// Systems are the declared configuration actions.
	Systems []SystemConfig `yaml:"systems" validate:"dive"`
}

// SystemConfig is one declared system: its variant tag, the shared fields
// every variant understands, and the raw mapping node the variant decodes its
// own options from.
type SystemConfig struct {
	// Type is the variant tag.
	Type string `yaml:"type" validate:"required,oneof=copy-dir link-dir link install-packages download-and-run git-sync"`

	// ID names the system for `requires` references and unit identity. May be
	// empty for variants that can derive one.
	ID string `yaml:"id"`

	// Requires lists system IDs that must fully converge before any unit of
	// this system runs.
	Requires []string `yaml:"requires"`

	// Options carries the full mapping node for variant-specific decoding.
	Options yaml.Node `yaml:"-"`
}

// UnmarshalYAML decodes the shared fields and retains the raw node.
func (s *SystemConfig) UnmarshalYAML(node *yaml.Node) error {
	type shared struct {
		Type     string   `yaml:"type"`
		ID       string   `yaml:"id"`
		Requires []string `yaml:"requires"`
	}

	var sh shared
	if err := node.Decode(&sh); err != nil {
		return err
	}

	s.Type = sh.Type
	s.ID = sh.ID
	s.Requires = sh.Requires
	s.Options = *node
	return nil
}

// DecodeOptions decodes the variant-specific options into out and validates
// the result's struct tags.
func (s *SystemConfig) DecodeOptions(out any) error {
	if err := s.Options.Decode(out); err != nil {
		return fmt.Errorf("decoding %s options: %w", s.Type, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s options: %w", s.Type, err)
	}
	return nil
}

// Name returns the system's display identity: its ID when set, otherwise the
// variant tag.
func (s *SystemConfig) Name() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Type
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Interval is a duration that additionally accepts a day suffix, e.g. "1d".
type Interval time.Duration

// UnmarshalYAML parses "3d", "12h", "90m" and the other time.ParseDuration
// forms.
func (i *Interval) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	d, err := ParseInterval(raw)
	if err != nil {
		return err
	}
	*i = Interval(d)
	return nil
}

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i)
}

// ParseInterval parses an interval string, accepting a trailing day count
// ("2d") in addition to time.ParseDuration syntax.
func ParseInterval(raw string) (time.Duration, error) {
	if n := len(raw); n > 1 && raw[n-1] == 'd' {
		var days float64
		if _, err := fmt.Sscanf(raw[:n-1], "%f", &days); err == nil {
			return time.Duration(days * float64(24*time.Hour)), nil
		}
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", raw, err)
	}
	return d, nil
}
