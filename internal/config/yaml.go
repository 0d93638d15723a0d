package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Parse decodes a tracking configuration document and applies defaults.
// It does not validate; callers decide whether an invalid document is fatal.
func Parse(data []byte) (*Configuration, error) {
	cfg := &Configuration{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults sets default values for unspecified fields.
func (c *Configuration) ApplyDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.RemoteConfig.Timeout == 0 {
		c.RemoteConfig.Timeout = Duration(DefaultFetchTimeout)
	}
	if c.Screens == nil {
		c.Screens = make(map[string]ScreenConfig)
	}
}
