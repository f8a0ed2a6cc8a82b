package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UIContract overrides the selectors and URLs of the target application.
// Empty fields keep the value from the environment.
type UIContract struct {
	LoginURL          string `yaml:"login_url"`
	DetailURLTemplate string `yaml:"detail_url_template"`
	Trigger           struct {
		Tag  string `yaml:"tag"`
		Text string `yaml:"text"`
	} `yaml:"trigger"`
	Indicator struct {
		Selector string `yaml:"selector"`
	} `yaml:"indicator"`
}

// LoadUIContract reads a UI contract YAML file. Returns an
// os.ErrNotExist-wrapped error if the file is absent (caller skips it).
func LoadUIContract(path string) (*UIContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ui contract: %w", err)
	}
	var ui UIContract
	if err := yaml.Unmarshal(data, &ui); err != nil {
		return nil, fmt.Errorf("ui contract %s: %w", path, err)
	}
	return &ui, nil
}

// Apply copies the non-empty fields onto cfg.
func (u *UIContract) Apply(cfg *Config) {
	if u.LoginURL != "" {
		cfg.LoginURL = u.LoginURL
	}
	if u.DetailURLTemplate != "" {
		cfg.DetailURLTemplate = u.DetailURLTemplate
	}
	if u.Trigger.Tag != "" {
		cfg.TriggerTag = u.Trigger.Tag
	}
	if u.Trigger.Text != "" {
		cfg.TriggerText = u.Trigger.Text
	}
	if u.Indicator.Selector != "" {
		cfg.IndicatorSelector = u.Indicator.Selector
	}
}
