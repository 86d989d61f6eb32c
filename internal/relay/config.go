package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NativeApp describes a native-messaging helper the hub can spawn.
type NativeApp struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Path        string   `yaml:"path"`
	Args        []string `yaml:"args,omitempty"`
}

// Config is the top-level relay YAML configuration.
type Config struct {
	NativeApps []NativeApp `yaml:"native_apps"`
}

// LoadConfig reads and validates a relay YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates relay YAML.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	seen := make(map[string]bool, len(cfg.NativeApps))
	for i, app := range cfg.NativeApps {
		if app.Name == "" {
			return nil, fmt.Errorf("relay config: native_apps[%d] missing name", i)
		}
		if app.Path == "" {
			return nil, fmt.Errorf("relay config: native_apps[%d] (%s) missing path", i, app.Name)
		}
		if seen[app.Name] {
			return nil, fmt.Errorf("relay config: duplicate native app %q", app.Name)
		}
		seen[app.Name] = true
	}
	return &cfg, nil
}

// NativeApp returns the application registered under name.
func (c *Config) NativeApp(name string) (NativeApp, bool) {
	for _, app := range c.NativeApps {
		if app.Name == name {
			return app, true
		}
	}
	return NativeApp{}, false
}
