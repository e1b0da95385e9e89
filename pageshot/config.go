package pageshot

import "github.com/hazyhaar/shotkit/pageshot/internal/config"

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration bytes and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return config.Default()
}
