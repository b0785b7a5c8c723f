package main

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

type aiConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

type configs struct {
	DataDir string   `yaml:"dataDir"`
	Workers int      `yaml:"workers"`
	Rules   string   `yaml:"rules"`
	AI      aiConfig `yaml:"ai"`
}

// readConfig loads the optional YAML config. A missing file returns zero
// configs; flags then supply everything.
func readConfig(path string) (configs, error) {
	var c configs
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, errors.Wrapf(err, "unable to read config: %v", path)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "unable to parse config: %v", path)
	}
	return c, nil
}
