// Package config loads the relay's YAML configuration.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/genai-os/relay/pkg/channel"
)

type ServerSettings struct {
	Addr string `yaml:"addr"`
	// APIKey guards the raw passthrough stream endpoint.
	APIKey string `yaml:"api_key"`
}

type KernelSettings struct {
	// Location is the worker backend's HTTP base URL, consulted for
	// abort requests.
	Location string `yaml:"location"`
}

type HistorySettings struct {
	DSN string `yaml:"dsn"`
}

type LogSettings struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type ModelSettings struct {
	// Codes lists the model access codes the completion API accepts.
	// Empty means any model code is accepted.
	Codes []string `yaml:"codes"`
}

type Config struct {
	Server  ServerSettings   `yaml:"server"`
	Redis   channel.Settings `yaml:"redis"`
	Kernel  KernelSettings   `yaml:"kernel"`
	History HistorySettings  `yaml:"history"`
	Log     LogSettings      `yaml:"log"`
	Models  ModelSettings    `yaml:"models"`
}

func Default() Config {
	return Config{
		Server:  ServerSettings{Addr: ":8080"},
		Redis:   channel.Settings{Addr: "localhost:6379", Group: "relay"},
		Kernel:  KernelSettings{Location: "http://127.0.0.1:9000"},
		History: HistorySettings{DSN: "histories.db"},
		Log:     LogSettings{Level: "info", Console: true},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
