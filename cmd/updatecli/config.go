package main

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// runtimeConfig is the demo CLI's own configuration, independent of the
// update library's JSON-wire settings/cache files: which repository and
// channel to watch, the platform and current version, how often to poll in
// watch mode, and where the signing public key lives. Whether to run as a
// background service is chosen by the -service flag, not by this file.
type runtimeConfig struct {
	Owner          string        `toml:"owner"`
	Repo           string        `toml:"repo"`
	Channel        string        `toml:"channel"`
	Platform       string        `toml:"platform"`
	CurrentVersion string        `toml:"current_version"`
	PollInterval   time.Duration `toml:"poll_interval"`
	PublicKeyPath  string        `toml:"public_key_path"`
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Owner:        "example",
		Repo:         "app",
		Channel:      "stable",
		PollInterval: time.Hour,
	}
}

// loadRuntimeConfig reads a TOML config file if present, falling back to
// defaults entirely when the file does not exist.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return runtimeConfig{}, err
	}
	return cfg, nil
}
