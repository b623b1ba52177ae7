package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/andreyvit/overlaycache"
	"github.com/tailscale/hujson"
)

// Config holds the options overlayctl reads from its config file. Command
// line flags override them.
type Config struct {
	DBPath     string `json:"db_path"`
	User       string `json:"user,omitempty"`
	Verbose    bool   `json:"verbose,omitempty"`
	MmapSize   int    `json:"mmap_size,omitempty"`
	Serializer string `json:"serializer,omitempty"`
}

// ConfigFileName is the config file looked up in the working directory when
// no --config is given.
const ConfigFileName = ".overlayctl.json"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config")
	errDBPathEmpty        = errors.New("db_path is empty")
)

func DefaultConfig() Config {
	return Config{
		DBPath:     "overlays.db",
		Serializer: "msgpack",
	}
}

// LoadConfig loads the defaults, then the config file (the explicit one must
// exist, the default one is optional).
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	path, mustExist := configPath, true
	if path == "" {
		path, mustExist = ConfigFileName, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	fileCfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return mergeConfig(cfg, fileCfg), nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.DBPath != "" {
		base.DBPath = overlay.DBPath
	}
	if overlay.User != "" {
		base.User = overlay.User
	}
	if overlay.Verbose {
		base.Verbose = true
	}
	if overlay.MmapSize != 0 {
		base.MmapSize = overlay.MmapSize
	}
	if overlay.Serializer != "" {
		base.Serializer = overlay.Serializer
	}
	return base
}

func validateConfig(cfg Config) error {
	if cfg.DBPath == "" {
		return errDBPathEmpty
	}
	if _, err := cfg.serializer(); err != nil {
		return err
	}
	return nil
}

func (cfg Config) serializer() (overlaycache.Serializer, error) {
	switch cfg.Serializer {
	case "", "msgpack":
		return overlaycache.MsgPack, nil
	case "json":
		return overlaycache.JSON, nil
	default:
		return nil, fmt.Errorf("%w: unknown serializer %q", errConfigInvalid, cfg.Serializer)
	}
}
