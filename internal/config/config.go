// Package config provides configuration management for the Anchor engine
// using Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// Sources and precedence (highest first): command-line flags, ANCHOR_*
// environment variables, the .anchor.yml configuration file, built-in
// defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Server ServerConfig `yaml:"server"`
	Pages  PagesConfig  `yaml:"pages"`
	Log    LogConfig    `yaml:"log"`
}

// EngineConfig controls how mount points are recognized and rendered.
type EngineConfig struct {
	// WidgetAttr marks an element as a mount point; its value is the
	// registry key.
	WidgetAttr string `yaml:"widget_attr"`
	// PropsAttr carries the instance's JSON configuration.
	PropsAttr string `yaml:"props_attr"`
	// ScanOnAdd controls whether subtrees added by the host are scanned.
	ScanOnAdd bool `yaml:"scan_on_add"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Open bool   `yaml:"open"`
}

// PagesConfig lists the host pages the dev server serves and watches.
type PagesConfig struct {
	WatchPaths      []string `yaml:"watch_paths"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	// Debounce groups rapid file changes, in milliseconds.
	DebounceMs int `yaml:"debounce_ms"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds a Config from viper's merged sources and validates it.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Engine.WidgetAttr == "" {
		config.Engine.WidgetAttr = "data-widget"
	}
	if config.Engine.PropsAttr == "" {
		config.Engine.PropsAttr = "data-props"
	}
	if !viper.IsSet("engine.scan_on_add") {
		config.Engine.ScanOnAdd = true
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8090
	}
	if len(config.Pages.WatchPaths) == 0 {
		config.Pages.WatchPaths = []string{"."}
	}
	if config.Pages.DebounceMs == 0 {
		config.Pages.DebounceMs = 100
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Validate rejects configurations the engine cannot run with.
func Validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", config.Server.Port)
	}
	if strings.ContainsAny(config.Engine.WidgetAttr, " \t\"'>/=") {
		return fmt.Errorf("config: engine.widget_attr %q is not a valid attribute name", config.Engine.WidgetAttr)
	}
	if strings.ContainsAny(config.Engine.PropsAttr, " \t\"'>/=") {
		return fmt.Errorf("config: engine.props_attr %q is not a valid attribute name", config.Engine.PropsAttr)
	}
	if config.Engine.WidgetAttr == config.Engine.PropsAttr {
		return fmt.Errorf("config: widget_attr and props_attr must differ")
	}
	switch config.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", config.Log.Level)
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", config.Log.Format)
	}
	if config.Pages.DebounceMs < 0 {
		return fmt.Errorf("config: pages.debounce_ms must not be negative")
	}
	return nil
}
