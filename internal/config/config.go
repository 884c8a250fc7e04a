// Package config loads the bridge configuration from a YAML file and
// CAPTUREBRIDGE_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// PipeName is the named pipe path for local native consumers
	// (Windows only). Empty disables the pipe transport.
	PipeName string `mapstructure:"pipe_name" yaml:"pipe_name"`

	// StreamFPS is the per-client frame poll rate.
	StreamFPS int `mapstructure:"stream_fps" yaml:"stream_fps"`

	// MaxWidth/MaxHeight cap published frame dimensions for new sessions;
	// zero disables downscaling.
	MaxWidth  int `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight int `mapstructure:"max_height" yaml:"max_height"`

	// VrrEnabled allows tearing on the refresh-hint present.
	VrrEnabled bool `mapstructure:"vrr_enabled" yaml:"vrr_enabled"`

	// BorderRequired keeps the OS capture border around captured windows.
	BorderRequired bool `mapstructure:"border_required" yaml:"border_required"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8418",
		PipeName:   `\\.\pipe\capturebridge`,
		StreamFPS:  30,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("capturebridge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CAPTUREBRIDGE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WriteDefault writes a default config file to the given path, or the
// platform config directory when path is empty.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = filepath.Join(configDir(), "capturebridge.yaml")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "CaptureBridge")
	case "darwin":
		return "/Library/Application Support/CaptureBridge"
	default:
		return "/etc/capturebridge"
	}
}
