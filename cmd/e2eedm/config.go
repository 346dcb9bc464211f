package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the process streams and file locations used by run.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Home is the directory holding config.yaml and the key cache.
	// Defaults to $HOME/.e2eedm.
	Home string
}

// DefaultConfig returns a Config wired to the process streams.
func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (c Config) home() (string, error) {
	if c.Home != "" {
		return c.Home, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".e2eedm"), nil
}

// settings is the on-disk configuration. Values are layered as defaults,
// then the file, then E2EEDM_* variables, then flags.
type settings struct {
	BaseURL  string        `yaml:"base_url"`
	Token    string        `yaml:"token"`
	ActorID  string        `yaml:"actor_id"`
	Handle   string        `yaml:"handle"`
	CacheDir string        `yaml:"cache_dir"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  *int          `yaml:"retries"`
	LogLevel string        `yaml:"log_level"`
}

func defaultSettings(home string) settings {
	return settings{
		CacheDir: filepath.Join(home, "keys"),
		Timeout:  30 * time.Second,
		LogLevel: "warn",
	}
}

// loadSettings reads path over the defaults. A missing file is not an error.
func loadSettings(path, home string) (settings, error) {
	s := defaultSettings(home)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		applyEnvOverrides(&s)
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read config: %w", err)
	}

	var parsed settings
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return s, fmt.Errorf("parse config %s: %w", path, err)
	}
	merge(&s, parsed)
	applyEnvOverrides(&s)
	return s, nil
}

func merge(dst *settings, src settings) {
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.Token != "" {
		dst.Token = src.Token
	}
	if src.ActorID != "" {
		dst.ActorID = src.ActorID
	}
	if src.Handle != "" {
		dst.Handle = src.Handle
	}
	if src.CacheDir != "" {
		dst.CacheDir = src.CacheDir
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if src.Retries != nil {
		dst.Retries = src.Retries
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

func applyEnvOverrides(s *settings) {
	if v := strings.TrimSpace(os.Getenv("E2EEDM_BASE_URL")); v != "" {
		s.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("E2EEDM_TOKEN")); v != "" {
		s.Token = v
	}
}
