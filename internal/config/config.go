package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds everything the match server needs at startup.
// Environment variables win over the optional YAML overlay file.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	// MoveTimeout is the full inactivity window granted after every
	// accepted move. Not a chess clock: the window always resets whole.
	MoveTimeout time.Duration `yaml:"move_timeout"`

	// MatchInterval is how often the pairing poll runs over the queue.
	MatchInterval time.Duration `yaml:"match_interval"`

	// WaitPerPlayer is the per-queued-player factor used for the
	// estimated-wait figure reported to queued clients. Policy knob only.
	WaitPerPlayer time.Duration `yaml:"wait_per_player"`

	// SendBuffer is the per-connection outbound event buffer. A client
	// that falls this far behind is dropped rather than blocking a room.
	SendBuffer int `yaml:"send_buffer"`
}

type yamlOverlay struct {
	ListenAddr    string `yaml:"listen_addr"`
	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`
	MoveTimeout   string `yaml:"move_timeout"`
	MatchInterval string `yaml:"match_interval"`
	WaitPerPlayer string `yaml:"wait_per_player"`
	SendBuffer    int    `yaml:"send_buffer"`
}

// Load reads CONFIG_FILE (if set) and then the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:    ":8080",
		MoveTimeout:   10 * time.Minute,
		MatchInterval: 2 * time.Second,
		WaitPerPlayer: 5 * time.Second,
		SendBuffer:    64,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MOVE_TIMEOUT")); v != "" {
		d, err := parseWindow(v)
		if err != nil {
			return nil, fmt.Errorf("MOVE_TIMEOUT: %w", err)
		}
		cfg.MoveTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("MATCH_INTERVAL")); v != "" {
		d, err := parseWindow(v)
		if err != nil {
			return nil, fmt.Errorf("MATCH_INTERVAL: %w", err)
		}
		cfg.MatchInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("WAIT_PER_PLAYER")); v != "" {
		d, err := parseWindow(v)
		if err != nil {
			return nil, fmt.Errorf("WAIT_PER_PLAYER: %w", err)
		}
		cfg.WaitPerPlayer = d
	}
	if v := strings.TrimSpace(os.Getenv("SEND_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendBuffer = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.MoveTimeout <= 0 {
		return nil, errors.New("MOVE_TIMEOUT must be positive")
	}
	if cfg.MatchInterval <= 0 {
		return nil, errors.New("MATCH_INTERVAL must be positive")
	}
	return cfg, nil
}

func applyFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var y yamlOverlay
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if strings.TrimSpace(y.ListenAddr) != "" {
		cfg.ListenAddr = strings.TrimSpace(y.ListenAddr)
	}
	if strings.TrimSpace(y.RedisURL) != "" {
		cfg.RedisURL = strings.TrimSpace(y.RedisURL)
	}
	if strings.TrimSpace(y.DatabaseURL) != "" {
		cfg.DatabaseURL = strings.TrimSpace(y.DatabaseURL)
	}
	if strings.TrimSpace(y.MoveTimeout) != "" {
		d, err := parseWindow(y.MoveTimeout)
		if err != nil {
			return fmt.Errorf("move_timeout: %w", err)
		}
		cfg.MoveTimeout = d
	}
	if strings.TrimSpace(y.MatchInterval) != "" {
		d, err := parseWindow(y.MatchInterval)
		if err != nil {
			return fmt.Errorf("match_interval: %w", err)
		}
		cfg.MatchInterval = d
	}
	if strings.TrimSpace(y.WaitPerPlayer) != "" {
		d, err := parseWindow(y.WaitPerPlayer)
		if err != nil {
			return fmt.Errorf("wait_per_player: %w", err)
		}
		cfg.WaitPerPlayer = d
	}
	if y.SendBuffer > 0 {
		cfg.SendBuffer = y.SendBuffer
	}
	return nil
}

// parseWindow accepts either a Go duration ("10m") or bare seconds ("600").
func parseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}
