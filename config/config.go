// Package config holds the startup settings of tcp-guard. Values come from
// defaults, then an optional TOML file, then command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/iwanhae/tcp-guard/guard"
)

type Config struct {
	Listen           string
	RateLimit        int
	TimeWindow       time.Duration
	BlockTime        time.Duration
	TrafficThreshold int64
	AnalyzeInterval  time.Duration

	LogFile  string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BanDBPath   string
	MetricsAddr string
	SSHAddr     string
	SSHHostKey  string

	MaxConns      int
	AcceptRate    float64
	Workers       int
	ReadBuffer    int
	IdleTimeout   time.Duration
	ShutdownGrace time.Duration
	Firewall      bool
}

func Default() Config {
	limits := guard.DefaultLimits()
	return Config{
		Listen:           "0.0.0.0:9999",
		RateLimit:        limits.RateLimit,
		TimeWindow:       limits.TimeWindow,
		BlockTime:        limits.BlockTime,
		TrafficThreshold: limits.TrafficThreshold,
		AnalyzeInterval:  time.Second,
		LogFile:          "server.log",
		LogLevel:         "info",
		ReadBuffer:       1024,
		ShutdownGrace:    5 * time.Second,
		Firewall:         true,
	}
}

// fileConfig is the on-disk shape. Pointers tell an absent key from a zero
// value; durations are whole seconds.
type fileConfig struct {
	Listen                 *string  `toml:"listen"`
	RateLimit              *int     `toml:"rate_limit"`
	TimeWindowSeconds      *int     `toml:"time_window_seconds"`
	BlockTimeSeconds       *int     `toml:"block_time_seconds"`
	TrafficThreshold       *int64   `toml:"traffic_threshold"`
	AnalyzeIntervalSeconds *int     `toml:"analyze_interval_seconds"`
	LogFile                *string  `toml:"log_file"`
	LogLevel               *string  `toml:"log_level"`
	RedisAddr              *string  `toml:"redis_addr"`
	RedisPassword          *string  `toml:"redis_password"`
	RedisDB                *int     `toml:"redis_db"`
	BanDBPath              *string  `toml:"ban_db_path"`
	MetricsAddr            *string  `toml:"metrics_addr"`
	SSHAddr                *string  `toml:"ssh_addr"`
	SSHHostKey             *string  `toml:"ssh_host_key"`
	MaxConns               *int     `toml:"max_conns"`
	AcceptRate             *float64 `toml:"accept_rate"`
	Workers                *int     `toml:"workers"`
	ReadBuffer             *int     `toml:"read_buffer"`
	IdleTimeoutSeconds     *int     `toml:"idle_timeout_seconds"`
	ShutdownGraceSeconds   *int     `toml:"shutdown_grace_seconds"`
	Firewall               *bool    `toml:"firewall"`
}

// LoadFile applies the TOML file at path on top of cfg. A missing file leaves
// cfg unchanged and reports found=false.
func LoadFile(cfg *Config, path string) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return true, fmt.Errorf("parse %s: %w", path, err)
	}
	applyFileConfig(cfg, fc)
	return true, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Listen != nil {
		cfg.Listen = *fc.Listen
	}
	if fc.RateLimit != nil {
		cfg.RateLimit = *fc.RateLimit
	}
	if fc.TimeWindowSeconds != nil {
		cfg.TimeWindow = seconds(*fc.TimeWindowSeconds)
	}
	if fc.BlockTimeSeconds != nil {
		cfg.BlockTime = seconds(*fc.BlockTimeSeconds)
	}
	if fc.TrafficThreshold != nil {
		cfg.TrafficThreshold = *fc.TrafficThreshold
	}
	if fc.AnalyzeIntervalSeconds != nil {
		cfg.AnalyzeInterval = seconds(*fc.AnalyzeIntervalSeconds)
	}
	if fc.LogFile != nil {
		cfg.LogFile = *fc.LogFile
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.RedisAddr != nil {
		cfg.RedisAddr = *fc.RedisAddr
	}
	if fc.RedisPassword != nil {
		cfg.RedisPassword = *fc.RedisPassword
	}
	if fc.RedisDB != nil {
		cfg.RedisDB = *fc.RedisDB
	}
	if fc.BanDBPath != nil {
		cfg.BanDBPath = *fc.BanDBPath
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.SSHAddr != nil {
		cfg.SSHAddr = *fc.SSHAddr
	}
	if fc.SSHHostKey != nil {
		cfg.SSHHostKey = *fc.SSHHostKey
	}
	if fc.MaxConns != nil {
		cfg.MaxConns = *fc.MaxConns
	}
	if fc.AcceptRate != nil {
		cfg.AcceptRate = *fc.AcceptRate
	}
	if fc.Workers != nil {
		cfg.Workers = *fc.Workers
	}
	if fc.ReadBuffer != nil {
		cfg.ReadBuffer = *fc.ReadBuffer
	}
	if fc.IdleTimeoutSeconds != nil {
		cfg.IdleTimeout = seconds(*fc.IdleTimeoutSeconds)
	}
	if fc.ShutdownGraceSeconds != nil {
		cfg.ShutdownGrace = seconds(*fc.ShutdownGraceSeconds)
	}
	if fc.Firewall != nil {
		cfg.Firewall = *fc.Firewall
	}
}

func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address is empty")
	case c.RateLimit <= 0:
		return fmt.Errorf("rate_limit must be positive, got %d", c.RateLimit)
	case c.TimeWindow <= 0:
		return fmt.Errorf("time_window must be positive, got %s", c.TimeWindow)
	case c.BlockTime <= 0:
		return fmt.Errorf("block_time must be positive, got %s", c.BlockTime)
	case c.TrafficThreshold <= 0:
		return fmt.Errorf("traffic_threshold must be positive, got %d", c.TrafficThreshold)
	case c.AnalyzeInterval <= 0:
		return fmt.Errorf("analyze_interval must be positive, got %s", c.AnalyzeInterval)
	case c.ReadBuffer <= 0:
		return fmt.Errorf("read_buffer must be positive, got %d", c.ReadBuffer)
	case c.MaxConns < 0:
		return fmt.Errorf("max_conns must not be negative, got %d", c.MaxConns)
	case c.AcceptRate < 0:
		return fmt.Errorf("accept_rate must not be negative, got %g", c.AcceptRate)
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	case c.IdleTimeout < 0:
		return fmt.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout)
	}
	return nil
}

// Limits returns the engine thresholds.
func (c Config) Limits() guard.Limits {
	return guard.Limits{
		RateLimit:        c.RateLimit,
		TimeWindow:       c.TimeWindow,
		BlockTime:        c.BlockTime,
		TrafficThreshold: c.TrafficThreshold,
	}
}
