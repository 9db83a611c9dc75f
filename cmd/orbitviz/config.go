package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/star/orbitviz/internal/auth"
	"github.com/star/orbitviz/internal/propagation"
	"github.com/star/orbitviz/internal/session"
	"github.com/star/orbitviz/internal/stream"
	"github.com/star/orbitviz/internal/tracing"
)

// fileConfig mirrors the optional TOML file named by ORBITVIZ_CONFIG.
// Environment variables override every key.
type fileConfig struct {
	LogLevel string `toml:"log_level"`

	HTTP struct {
		Addr       string `toml:"addr"`
		AssetDir   string `toml:"asset_dir"`
		TrustProxy bool   `toml:"trust_proxy"`
	} `toml:"http"`

	Auth struct {
		Enabled bool   `toml:"enabled"`
		Token   string `toml:"token"`
	} `toml:"auth"`

	TLE struct {
		Source   string `toml:"source"`
		CacheDir string `toml:"cache_dir"`
		MaxFiles int    `toml:"max_files"`
	} `toml:"tle"`

	Propagation struct {
		Workers     int    `toml:"workers"`
		Steps       int    `toml:"steps"`
		StepSeconds int    `toml:"step_seconds"`
		GapPolicy   string `toml:"gap_policy"`
	} `toml:"propagation"`

	Session struct {
		IdleMinutes     int `toml:"idle_minutes"`
		FrameIntervalMs int `toml:"frame_interval_ms"`
	} `toml:"session"`

	Stream struct {
		MaxConcurrentPerIP int `toml:"max_concurrent_per_ip"`
		MaxConcurrent      int `toml:"max_concurrent"`
		KeepaliveSeconds   int `toml:"keepalive_seconds"`
	} `toml:"stream"`

	Tracing struct {
		Enabled     bool    `toml:"enabled"`
		ServiceName string  `toml:"service_name"`
		Exporter    string  `toml:"exporter"`
		SampleRatio float64 `toml:"sample_ratio"`
	} `toml:"tracing"`
}

// serverConfig is everything main needs outside the package configs.
type serverConfig struct {
	Addr       string
	AssetDir   string
	TrustProxy bool
}

// tleConfig locates the dataset and its cache.
type tleConfig struct {
	Source   string
	CacheDir string
	MaxFiles int
}

// loadFileConfig decodes path when it is set. Unknown keys are logged, not
// fatal.
func loadFileConfig(path string, logger *slog.Logger) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	md, err := toml.DecodeFile(path, fc)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		logger.Warn("unknown config key", "file", path, "key", key.String())
	}
	logger.Info("loaded config file", "file", path)
	return fc, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.TrimSpace(s)))
	return level, err
}

func loadLogLevel(logger *slog.Logger, fc *fileConfig) slog.Level {
	v := fc.LogLevel
	if env := os.Getenv("ORBITVIZ_LOG_LEVEL"); env != "" {
		v = env
	}
	if v == "" {
		return slog.LevelInfo
	}
	level, err := parseLogLevel(v)
	if err != nil {
		logger.Warn("invalid log level, using info", "value", v)
		return slog.LevelInfo
	}
	return level
}

func loadServerConfig(logger *slog.Logger, fc *fileConfig) serverConfig {
	cfg := serverConfig{
		Addr:       ":8080",
		AssetDir:   "data",
		TrustProxy: fc.HTTP.TrustProxy,
	}
	if fc.HTTP.Addr != "" {
		cfg.Addr = fc.HTTP.Addr
	}
	if fc.HTTP.AssetDir != "" {
		cfg.AssetDir = fc.HTTP.AssetDir
	}

	if v := os.Getenv("ORBITVIZ_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("ORBITVIZ_ASSET_DIR"); v != "" {
		cfg.AssetDir = v
	}
	cfg.TrustProxy = envBool(logger, "ORBITVIZ_TRUST_PROXY", cfg.TrustProxy)

	logger.Info("http config",
		"addr", cfg.Addr,
		"asset_dir", cfg.AssetDir,
		"trust_proxy", cfg.TrustProxy,
	)
	return cfg
}

func loadAuthConfig(logger *slog.Logger, fc *fileConfig) (auth.Config, error) {
	cfg := auth.Config{
		Enabled: fc.Auth.Enabled,
		Token:   fc.Auth.Token,
	}

	if v := os.Getenv("ORBITVIZ_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("ORBITVIZ_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}
	if v := os.Getenv("ORBITVIZ_AUTH_TOKEN"); v != "" {
		cfg.Token = v
	}

	if cfg.Enabled {
		if cfg.Token == "" {
			return cfg, errors.New("ORBITVIZ_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}
	return cfg, nil
}

func loadTLEConfig(logger *slog.Logger, fc *fileConfig) tleConfig {
	cfg := tleConfig{
		Source:   "data/tle.txt",
		CacheDir: "/tmp/orbitviz/tle",
		MaxFiles: 5,
	}
	if fc.TLE.Source != "" {
		cfg.Source = fc.TLE.Source
	}
	if fc.TLE.CacheDir != "" {
		cfg.CacheDir = fc.TLE.CacheDir
	}
	if fc.TLE.MaxFiles > 0 {
		cfg.MaxFiles = fc.TLE.MaxFiles
	}

	if v := os.Getenv("ORBITVIZ_TLE_SOURCE"); v != "" {
		cfg.Source = v
	}
	if v := os.Getenv("ORBITVIZ_TLE_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	cfg.MaxFiles = envInt(logger, "ORBITVIZ_TLE_CACHE_MAX_FILES", cfg.MaxFiles)

	logger.Info("TLE config",
		"source", cfg.Source,
		"cache_dir", cfg.CacheDir,
		"max_files", cfg.MaxFiles,
	)
	return cfg
}

func loadPropConfig(logger *slog.Logger, fc *fileConfig) propagation.Config {
	cfg := propagation.DefaultConfig()
	cfg.Workers = runtime.NumCPU()

	if fc.Propagation.Workers > 0 {
		cfg.Workers = fc.Propagation.Workers
	}
	if fc.Propagation.Steps > 0 {
		cfg.Steps = fc.Propagation.Steps
	}
	if fc.Propagation.StepSeconds > 0 {
		cfg.Step = time.Duration(fc.Propagation.StepSeconds) * time.Second
	}

	cfg.Workers = envInt(logger, "ORBITVIZ_PROP_WORKERS", cfg.Workers)
	cfg.Steps = envInt(logger, "ORBITVIZ_PROP_STEPS", cfg.Steps)
	cfg.Step = envSeconds(logger, "ORBITVIZ_PROP_STEP", cfg.Step)

	policy := fc.Propagation.GapPolicy
	if v := os.Getenv("ORBITVIZ_GAP_POLICY"); v != "" {
		policy = v
	}
	if policy != "" {
		p, err := propagation.ParseGapPolicy(policy)
		if err != nil {
			logger.Warn("invalid gap policy, using default", "value", policy, "default", cfg.GapPolicy)
		} else {
			cfg.GapPolicy = p
		}
	}

	logger.Info("propagation config",
		"workers", cfg.Workers,
		"steps", cfg.Steps,
		"step_seconds", cfg.Step.Seconds(),
		"gap_policy", cfg.GapPolicy,
	)
	return cfg
}

func loadSessionConfig(logger *slog.Logger, fc *fileConfig) session.Config {
	cfg := session.DefaultConfig()
	if fc.Session.IdleMinutes > 0 {
		cfg.IdleTimeout = time.Duration(fc.Session.IdleMinutes) * time.Minute
	}
	if fc.Session.FrameIntervalMs > 0 {
		cfg.FrameInterval = time.Duration(fc.Session.FrameIntervalMs) * time.Millisecond
	}

	if v := os.Getenv("ORBITVIZ_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Warn("invalid ORBITVIZ_SESSION_IDLE_TIMEOUT value, using default", "value", v, "default", cfg.IdleTimeout)
		} else {
			cfg.IdleTimeout = d
		}
	}
	if v := os.Getenv("ORBITVIZ_FRAME_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Warn("invalid ORBITVIZ_FRAME_INTERVAL value, using default", "value", v, "default", cfg.FrameInterval)
		} else {
			cfg.FrameInterval = d
		}
	}

	logger.Info("session config",
		"idle_timeout", cfg.IdleTimeout.String(),
		"frame_interval", cfg.FrameInterval.String(),
	)
	return cfg
}

func loadStreamConfig(logger *slog.Logger, fc *fileConfig) stream.Config {
	cfg := stream.DefaultConfig()
	if fc.Stream.MaxConcurrentPerIP > 0 {
		cfg.MaxConcurrentPerIP = fc.Stream.MaxConcurrentPerIP
	}
	if fc.Stream.MaxConcurrent > 0 {
		cfg.MaxConcurrent = fc.Stream.MaxConcurrent
	}
	if fc.Stream.KeepaliveSeconds > 0 {
		cfg.KeepaliveInterval = time.Duration(fc.Stream.KeepaliveSeconds) * time.Second
	}

	cfg.MaxConcurrentPerIP = envInt(logger, "ORBITVIZ_STREAM_MAX_CONCURRENT", cfg.MaxConcurrentPerIP)
	cfg.MaxConcurrent = envInt(logger, "ORBITVIZ_STREAM_MAX_TOTAL", cfg.MaxConcurrent)
	cfg.KeepaliveInterval = envSeconds(logger, "ORBITVIZ_STREAM_KEEPALIVE_INTERVAL", cfg.KeepaliveInterval)

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_concurrent", cfg.MaxConcurrent,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
	)
	return cfg
}

func loadTracingConfig(logger *slog.Logger, fc *fileConfig) tracing.Config {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = fc.Tracing.Enabled
	if fc.Tracing.ServiceName != "" {
		cfg.ServiceName = fc.Tracing.ServiceName
	}
	if fc.Tracing.Exporter != "" {
		cfg.Exporter = fc.Tracing.Exporter
	}
	if fc.Tracing.SampleRatio > 0 {
		cfg.SampleRatio = fc.Tracing.SampleRatio
	}

	cfg.Enabled = envBool(logger, "ORBITVIZ_TRACING_ENABLED", cfg.Enabled)
	if v := os.Getenv("ORBITVIZ_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("ORBITVIZ_TRACING_EXPORTER"); v != "" {
		cfg.Exporter = v
	}
	if v := os.Getenv("ORBITVIZ_TRACING_SAMPLE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			logger.Warn("invalid ORBITVIZ_TRACING_SAMPLE_RATIO value, using default", "value", v, "default", cfg.SampleRatio)
		} else {
			cfg.SampleRatio = f
		}
	}
	return cfg
}

// envInt returns the positive integer in key, or def when unset or invalid.
func envInt(logger *slog.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

// envSeconds reads a whole number of seconds from key.
func envSeconds(logger *slog.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", int(def.Seconds()))
		return def
	}
	return time.Duration(n) * time.Second
}

func envBool(logger *slog.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return b
}
