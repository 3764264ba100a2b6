// Package config defines the engine's typed configuration and loads
// it with spf13/viper, layering a YAML file over CARTVAULT_-prefixed
// environment variables over compiled-in defaults. Every field is
// validated at the boundary with go-playground/validator struct tags
// instead of being trusted as-is.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// BreakerMode selects the Circuit Breaker Registry's topology.
type BreakerMode string

const (
	BreakerOff     BreakerMode = "off"
	BreakerGlobal  BreakerMode = "global"
	BreakerPerHost BreakerMode = "per_host"
)

// EngineConfig is the engine's full set of tunables.
type EngineConfig struct {
	MaxParallelDownloads int           `mapstructure:"max_parallel_downloads" validate:"min=1,max=10"`
	MaxChunksPerDownload int           `mapstructure:"max_chunks_per_download" validate:"min=1,max=16"`
	MinChunksPerDownload int           `mapstructure:"min_chunks_per_download" validate:"min=1,max=16"`
	MaxChunkRetries      int           `mapstructure:"max_chunk_retries" validate:"min=0,max=50"`
	ChunkTimeoutMinutes  float64       `mapstructure:"chunk_timeout_min" validate:"min=0.5,max=60"`
	IdleTimeoutSeconds   int           `mapstructure:"idle_timeout_s" validate:"min=1,max=600"`
	ConnectTimeoutSeconds int          `mapstructure:"connect_timeout_s" validate:"min=1,max=120"`
	SkipVerification     bool          `mapstructure:"skip_verification"`
	DisableChunked       bool          `mapstructure:"disable_chunked"`
	CircuitBreakerMode   BreakerMode   `mapstructure:"circuit_breaker_mode" validate:"oneof=off global per_host"`
	PerHostCap           int           `mapstructure:"per_host_cap" validate:"min=1,max=10"`
	HostAllowlist        []string      `mapstructure:"host_allowlist" validate:"dive,hostname|fqdn|ip"`
	StateDBPath          string        `mapstructure:"state_db_path" validate:"required"`
	StagingDirSuffix     string        `mapstructure:"staging_dir_suffix"`
	UserAgent            string        `mapstructure:"user_agent" validate:"required"`
	ControlAddr          string        `mapstructure:"control_addr"`
	AgeWeight            float64       `mapstructure:"age_weight" validate:"min=0"`
	PriorityWeight       float64       `mapstructure:"priority_weight" validate:"min=0"`
}

// Defaults returns the engine's out-of-the-box tunable values.
func Defaults() EngineConfig {
	return EngineConfig{
		MaxParallelDownloads:  3,
		MaxChunksPerDownload:  8,
		MinChunksPerDownload:  1,
		MaxChunkRetries:       5,
		ChunkTimeoutMinutes:   5,
		IdleTimeoutSeconds:    60,
		ConnectTimeoutSeconds: 30,
		SkipVerification:      false,
		DisableChunked:        false,
		CircuitBreakerMode:    BreakerPerHost,
		PerHostCap:            3,
		HostAllowlist:         []string{},
		StateDBPath:           "downloads-state.db",
		StagingDirSuffix:      ".dpnh",
		UserAgent:             "cartvault/1.0",
		ControlAddr:           "127.0.0.1:7887",
		AgeWeight:             0.01,
		PriorityWeight:        100,
	}
}

// Load reads defaults, then a YAML file at path (if non-empty and it
// exists), then CARTVAULT_* environment overrides, and validates the
// result.
func Load(path string) (EngineConfig, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("CARTVAULT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg EngineConfig) {
	v.SetDefault("max_parallel_downloads", cfg.MaxParallelDownloads)
	v.SetDefault("max_chunks_per_download", cfg.MaxChunksPerDownload)
	v.SetDefault("min_chunks_per_download", cfg.MinChunksPerDownload)
	v.SetDefault("max_chunk_retries", cfg.MaxChunkRetries)
	v.SetDefault("chunk_timeout_min", cfg.ChunkTimeoutMinutes)
	v.SetDefault("idle_timeout_s", cfg.IdleTimeoutSeconds)
	v.SetDefault("connect_timeout_s", cfg.ConnectTimeoutSeconds)
	v.SetDefault("skip_verification", cfg.SkipVerification)
	v.SetDefault("disable_chunked", cfg.DisableChunked)
	v.SetDefault("circuit_breaker_mode", string(cfg.CircuitBreakerMode))
	v.SetDefault("per_host_cap", cfg.PerHostCap)
	v.SetDefault("host_allowlist", cfg.HostAllowlist)
	v.SetDefault("state_db_path", cfg.StateDBPath)
	v.SetDefault("staging_dir_suffix", cfg.StagingDirSuffix)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("control_addr", cfg.ControlAddr)
	v.SetDefault("age_weight", cfg.AgeWeight)
	v.SetDefault("priority_weight", cfg.PriorityWeight)
}

var validate = validator.New()

// Validate runs the struct-tag validation independently of Load, so
// programmatically constructed configs (tests, embedders) get the
// same boundary check.
func Validate(cfg EngineConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.MinChunksPerDownload > cfg.MaxChunksPerDownload {
		return fmt.Errorf("invalid engine config: min_chunks_per_download > max_chunks_per_download")
	}
	return nil
}
