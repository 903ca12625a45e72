package main

import "errors"

// Config validation errors
var (
	ErrInvalidVariant     = errors.New("variant must be 'flat', 'paged', or 'hybrid'")
	ErrInvalidPoolSize    = errors.New("pool_size must be positive")
	ErrInvalidSWASize     = errors.New("swa_size must be positive for the hybrid variant")
	ErrInvalidPageSize    = errors.New("page_size must be positive")
	ErrUnalignedPoolSize  = errors.New("pool_size must be a multiple of page_size")
	ErrUnalignedSWASize   = errors.New("swa_size must be a multiple of page_size")
	ErrInvalidItemSize    = errors.New("item_size must be positive")
	ErrInvalidSteps       = errors.New("steps must be positive")
	ErrInvalidMaxSeqLen   = errors.New("max_seq_len must be positive")
	ErrInvalidMetricsAddr = errors.New("metrics_addr cannot be empty")
	ErrInvalidLogFormat   = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel    = errors.New("log_level must be debug, info, warn, or error")
)

// Config holds the simulator settings, populated from the environment with
// the KVALLOC prefix (e.g. KVALLOC_VARIANT, KVALLOC_POOL_SIZE).
type Config struct {
	Variant  string `envconfig:"VARIANT" default:"paged"`
	PoolSize int64  `envconfig:"POOL_SIZE" default:"65536"`
	SWASize  int64  `envconfig:"SWA_SIZE" default:"16384"`
	PageSize int64  `envconfig:"PAGE_SIZE" default:"16"`
	ItemSize int64  `envconfig:"ITEM_SIZE" default:"256"`

	Steps     int   `envconfig:"STEPS" default:"1000"`
	MaxSeqLen int64 `envconfig:"MAX_SEQ_LEN" default:"512"`
	Seed      int64 `envconfig:"SEED" default:"1"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:"0.0.0.0:9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	switch cfg.Variant {
	case "flat", "paged", "hybrid":
	default:
		return ErrInvalidVariant
	}
	if cfg.PoolSize <= 0 {
		return ErrInvalidPoolSize
	}
	if cfg.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if cfg.Variant != "flat" && cfg.PoolSize%cfg.PageSize != 0 {
		return ErrUnalignedPoolSize
	}
	if cfg.Variant == "hybrid" {
		if cfg.SWASize <= 0 {
			return ErrInvalidSWASize
		}
		if cfg.SWASize%cfg.PageSize != 0 {
			return ErrUnalignedSWASize
		}
	}
	if cfg.ItemSize <= 0 {
		return ErrInvalidItemSize
	}
	if cfg.Steps <= 0 {
		return ErrInvalidSteps
	}
	if cfg.MaxSeqLen <= 0 {
		return ErrInvalidMaxSeqLen
	}
	if cfg.MetricsAddr == "" {
		return ErrInvalidMetricsAddr
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	return nil
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Variant:     "paged",
		PoolSize:    65536,
		SWASize:     16384,
		PageSize:    16,
		ItemSize:    256,
		Steps:       1000,
		MaxSeqLen:   512,
		Seed:        1,
		MetricsAddr: "0.0.0.0:9090",
		LogFormat:   "json",
		LogLevel:    "info",
	}
}
