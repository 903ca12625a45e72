package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/23skdu/kvalloc/internal/alloc"
	"github.com/23skdu/kvalloc/internal/kvcache"
	"github.com/23skdu/kvalloc/internal/logging"
)

func main() {
	// .env is optional; the environment wins over it either way.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KVALLOC", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse environment: %v\n", err)
		os.Exit(1)
	}
	if err := ValidateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	go func() {
		logger.Info("starting metrics server", zap.String("address", cfg.MetricsAddr))
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	a, release, err := buildAllocator(cfg)
	if err != nil {
		logger.Fatal("failed to build allocator", zap.Error(err))
	}
	defer release()

	logger.Info("starting simulation",
		zap.String("variant", cfg.Variant),
		zap.Int64("pool_size", cfg.PoolSize),
		zap.Int64("page_size", a.PageSize()),
		zap.Int("steps", cfg.Steps))

	newSimulator(cfg, a, logger).run()
}

// buildAllocator wires the configured variant to an arena-backed token pool.
// The returned release func tears the pool down.
func buildAllocator(cfg Config) (alloc.Allocator, func(), error) {
	arena := kvcache.NewArenaAllocator()

	switch cfg.Variant {
	case "flat":
		kv, err := kvcache.NewTokenPool(cfg.PoolSize+1, cfg.ItemSize, arena)
		if err != nil {
			return nil, nil, err
		}
		a := alloc.NewFlat(cfg.PoolSize, kv)
		return a, func() { kv.Release(); arena.Release() }, nil

	case "paged":
		kv, err := kvcache.NewTokenPool(cfg.PoolSize+cfg.PageSize, cfg.ItemSize, arena)
		if err != nil {
			return nil, nil, err
		}
		a, err := alloc.NewPaged(cfg.PoolSize, cfg.PageSize, kv)
		if err != nil {
			kv.Release()
			return nil, nil, err
		}
		return a, func() { kv.Release(); arena.Release() }, nil

	case "hybrid":
		full, err := kvcache.NewTokenPool(cfg.PoolSize+cfg.PageSize, cfg.ItemSize, arena)
		if err != nil {
			return nil, nil, err
		}
		swa, err := kvcache.NewTokenPool(cfg.SWASize+cfg.PageSize, cfg.ItemSize, arena)
		if err != nil {
			full.Release()
			return nil, nil, err
		}
		kv := kvcache.NewSWAPool(full, swa)
		a, err := alloc.NewSWA(cfg.PoolSize, cfg.SWASize, cfg.PageSize, kv)
		if err != nil {
			kv.Release()
			return nil, nil, err
		}
		return a, func() { kv.Release(); arena.Release() }, nil

	default:
		return nil, nil, ErrInvalidVariant
	}
}
