// marudb_bench drives a configurable read/write workload through the buffer
// pool manager against a real database file. It is the operational smoke
// test for the storage engine: it exercises page allocation, fetch, unpin,
// eviction under pressure, and flush, while exporting pool metrics over the
// Prometheus endpoint when telemetry is enabled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	bufferpool "github.com/marudb/marudb/core/write_engine/buffer_pool"
	flushmanager "github.com/marudb/marudb/core/write_engine/flush_manager"
	pagemanager "github.com/marudb/marudb/core/write_engine/page_manager"
	"github.com/marudb/marudb/pkg/logger"
	"github.com/marudb/marudb/pkg/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Config is the top-level yaml configuration for the bench run.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	DB        DBConfig         `yaml:"db"`
	Bench     BenchConfig      `yaml:"bench"`
}

// DBConfig describes the database file and buffer pool geometry.
type DBConfig struct {
	Path      string `yaml:"path"`
	PageSize  int    `yaml:"page_size"`
	PoolSize  int    `yaml:"pool_size"`
	ReplacerK int    `yaml:"replacer_k"`
	// Policy selects the replacement policy: "lru-k" (default) or "lru".
	Policy string `yaml:"policy"`
}

// BenchConfig describes the workload shape.
type BenchConfig struct {
	Workers       int     `yaml:"workers"`
	OpsPerWorker  int     `yaml:"ops_per_worker"`
	RateOpsPerSec int     `yaml:"rate_ops_per_sec"`
	ReadFraction  float64 `yaml:"read_fraction"`
}

func defaultConfig() Config {
	return Config{
		Logger: logger.Config{
			Level:            "info",
			Format:           "console",
			OutputFile:       "stdout",
			SampleInitial:    100,
			SampleThereafter: 1000,
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "marudb_bench",
			PrometheusPort: 9464,
		},
		DB: DBConfig{
			Path:      "data/marudb_bench.db",
			PageSize:  4096,
			PoolSize:  128,
			ReplacerK: 2,
			Policy:    "lru-k",
		},
		Bench: BenchConfig{
			Workers:       4,
			OpsPerWorker:  10000,
			RateOpsPerSec: 0,
			ReadFraction:  0.8,
		},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry init failed", zap.Error(err))
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	if err := run(cfg, log, tel); err != nil {
		log.Fatal("bench failed", zap.Error(err))
	}
}

func run(cfg Config, log *zap.Logger, tel *telemetry.Telemetry) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	dm, err := flushmanager.NewDiskManager(cfg.DB.Path, cfg.DB.PageSize, log.Named("disk"))
	if err != nil {
		return err
	}
	if _, err := dm.Open(false); err != nil {
		if !errors.Is(err, flushmanager.ErrDBFileNotFound) {
			return err
		}
		log.Info("database file not found, creating", zap.String("path", cfg.DB.Path))
		if _, err := dm.Open(true); err != nil {
			return err
		}
	}

	var replacer bufferpool.Replacer
	switch cfg.DB.Policy {
	case "", "lru-k":
		replacer = bufferpool.NewLRUKReplacer(cfg.DB.PoolSize, cfg.DB.ReplacerK)
	case "lru":
		replacer = bufferpool.NewLRUReplacer(cfg.DB.PoolSize)
	default:
		return fmt.Errorf("unknown replacement policy %q", cfg.DB.Policy)
	}

	bpm, err := bufferpool.NewBufferPoolManagerWithReplacer(cfg.DB.PoolSize, replacer, dm, log.Named("buffer_pool"), tel.Meter)
	if err != nil {
		return err
	}

	ctx, span := tel.Tracer.Start(context.Background(), "bench.run")
	defer span.End()

	var limiter *rate.Limiter
	if cfg.Bench.RateOpsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Bench.RateOpsPerSec), cfg.Bench.Workers)
	}

	var (
		mu      sync.Mutex
		pageIDs []pagemanager.PageID
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) { errOnce.Do(func() { runErr = err }) }

	start := time.Now()
	for w := 0; w < cfg.Bench.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + start.UnixNano()))
			payload := make([]byte, 64)

			for op := 0; op < cfg.Bench.OpsPerWorker; op++ {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						fail(err)
						return
					}
				}

				mu.Lock()
				known := len(pageIDs)
				var target pagemanager.PageID
				if known > 0 {
					target = pageIDs[rng.Intn(known)]
				}
				mu.Unlock()

				if known > 0 && rng.Float64() < cfg.Bench.ReadFraction {
					page, err := bpm.FetchPage(target)
					if err != nil {
						if errors.Is(err, flushmanager.ErrBufferPoolFull) {
							continue
						}
						fail(err)
						return
					}
					page.RLock()
					_ = page.GetData()[0]
					page.RUnlock()
					if err := bpm.UnpinPage(target, false); err != nil {
						fail(err)
						return
					}
					continue
				}

				page, pageID, err := bpm.NewPage()
				if err != nil {
					if errors.Is(err, flushmanager.ErrBufferPoolFull) {
						continue
					}
					fail(err)
					return
				}
				rng.Read(payload)
				page.Lock()
				copy(page.GetData(), payload)
				page.Unlock()
				if err := bpm.UnpinPage(pageID, true); err != nil {
					fail(err)
					return
				}
				mu.Lock()
				pageIDs = append(pageIDs, pageID)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if runErr != nil {
		return runErr
	}

	stats := bpm.Stats()
	totalOps := cfg.Bench.Workers * cfg.Bench.OpsPerWorker
	log.Info("bench complete",
		zap.Int("ops", totalOps),
		zap.Duration("elapsed", elapsed),
		zap.Float64("ops_per_sec", float64(totalOps)/elapsed.Seconds()),
		zap.Int("pages_created", len(pageIDs)),
		zap.Int("resident", stats.Resident),
		zap.Int("pinned", stats.Pinned),
		zap.Int("dirty", stats.Dirty),
		zap.Int("free", stats.Free),
		zap.Int("evictable", stats.Evictable))

	return bpm.Close()
}
