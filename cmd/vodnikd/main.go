// vodnikd is the ingest-and-storage core's server entrypoint: it
// recovers from the WAL, then serves ingest traffic until signaled to
// stop.
//
// Usage:
//
//	vodnikd [flags]
//
// Flags:
//
//	-config string   Path to a JSON config file (default "vodnikd.json")
//	-addr string     Ingest server address
//	-metrics-addr string  Metrics server address
//	-loglevel string Log level: debug, info, warn, error
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/mattg23/vodnik/internal/catalog"
	"github.com/mattg23/vodnik/internal/config"
	"github.com/mattg23/vodnik/internal/hotset"
	"github.com/mattg23/vodnik/internal/ingest"
	"github.com/mattg23/vodnik/internal/metrics"
	"github.com/mattg23/vodnik/internal/objectstore"
	"github.com/mattg23/vodnik/internal/recovery"
	"github.com/mattg23/vodnik/internal/seriesmeta"
	"github.com/mattg23/vodnik/internal/version"
	"github.com/mattg23/vodnik/internal/walog"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", envOrDefault("VODNIK_CONFIG", "vodnikd.json"), "Path to JSON config file")
	seriesPath := flag.String("series", envOrDefault("VODNIK_SERIES", "series.json"), "Path to series descriptor registry")
	addr := flag.String("addr", "", "Ingest server address (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics server address (overrides config)")
	logLevelFlag := flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vodnikd %s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		fmt.Fprintf(os.Stderr, "vodnikd: maxprocs.Set failed: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vodnikd: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	level.Info(logger).Log("msg", "vodnikd starting", "version", version.Version)

	if err := run_(cfg, *seriesPath, logger); err != nil {
		level.Error(logger).Log("msg", "vodnikd exited with error", "err", err)
		os.Exit(1)
	}
}

func newLogger(levelName, format string) log.Logger {
	var logger log.Logger
	if format == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var opt level.Option
	switch levelName {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}

func run_(cfg *config.Config, seriesPath string, logger log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	descriptors, err := seriesmeta.LoadFile(seriesPath)
	if err != nil {
		return fmt.Errorf("failed to load series registry: %w", err)
	}

	reg := metrics.New()

	maxWALBytes, err := cfg.WALMaxFileSizeBytes()
	if err != nil {
		return err
	}
	walMetrics := walog.NewMetrics(reg)
	wal, err := walog.Open(cfg.WALDir, maxWALBytes, walMetrics)
	if err != nil {
		return fmt.Errorf("failed to open WAL: %w", err)
	}
	defer wal.Close()

	hot := hotset.New(0)

	cat, err := catalog.Open(ctx, cfg.CatalogDSN)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer cat.Close()

	obj, err := objectstore.Open(cfg.ObjectStoreRoot)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	ingestMetrics := ingest.NewMetrics(reg)
	coordinator := ingest.New(descriptors, wal, hot, cat, obj, 0,
		ingest.WithLogger(logger),
		ingest.WithMetrics(ingestMetrics),
		ingest.WithMaxConcurrentFlushes(cfg.MaxConcurrentFlushes),
	)

	level.Info(logger).Log("msg", "running startup recovery")
	if err := recovery.Run(ctx, cfg.WALDir, descriptors, coordinator, hot, logger); err != nil {
		level.Warn(logger).Log("msg", "recovery completed with errors", "err", err)
	}

	var g run.Group

	// Ingest HTTP surface. Request parsing is intentionally thin: the
	// HTTP/JSON surface proper is out of scope (spec.md §1); this is
	// just enough to drive the coordinator end to end.
	ingestSrv := &http.Server{Addr: cfg.Addr, Handler: ingestHandler(coordinator, logger)}
	g.Add(func() error {
		level.Info(logger).Log("msg", "ingest server listening", "addr", cfg.Addr)
		if err := ingestSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		ingestSrv.Close()
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
	g.Add(func() error {
		level.Info(logger).Log("msg", "metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		metricsSrv.Close()
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	g.Add(func() error {
		select {
		case sig := <-sigCh:
			level.Info(logger).Log("msg", "received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		return nil
	}, func(error) {
		cancel()
		close(sigCh)
	})

	if err := g.Run(); err != nil {
		level.Warn(logger).Log("msg", "server group exited", "err", err)
	}

	level.Info(logger).Log("msg", "waiting for in-flight flushes")
	if err := coordinator.Wait(); err != nil {
		level.Warn(logger).Log("msg", "background flush group exited with error", "err", err)
	}
	return nil
}

func ingestHandler(c *ingest.Coordinator, logger log.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var batch wireBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, fmt.Sprintf("invalid batch: %v", err), http.StatusBadRequest)
			return
		}
		if err := c.Ingest(r.Context(), batch.toIngestBatch()); err != nil {
			level.Warn(logger).Log("msg", "ingest failed", "err", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}
