package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agora/config"
	"agora/crypto"
	"agora/node"
	"agora/observability/logging"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	adminFlag := flag.String("admin", "", "Bech32 address seeded as platform admin (overrides AGORA_ADMIN)")
	metricsAddr := flag.String("metrics", ":9464", "Listen address for the Prometheus metrics endpoint")
	sweepInterval := flag.Duration("sweep-interval", time.Minute, "Interval between proposal auto-execution sweeps")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AGORA_ENV"))
	logger := logging.Setup("agorad", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	adminStr := strings.TrimSpace(*adminFlag)
	if adminStr == "" {
		adminStr = strings.TrimSpace(os.Getenv("AGORA_ADMIN"))
	}
	if adminStr == "" {
		logger.Error("no admin address configured; pass -admin or set AGORA_ADMIN")
		os.Exit(1)
	}
	admin, err := crypto.DecodeAddress(adminStr)
	if err != nil {
		logger.Error("invalid admin address", slog.Any("error", err))
		os.Exit(1)
	}

	n, err := node.New(cfg, admin)
	if err != nil {
		logger.Error("failed to start node", slog.Any("error", err))
		os.Exit(1)
	}
	defer n.Close()
	logger.Info("node started", "dataDir", cfg.DataDir, "admin", admin.String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	server := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
			return
		case <-ticker.C:
			results, err := n.AutoExecuteProposals(admin)
			if err != nil {
				logger.Warn("proposal sweep failed", slog.Any("error", err))
				continue
			}
			if len(results) > 0 {
				logger.Info("proposal sweep", "results", len(results))
			}
		}
	}
}
