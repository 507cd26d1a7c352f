package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/api"
	"github.com/systeminit/pluto/internal/config"
	"github.com/systeminit/pluto/internal/controlplane"
	"github.com/systeminit/pluto/internal/events"
	"github.com/systeminit/pluto/internal/logger"
	"github.com/systeminit/pluto/internal/metrics"
	"github.com/systeminit/pluto/internal/orchestrator"
	"github.com/systeminit/pluto/internal/progress"
	"github.com/systeminit/pluto/internal/runner"
	"github.com/systeminit/pluto/internal/store"
	"github.com/systeminit/pluto/internal/telemetry"
)

func init() {
	if err := godotenv.Load("./.env"); err != nil {
		log.Println("No .env file found, reading from system environment")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "./configs/pluto.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	zl, err := logger.New(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("error building logger: %v", err)
	}
	defer zl.Sync()

	metrics.Init()
	shutdownTracer := telemetry.InitTracer("pluto")
	defer shutdownTracer(context.Background())

	st, err := store.Open(cfg.Store.Path, zl)
	if err != nil {
		zl.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	rec := progress.NewRecorder(st.DB(), zl)

	var broker *events.Broker
	if cfg.Broker.URL != "" {
		broker, err = events.New(cfg.Broker.URL, cfg.Broker.Subject, zl)
		if err != nil {
			zl.Warn("events broker unavailable, continuing without it", zap.Error(err))
		} else {
			defer broker.Close()
			rec.OnStep = broker.PublishStep
		}
	}

	cp := controlplane.New(cfg.ControlPlane.URL, cfg.ControlPlaneToken(), zl)

	var run runner.Runner = runner.Nop{Logger: zl}
	if cfg.Runner.URL != "" {
		run = runner.NewHTTP(cfg.Runner.URL, zl)
	}

	orc := orchestrator.New(ctx, cp, st, rec, run, zl, orchestrator.Options{
		CommitTimeout:   time.Duration(cfg.Pipeline.CommitTimeout),
		ExtractInterval: time.Duration(cfg.Pipeline.ExtractInterval),
		ExtractTimeout:  time.Duration(cfg.Pipeline.ExtractTimeout),
		OverallTimeout:  time.Duration(cfg.Pipeline.OverallTimeout),
	})

	r := api.NewRouter(orc, st, rec, zl)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		zl.Info("🌐 HTTP server started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP shutdown error", zap.Error(err))
	}
}
