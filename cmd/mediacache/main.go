package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mediacache/internal/cache"
	"mediacache/internal/config"
	"mediacache/internal/download"
	"mediacache/internal/logging"
	"mediacache/internal/orchestrator"
	"mediacache/internal/server"
	"mediacache/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional; env vars with MEDIACACHE_ prefix override)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := cfg.ResolveDirs(); err != nil {
		log.Fatalf("resolve dirs: %v", err)
	}
	if err := cfg.ResolveDBPath(); err != nil {
		log.Fatalf("resolve db path: %v", err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel))

	// Check external tools early; both are hard requirements.
	if err := download.CheckYTDLP(); err != nil {
		log.Fatalf("yt-dlp not found: %v", err)
	}
	if err := download.CheckFFmpeg(); err != nil {
		log.Fatalf("ffmpeg not found: %v", err)
	}

	st, err := store.Open(cfg.AbsDBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	// st.Close() is called explicitly during shutdown, after workers drain.

	coord := orchestrator.New(cfg, orchestrator.Options{History: st})

	// Clear stale partial files left by a previous run, then keep the cache
	// within its age and size bounds on the daily schedule.
	if removed, err := cache.SweepTmp(cfg.AbsTmpRoot, cache.TmpMaxAge, time.Now()); err != nil {
		log.Printf("startup tmp sweep: %v", err)
	} else if removed > 0 {
		log.Printf("startup tmp sweep removed %d stale files", removed)
	}
	sweeper := cache.NewSweeper(cfg.AbsCacheRoot, cfg.AbsTmpRoot, cfg.MaxCacheAge(), cfg.MaxCacheSizeBytes(), cfg.MaintenanceHour)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	mux := server.New(coord, st)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // allow streaming progress without premature timeouts
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logging.LogServerStart(cfg.Addr, cfg.Summary())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-shutdownCtx.Done()
	logging.LogServerShutdown("shutdown signal received; draining", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	coord.StopAccepting()
	if err := srv.Shutdown(ctx); err != nil {
		logging.LogServerShutdown("http shutdown", err)
	}
	stopSweeper()
	coord.Shutdown()
	// Close the store after workers drain so late history writes land.
	if err := st.Close(); err != nil {
		logging.LogServerShutdown("close store", err)
	}
	logging.LogServerShutdown("shutdown complete", nil)
}
