package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"videoindex/config"
	"videoindex/inference"
	"videoindex/jobs"
	"videoindex/server"
	"videoindex/storage"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("could not load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if !cfg.HasValidAPI() {
		log.Warn("model API not configured, degraded providers in use")
		fmt.Println(config.Instructions())
	}

	meta := storage.NewClient(cfg, log)
	index := storage.OpenIndex(cfg, log)
	models := inference.NewRegistry(cfg, log)

	pool := jobs.NewPool(cfg.Workers, cfg.QueueSize,
		time.Duration(cfg.JobTimeoutMin)*time.Minute, log)

	sweeper := &jobs.Sweeper{
		Store:    meta,
		Kinds:    []string{storage.JobFrameAnalysis, storage.JobTranscription, storage.JobSummarization},
		Interval: time.Duration(cfg.SweepIntervalMin) * time.Minute,
		MaxAge:   time.Duration(cfg.StaleJobMin) * time.Minute,
		Log:      log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sweeper.Run(ctx)

	srv := &server.Server{
		Cfg:    cfg,
		Log:    log,
		Meta:   meta,
		Models: models,
		Index:  index,
		Pool:   pool,
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	pool.Shutdown()
	log.Info("stopped")
}
