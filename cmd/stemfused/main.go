package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"stemfuse/internal/config"
	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Args(logging.Error(err))...)
		return
	}

	d, err := buildDaemon(cfg, store, logger)
	if err != nil {
		logger.Error("assemble daemon", logging.Args(logging.Error(err))...)
		_ = store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Args(logging.Error(err))...)
		return
	}

	<-ctx.Done()
	d.Stop()
}
