package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/config"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(cfg config.Log) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func main() {
	showVersion := flag.Bool("version", false, "print build info and exit")
	showUsage := flag.Bool("env-help", false, "print supported environment variables and exit")
	flag.Parse()

	switch {
	case *showVersion:
		_, _ = os.Stdout.WriteString(version.String() + "\n")
		return
	case *showUsage:
		config.Usage(os.Stdout)
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTP.Addr,
		"grpc_addr":    cfg.GRPC.Addr,
		"metrics_addr": cfg.Metrics.Addr,
		"storage":      cfg.Storage.Driver,
		"paystack_env": cfg.Paystack.Environment,
		"kafka":        cfg.Kafka.Enabled(),
	}).Info("starting storefront service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("storefront exited with error")
	}
}
