package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bakery-system/internal/admission"
	"bakery-system/internal/app/api"
	"bakery-system/internal/config"
	"bakery-system/internal/connections/database"
	"bakery-system/internal/connections/rabbitmq"
	"bakery-system/internal/coordinator"
	"bakery-system/internal/discipline"
	"bakery-system/internal/ledger"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/platform"
	"bakery-system/internal/quota"
	"bakery-system/internal/repository"
	"bakery-system/internal/rules"
	"bakery-system/internal/subscriber"
	"bakery-system/internal/sweeper"
)

func main() {
	mode := flag.String("mode", "", "api | sweeper | quota-audit | notify-subscriber")
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	port := flag.Int("port", 0, "api: override http port")
	prefetch := flag.Int("prefetch", 10, "notify-subscriber: RabbitMQ prefetch")
	flag.Parse()

	lg := logger.New("bootstrap")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": *cfgPath})
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "api":
		err = runAPI(ctx, cfg)
	case "sweeper":
		err = runSweeper(ctx, cfg)
	case "quota-audit":
		err = runQuotaAudit(ctx, cfg)
	case "notify-subscriber":
		err = runSubscriber(ctx, cfg, *prefetch)
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: api | sweeper | quota-audit | notify-subscriber")
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("fatal", err, map[string]any{"mode": *mode})
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, cfg *config.Config) error {
	lg := logger.New("fulfillment-api")
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	store := repository.NewStorePG(db)
	notifier := notify.NewAMQP(mq)
	gateway := platform.NewHTTP(cfg.Gateway)
	clock := coordinator.NewClock()

	led := ledger.New(store.Accounts, store.Codes, cfg.Engine)
	disc := discipline.New(store.Accounts, notifier, lg)
	adm := admission.New(store.Orders, store.Accounts, store.Blacklist, cfg.Engine)
	coord := coordinator.New(store, led, disc, adm, gateway, notifier, lg, cfg.Engine, clock)

	if err := coord.Rebuild(ctx); err != nil {
		return err
	}

	health := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return mq.Ping()
	}
	h := api.NewHandler(coord, led, disc, rules.NewFetcher(cfg.Rules.DocumentURL), clock, lg, health)
	return api.Run(ctx, cfg.HTTP.Port, h)
}

func runSweeper(ctx context.Context, cfg *config.Config) error {
	lg := logger.New("delivery-sweeper")
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	s := sweeper.New(repository.NewOrdersPG(db), notify.NewAMQP(mq), lg, cfg.Engine)
	return s.Run(ctx)
}

// runQuotaAudit executes a single audit pass and exits; scheduling is left
// to cron or the deployment platform. The persisted watermark makes
// accidental re-runs harmless.
func runQuotaAudit(ctx context.Context, cfg *config.Config) error {
	lg := logger.New("quota-audit")
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	store := repository.NewStorePG(db)
	notifier := notify.NewAMQP(mq)
	disc := discipline.New(store.Accounts, notifier, lg)
	auditor := quota.New(store, platform.NewHTTP(cfg.Gateway), disc, notifier, lg, cfg.Engine)

	_, err = auditor.Run(ctx, time.Now().UTC())
	return err
}

func runSubscriber(ctx context.Context, cfg *config.Config, prefetch int) error {
	lg := logger.New("notify-subscriber")
	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	sub := subscriber.New(mq, platform.NewHTTP(cfg.Gateway), lg, prefetch)
	return sub.Run(ctx)
}
