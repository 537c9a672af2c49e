package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/notify"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
	"github.com/ariefcatur/marketplace-orders/internal/shutdown"
	"github.com/ariefcatur/marketplace-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("notifier stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	service := cfg.ServiceName + "-notifier"
	otelShutdown, err := telemetry.Init(ctx, service, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(sctx)
	}()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	var mailer notify.Mailer = notify.LogMailer{Log: log}
	if cfg.SMTPAddr != "" {
		m, err := notify.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
		if err != nil {
			return err
		}
		mailer = m
	} else {
		log.Warn("SMTP_ADDR not set; emails are only logged")
	}

	h := notify.NewHandler(log, notify.NewDispatcher(log, mailer), redisx.NewDedup(rdb, "notifier"))
	topics := []string{orders.TopicOrderPlaced, orders.TopicOrderStatusChanged}
	cons := kafkax.NewConsumer(log, cfg.KafkaBrokers, cfg.NotifierGroup, topics, cfg.NotifierWorkers)

	log.Info("notifier consumer started", "group", cfg.NotifierGroup, "topics", topics, "workers", cfg.NotifierWorkers)
	return cons.Start(ctx, h.Handle)
}
