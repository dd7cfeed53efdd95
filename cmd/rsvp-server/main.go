package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wedding-notify/internal/automation"
	"wedding-notify/internal/config"
	"wedding-notify/internal/correlator"
	"wedding-notify/internal/handler"
	"wedding-notify/internal/notify"
	"wedding-notify/internal/phone"
	"wedding-notify/internal/storage"
	"wedding-notify/internal/whatsapp"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg := config.Load()

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	store, err := storage.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}

	phones := phone.NewCanonicalizer(cfg.CountryCode)

	var (
		sender  notify.Sender
		waSvc   *whatsapp.Service
		channel = "whatsapp"
	)
	switch cfg.Transport {
	case "whatsapp":
		waSvc, err = whatsapp.NewService(&whatsapp.Config{DataDir: cfg.WhatsAppDataDir}, store, phones, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize WhatsApp service")
		}
		sender = waSvc
	default:
		log.Warn().Str("transport", cfg.Transport).Msg("Using dry-run sender; no messages leave the process")
		sender = notify.NewLogSender(log)
	}

	notifier := notify.NewNotifier(store, sender, channel, log)
	flows := automation.NewFlows(store, log)
	corr := correlator.New(store, notifier, flows, phones, log)

	if waSvc != nil {
		waSvc.SetInboundHandler(func(msg correlator.InboundMessage) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if _, err := corr.Correlate(ctx, msg); err != nil {
					log.Error().Err(err).Str("from", msg.From).Msg("Inbound correlation failed")
				}
			}()
		})
		if err := waSvc.Connect(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to WhatsApp")
		}
		defer waSvc.Disconnect()
	}

	executor := notify.NewExecutor(notifier, log)
	scheduler := automation.NewScheduler(store, executor, automation.SchedulerConfig{
		BatchSize:    cfg.BatchSize,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		ItemTimeout:  cfg.ItemTimeout,
		PollInterval: cfg.PollInterval,
	}, log)
	planner := automation.NewPlanner(store, automation.PlannerConfig{
		Horizon:     cfg.PlannerHorizon,
		MorningHour: cfg.MorningHour,
		Retention:   cfg.Retention,
		Interval:    cfg.PlannerInterval,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)
	go planner.Run(ctx)

	h := handler.New(store, corr, flows, notifier, phones, cfg.WebhookSecret, log)
	router := handler.SetupRouter(h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shut down")
	}
	log.Info().Msg("Server stopped")
}
