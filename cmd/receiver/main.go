package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scrapewall/backend/internal/alerts"
	"github.com/scrapewall/backend/internal/config"
	"github.com/scrapewall/backend/internal/eventlog"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
	"github.com/scrapewall/backend/internal/receiver"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store := metrics.NewStore("webhook-receiver")

	// The blocklist is the receiver's reason to exist; refuse to start
	// without it.
	blocklistClient, err := kvstore.Dial(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DBBlocklist, cfg.Redis.Password)
	if err != nil {
		log.Fatalf("Blocklist store unavailable: %v", err)
	}
	blocklist := kvstore.NewBlocklist(blocklistClient, cfg.Engine.BlocklistTTL)

	blockLog, err := eventlog.Open(cfg.LogDir, eventlog.BlockEventsFile)
	if err != nil {
		slog.Error("block event log unavailable", "error", err)
		blockLog = nil
	}
	alertLog, err := eventlog.Open(cfg.LogDir, eventlog.AlertEventsFile)
	if err != nil {
		slog.Error("alert event log unavailable", "error", err)
		alertLog = nil
	}

	dispatcher := alerts.NewDispatcher(buildSinks(cfg), cfg.Alerts.MinSeverity, alertLog, store)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ReceiverPort),
		Handler:      receiver.NewServer(blocklist, dispatcher, blockLog, store).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		blocklistClient.Close()
	}()

	log.Printf("📥 Webhook receiver listening on %s (alert method: %s)", server.Addr, cfg.Alerts.Method)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// buildSinks assembles the alert channel selected by ALERT_METHOD.
func buildSinks(cfg *config.Config) []alerts.Sink {
	var sinks []alerts.Sink
	switch cfg.Alerts.Method {
	case "webhook":
		if sink := alerts.NewGenericWebhook(cfg.Alerts.GenericURL); sink != nil {
			sinks = append(sinks, sink)
		}
	case "slack":
		if sink := alerts.NewSlackSink(cfg.Alerts.SlackURL, cfg.Alerts.SlackUsername, cfg.Alerts.SlackIcon); sink != nil {
			sinks = append(sinks, sink)
		}
	case "smtp":
		if sink := alerts.NewSMTPSink(alerts.SMTPConfig{
			Host:         cfg.Alerts.SMTPHost,
			Port:         cfg.Alerts.SMTPPort,
			Username:     cfg.Alerts.SMTPUser,
			Password:     cfg.Alerts.SMTPPassword,
			PasswordFile: cfg.Alerts.SMTPPasswordFile,
			UseTLS:       cfg.Alerts.SMTPUseTLS,
			From:         cfg.Alerts.SMTPFrom,
			To:           cfg.Alerts.SMTPTo,
		}); sink != nil {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}
