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

	"github.com/scrapewall/backend/internal/config"
	"github.com/scrapewall/backend/internal/escalation"
	"github.com/scrapewall/backend/internal/features"
	"github.com/scrapewall/backend/internal/gateway"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
	"github.com/scrapewall/backend/internal/model"
	"github.com/scrapewall/backend/internal/scoring"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store := metrics.NewStore("escalation-engine")

	// Frequency namespace. A failed dial leaves the tracker degraded
	// (all-zero frequency features) rather than refusing to start.
	var freqClient *kvstore.Client
	if freqClient, err = kvstore.Dial(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DBFrequency, cfg.Redis.Password); err != nil {
		slog.Error("frequency store unavailable, starting degraded", "error", err)
		store.Inc("redis_errors_frequency")
	}
	tracker := kvstore.NewFrequencyTracker(freqClient, cfg.Engine.FrequencyWindow, store)

	var robots *features.Robots
	if cfg.Engine.RobotsFilePath != "" {
		if robots, err = features.LoadRobots(cfg.Engine.RobotsFilePath); err != nil {
			slog.Error("robots rules unavailable", "path", cfg.Engine.RobotsFilePath, "error", err)
			robots = nil
		}
	}
	analyzer := features.NewAnalyzer(features.NewUALists(cfg.KnownBadUA, cfg.KnownBenignUA), robots)

	var classifier scoring.Classifier
	if cfg.Engine.ModelArtifactPath != "" {
		forest, err := model.Load(cfg.Engine.ModelArtifactPath, int(cfg.Engine.FrequencyWindow.Seconds()))
		if err != nil {
			slog.Error("classifier artifact unavailable, rule-only scoring", "error", err)
		} else {
			classifier = forest
			slog.Info("classifier artifact loaded",
				"path", cfg.Engine.ModelArtifactPath, "version", forest.Version)
		}
	}

	scorer := scoring.New(analyzer, classifier, scoring.Thresholds{
		Low:    cfg.Engine.ThresholdLow,
		Medium: cfg.Engine.ThresholdMedium,
		High:   cfg.Engine.ThresholdHigh,
	}, store)

	var localLLM, external gateway.Consultant
	if sink := gateway.NewLocalLLM(cfg.Engine.LocalLLMURL, cfg.Engine.LocalLLMModel, cfg.Engine.LocalLLMTimeout, store); sink != nil {
		localLLM = sink
	}
	if sink := gateway.NewExternalAPI(cfg.Engine.ExternalAPIURL, cfg.Engine.ExternalAPIKey, cfg.Engine.ExternalAPITimeout, store); sink != nil {
		external = sink
	}

	forwarder := escalation.NewForwarder(cfg.Engine.WebhookURL, store)
	if forwarder == nil {
		slog.Warn("no webhook receiver configured, verdicts will not be forwarded")
	}

	pipeline := escalation.NewPipeline(tracker, analyzer, scorer, localLLM, external, forwarder, store)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Engine.Port),
		Handler:      escalation.NewServer(pipeline, store).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // LLM consultation can run long
		IdleTimeout:  60 * time.Second,
	}

	shutdownOnSignal(server, freqClient)

	log.Printf("🛡️  Escalation engine listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

func shutdownOnSignal(server *http.Server, closers ...interface{ Close() error }) {
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
		for _, c := range closers {
			if c != nil {
				_ = c.Close()
			}
		}
	}()
}
