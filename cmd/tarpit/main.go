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
	"github.com/scrapewall/backend/internal/eventlog"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
	"github.com/scrapewall/backend/internal/tarpit"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store := metrics.NewStore("tarpit-responder")

	hopsClient, err := kvstore.Dial(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DBHops, cfg.Redis.Password)
	if err != nil {
		slog.Error("hop store unavailable, hop limiting degraded", "error", err)
	}
	flagsClient, err := kvstore.Dial(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DBFlags, cfg.Redis.Password)
	if err != nil {
		slog.Error("flag store unavailable, tarpit flags degraded", "error", err)
	}
	blocklistClient, err := kvstore.Dial(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DBBlocklist, cfg.Redis.Password)
	if err != nil {
		slog.Error("blocklist store unavailable, hop-cap blocks degraded", "error", err)
	}

	hops := kvstore.NewHopCounter(hopsClient, cfg.Engine.FrequencyWindow)
	flags := kvstore.NewFlagStore(flagsClient, cfg.Tarpit.FlagTTL)
	blocklist := kvstore.NewBlocklist(blocklistClient, cfg.Engine.BlocklistTTL)

	hitLog, err := eventlog.Open(cfg.LogDir, eventlog.HoneypotHitsFile)
	if err != nil {
		slog.Error("honeypot log unavailable", "error", err)
		hitLog = nil
	}

	generator, markovOK := buildGenerator(cfg)

	responder := tarpit.NewResponder(tarpit.ResponderConfig{
		MaxHops:         cfg.Tarpit.MaxHops,
		HopLimitEnabled: cfg.Tarpit.HopLimitEnabled,
		MinStreamDelay:  cfg.Tarpit.MinStreamDelay,
		MaxStreamDelay:  cfg.Tarpit.MaxStreamDelay,
		EscalateURL:     cfg.Tarpit.EscalateURL,
	}, hops, flags, blocklist, generator, hitLog, markovOK, store)

	// WriteTimeout stays zero: the whole point of this service is holding
	// connections open while the stream trickles out.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Tarpit.Port),
		Handler:     responder.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
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
		for _, c := range []*kvstore.Client{hopsClient, flagsClient, blocklistClient} {
			_ = c.Close()
		}
	}()

	log.Printf("🕸️  Tarpit responder listening on %s (generator: %s)", server.Addr, cfg.Tarpit.Generator)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// buildGenerator selects the content strategy. A missing or broken Markov
// corpus falls back to the labyrinth so the tarpit always answers.
func buildGenerator(cfg *config.Config) (tarpit.Generator, bool) {
	labyrinth := tarpit.NewLabyrinthGenerator(cfg.Tarpit.LabyrinthDepth, cfg.Tarpit.Fingerprinting)

	if cfg.Tarpit.Generator != "markov" {
		return labyrinth, false
	}
	if cfg.Tarpit.CorpusPath == "" {
		slog.Error("markov generator selected but TARPIT_CORPUS_PATH unset, using labyrinth")
		return labyrinth, false
	}
	model, err := tarpit.LoadMarkov(cfg.Tarpit.CorpusPath)
	if err != nil {
		slog.Error("markov corpus unavailable, using labyrinth", "error", err)
		return labyrinth, false
	}
	return tarpit.NewMarkovGenerator(model, cfg.Tarpit.Fingerprinting), true
}
