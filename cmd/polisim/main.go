// Command polisim runs the political simulation server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polisim/internal/api"
	"polisim/internal/config"
	"polisim/internal/engine"
	"polisim/internal/llm"
	"polisim/internal/memory"
	"polisim/internal/persistence"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := persistence.Open(cfg.Server.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database opened", "path", cfg.Server.DBPath)

	registry := engine.NewRegistry()
	sims, err := store.LoadSimulations(context.Background())
	if err != nil {
		slog.Error("failed to restore simulations", "error", err)
		os.Exit(1)
	}
	for _, sim := range sims {
		registry.Add(sim)
	}
	slog.Info("simulations restored", "count", len(sims))

	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	llmClient := llm.NewClient(anthropicKey)
	if llmClient != nil {
		slog.Info("LLM client enabled")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set — agents will use fallback decisions")
	}

	memoryStore := memory.NewStore()
	dispatcher := &engine.Dispatcher{Memory: memoryStore}
	if llmClient != nil {
		dispatcher.LLM = llmClient
	}
	scheduler := &engine.Scheduler{
		Dispatcher: dispatcher,
		Store:      store,
		Memory:     memoryStore,
	}

	adminKey := os.Getenv("POLISIM_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("POLISIM_ADMIN_KEY not set — mutating endpoints will be disabled")
	}

	server := &api.Server{
		Registry:  registry,
		Scheduler: scheduler,
		Store:     store,
		Port:      cfg.Server.Port,
		AdminKey:  adminKey,
	}
	server.Start()

	fmt.Printf("polisim ready: %d simulations restored.\n", len(sims))
	fmt.Printf("API: http://localhost:%d/api/v1/simulations\n", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
}
