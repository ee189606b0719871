// Binary paper runs the trading agent against simulated fills.
package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/denniswon/modular-trading-agent/internal/app"
	"github.com/denniswon/modular-trading-agent/internal/config"
	"github.com/denniswon/modular-trading-agent/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	cfg, err := config.Load(getEnv("AGENT_CONFIG", defaultConfigPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Engine.Executor != "log" {
		cfg.Engine.Executor = "paper"
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	stopProfiler, err := util.StartProfiler(cfg.App.Name, cfg.App.Env, cfg.App.ProfilerAddr, log)
	if err != nil {
		log.Warn().Err(err).Msg("profiler disabled")
	}
	defer stopProfiler()

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agent, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("assemble agent")
	}
	log.Info().Msg("paper engine started")
	if err := agent.Run(ctx); err != nil {
		log.Error().Err(err).Msg("paper engine stopped")
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
