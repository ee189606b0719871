// Binary executor runs the agent with live Jupiter execution. It refuses to
// start unless LIVE_TRADING=1 is set.
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
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if os.Getenv("LIVE_TRADING") != "1" {
		log.Fatal().Msg("live trading disabled; set LIVE_TRADING=1 to submit real swaps")
	}
	cfg.Engine.Executor = "jupiter"
	if url := os.Getenv("SOLANA_RPC_URL"); url != "" {
		cfg.Dex.RpcURL = url
	}
	if base := os.Getenv("JUPITER_BASE_URL"); base != "" {
		cfg.Dex.JupiterBase = base
	}

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
	log.Warn().Msg("live executor started")
	if err := agent.Run(ctx); err != nil {
		log.Error().Err(err).Msg("live executor stopped")
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
