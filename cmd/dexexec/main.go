// Binary dexexec submits a single Jupiter swap, useful for checking wallet and RPC wiring.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/config"
	dex "github.com/denniswon/modular-trading-agent/internal/dex/solana"
	"github.com/denniswon/modular-trading-agent/internal/util"
)

func main() {
	cfg, err := config.Load(getEnv("AGENT_CONFIG", "internal/config/config.yaml"))
	log := util.NewLogger("info", "console")
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	key, err := dex.LoadPrivateKey(cfg.Wallet.PrivateKeyBase58)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet")
	}

	client := dex.NewJupiterClient(
		getEnv("SOLANA_RPC_URL", cfg.Dex.RpcURL),
		getEnv("JUPITER_BASE_URL", cfg.Dex.JupiterBase),
		key,
		getEnv("SOLANA_COMMITMENT", cfg.Dex.Commitment),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// default: 0.01 SOL -> USDC
	amount, err := strconv.ParseUint(getEnv("SWAP_AMOUNT", "10000000"), 10, 64)
	if err != nil {
		log.Fatal().Err(err).Msg("SWAP_AMOUNT")
	}
	input := getEnv("SWAP_INPUT_MINT", config.WrappedSOLMint)
	output := getEnv("SWAP_OUTPUT_MINT", cfg.Dex.QuoteMint)

	quote, err := client.GetQuote(ctx, input, output, amount, cfg.Dex.SlippageBps)
	if err != nil {
		log.Fatal().Err(err).Msg("quote")
	}
	log.Info().Str("in", quote.InAmount).Str("out", quote.OutAmount).Float64("impact_pct", quote.PriceImpactPct).Msg("quote")

	sig, err := client.BuildAndSendSwap(ctx, quote)
	if err != nil {
		log.Fatal().Err(err).Msg("swap")
	}
	log.Info().Str("signature", sig.String()).Msg("submitted tx")
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
