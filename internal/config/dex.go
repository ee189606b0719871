package config

// Well-known Solana mints.
const (
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Dex defines network endpoints and defaults for decentralized execution.
type Dex struct {
	Chain         string              `yaml:"chain"` // e.g. "solana"
	RpcURL        string              `yaml:"rpc_url"`
	Commitment    string              `yaml:"commitment"`   // processed|confirmed|finalized
	JupiterBase   string              `yaml:"jupiter_base"` // https://quote-api.jup.ag
	SlippageBps   int                 `yaml:"slippage_bps"`
	QuoteMint     string              `yaml:"quote_mint"` // USDC unless overridden
	QuoteDecimals int32               `yaml:"quote_decimals"`
	Tokens        map[string]DexToken `yaml:"tokens"` // symbol -> mint
}

// DexToken identifies an SPL token traded against the quote mint.
type DexToken struct {
	Mint     string `yaml:"mint"`
	Decimals int32  `yaml:"decimals"`
}

// Wallet stores encrypted or env-backed signing material metadata.
type Wallet struct {
	PrivateKeyBase58 string `yaml:"private_key_base58"`
}
