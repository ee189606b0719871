package signal

import "time"

// TokenTick models a single observation from an on-chain or aggregator feed.
type TokenTick struct {
	Source       string    `json:"source"`
	Chain        string    `json:"chain"`
	Token        string    `json:"token"`
	PairAddress  string    `json:"pair_address,omitempty"`
	PriceUSD     float64   `json:"price_usd"`
	Volume24hUSD float64   `json:"volume_24h_usd"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	Change24hPct float64   `json:"change_24h_pct"`
	Slot         uint64    `json:"slot,omitempty"`
	RPCHealthy   bool      `json:"rpc_healthy"`
	Ts           time.Time `json:"ts"`
}

// Candle converts the tick into a flat bar priced at PriceUSD.
func (t TokenTick) Candle() Candle {
	return Candle{
		Ts:     t.Ts,
		Open:   t.PriceUSD,
		High:   t.PriceUSD,
		Low:    t.PriceUSD,
		Close:  t.PriceUSD,
		Volume: t.Volume24hUSD,
	}
}

// Snapshot wraps the tick as a single-candle snapshot keyed by symbol.
func (t TokenTick) Snapshot(symbol string) Snapshot {
	return Snapshot{Symbol: symbol, candles: []Candle{t.Candle()}}
}
