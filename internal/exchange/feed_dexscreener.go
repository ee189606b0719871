package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/signal"
)

const defaultDexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreener fetches pair quotes from the Dexscreener HTTP API.
//
// Symbols take two forms: ALIAS@chain/pairAddress hits the pairs endpoint
// directly; a bare token mint hits the tokens endpoint and keeps the most
// liquid pair on the default chain.
type DexScreener struct {
	client       *http.Client
	baseURL      string
	defaultChain string
	now          func() time.Time
}

// NewDexScreener builds a client; empty arguments use defaults.
func NewDexScreener(baseURL, defaultChain string, client *http.Client) *DexScreener {
	if baseURL == "" {
		baseURL = defaultDexScreenerBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DexScreener{
		client:       client,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultChain: strings.ToLower(strings.TrimSpace(defaultChain)),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Name implements TickSource.
func (d *DexScreener) Name() string { return ProviderDexScreener }

// FetchTick implements TickSource.
func (d *DexScreener) FetchTick(ctx context.Context, symbol string) (signal.TokenTick, error) {
	target, err := parseDexScreenerSymbol(symbol, d.defaultChain)
	if err != nil {
		return signal.TokenTick{}, err
	}

	var endpoint string
	if target.TokenOnly {
		endpoint = fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, target.Address)
	} else {
		endpoint = fmt.Sprintf("%s/latest/dex/pairs/%s/%s", d.baseURL, target.Chain, target.Address)
	}
	payload, err := d.get(ctx, endpoint)
	if err != nil {
		return signal.TokenTick{}, err
	}

	var pair *dexscreenerPair
	if target.TokenOnly {
		pair = payload.bestPair(target.Chain)
	} else {
		pair, _ = payload.firstPair()
	}
	if pair == nil {
		return signal.TokenTick{}, fmt.Errorf("%s: no pair data returned", symbol)
	}
	price, err := parseDexScreenerPrice(pair)
	if err != nil {
		return signal.TokenTick{}, fmt.Errorf("%s: %w", symbol, err)
	}

	chain := strings.ToLower(pair.ChainID)
	if chain == "" {
		chain = target.Chain
	}
	pairAddress := pair.PairAddress
	if pairAddress == "" && !target.TokenOnly {
		pairAddress = target.Address
	}
	return signal.TokenTick{
		Source:       ProviderDexScreener,
		Chain:        chain,
		Token:        target.Alias,
		PairAddress:  pairAddress,
		PriceUSD:     price,
		Volume24hUSD: pair.Volume.H24,
		LiquidityUSD: pair.Liquidity.USD,
		Change24hPct: pair.PriceChange.H24,
		Ts:           d.now(),
	}, nil
}

// Search returns the pairs matching a free-text query, most relevant first.
func (d *DexScreener) Search(ctx context.Context, query string) ([]dexscreenerPair, error) {
	payload, err := d.get(ctx, fmt.Sprintf("%s/latest/dex/search?q=%s", d.baseURL, url.QueryEscape(query)))
	if err != nil {
		return nil, err
	}
	if len(payload.Pairs) == 0 && payload.Pair != nil {
		return []dexscreenerPair{*payload.Pair}, nil
	}
	return payload.Pairs, nil
}

func (d *DexScreener) get(ctx context.Context, endpoint string) (*dexscreenerPairsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "modular-trading-agent/1.0")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var payload dexscreenerPairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &payload, nil
}

type dexscreenerTarget struct {
	Alias     string
	Chain     string
	Address   string
	TokenOnly bool
}

type dexscreenerPairsResponse struct {
	Pairs []dexscreenerPair `json:"pairs"`
	Pair  *dexscreenerPair  `json:"pair"`
}

type dexscreenerPair struct {
	ChainID     string               `json:"chainId"`
	PairAddress string               `json:"pairAddress"`
	BaseToken   dexscreenerToken     `json:"baseToken"`
	QuoteToken  dexscreenerToken     `json:"quoteToken"`
	PriceUsd    string               `json:"priceUsd"`
	PriceNative string               `json:"priceNative"`
	Volume      dexscreenerWindows   `json:"volume"`
	Liquidity   dexscreenerLiquidity `json:"liquidity"`
	PriceChange dexscreenerWindows   `json:"priceChange"`
}

type dexscreenerToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type dexscreenerWindows struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

type dexscreenerLiquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

func (r *dexscreenerPairsResponse) firstPair() (*dexscreenerPair, bool) {
	if len(r.Pairs) > 0 {
		return &r.Pairs[0], true
	}
	if r.Pair != nil {
		return r.Pair, true
	}
	return nil, false
}

// bestPair picks the highest-liquidity pair on chain (any chain when empty).
func (r *dexscreenerPairsResponse) bestPair(chain string) *dexscreenerPair {
	var best *dexscreenerPair
	for i := range r.Pairs {
		p := &r.Pairs[i]
		if chain != "" && !strings.EqualFold(p.ChainID, chain) {
			continue
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	if best == nil && r.Pair != nil && (chain == "" || strings.EqualFold(r.Pair.ChainID, chain)) {
		best = r.Pair
	}
	return best
}

func parseDexScreenerPrice(pair *dexscreenerPair) (float64, error) {
	if pair == nil {
		return 0, fmt.Errorf("pair missing")
	}
	if pair.PriceUsd != "" {
		if px, err := strconv.ParseFloat(pair.PriceUsd, 64); err == nil && px > 0 {
			return px, nil
		}
	}
	if pair.PriceNative != "" {
		if px, err := strconv.ParseFloat(pair.PriceNative, 64); err == nil && px > 0 {
			return px, nil
		}
	}
	return 0, fmt.Errorf("pair missing price")
}

func parseDexScreenerSymbol(raw, defaultChain string) (dexscreenerTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return dexscreenerTarget{}, fmt.Errorf("empty dexscreener symbol")
	}
	if !strings.ContainsAny(raw, "@/") {
		return dexscreenerTarget{Alias: raw, Chain: defaultChain, Address: raw, TokenOnly: true}, nil
	}

	aliasPart, targetPart := raw, raw
	if parts := strings.SplitN(raw, "@", 2); len(parts) == 2 {
		aliasPart, targetPart = parts[0], parts[1]
	}
	chain := defaultChain
	address := targetPart
	if parts := strings.SplitN(targetPart, "/", 2); len(parts) == 2 {
		if c := strings.TrimSpace(parts[0]); c != "" {
			chain = strings.ToLower(c)
		}
		address = parts[1]
	}
	address = strings.TrimSpace(address)
	if chain == "" || address == "" {
		return dexscreenerTarget{}, fmt.Errorf("dexscreener symbol %q missing chain or address", raw)
	}
	return dexscreenerTarget{Alias: composeDexAlias(aliasPart, address), Chain: chain, Address: address}, nil
}

func sanitizeDexAlias(alias string) string {
	var b strings.Builder
	b.Grow(len(alias))
	for _, r := range strings.TrimSpace(alias) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 32)
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// composeDexAlias builds BASE_SUFFIX where SUFFIX is the last six address characters.
func composeDexAlias(base, address string) string {
	base = sanitizeDexAlias(base)
	suffix := sanitizeDexAlias(address)
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	switch {
	case base == "" && suffix == "":
		return "PAIR"
	case base == "":
		return "PAIR_" + suffix
	case suffix == "":
		return base
	}
	return base + "_" + suffix
}
