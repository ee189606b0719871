package exchange

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/config"
	"github.com/denniswon/modular-trading-agent/internal/metrics"
)

const (
	defaultDiscoveryRefresh = 15 * time.Second
	defaultDiscoveryLimit   = 12
)

var defaultDiscoveryKeywords = []string{"wif", "boden", "pepe", "doge"}

// SymbolSink receives the refreshed symbol universe.
type SymbolSink interface {
	SetSymbols(symbols []string)
}

// DexScreenerDiscovery searches Dexscreener by keyword on an interval and
// pushes the manual symbols plus the best-ranked liquid pairs into a SymbolSink.
type DexScreenerDiscovery struct {
	log      zerolog.Logger
	sink     SymbolSink
	manual   []string
	ds       *DexScreener
	pacer    *Pacer
	cfg      config.Discovery
	chains   map[string]bool
	interval time.Duration

	mu       sync.Mutex
	universe []string
}

type candidate struct {
	symbol    string
	pair      string
	liquidity float64
	volume    float64
	change24  float64
	score     float64
}

// NewDexScreenerDiscovery returns nil when discovery is disabled or there is no sink.
func NewDexScreenerDiscovery(log zerolog.Logger, sink SymbolSink, manual []string, ds *DexScreener, cfg config.Discovery, pacer *Pacer) *DexScreenerDiscovery {
	if sink == nil || !cfg.Enabled {
		return nil
	}
	if ds == nil {
		ds = NewDexScreener("", "", nil)
	}
	if pacer == nil {
		pacer = NewPacer(PacerConfig{})
	}
	if cfg.MaxPairs <= 0 {
		cfg.MaxPairs = defaultDiscoveryLimit
	}
	if cfg.MaxPairsPerKeyword <= 0 {
		cfg.MaxPairsPerKeyword = cfg.MaxPairs
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = defaultDiscoveryKeywords
	}
	chains := make(map[string]bool, len(cfg.Chains)+1)
	for _, c := range cfg.Chains {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			chains[c] = true
		}
	}
	if len(chains) == 0 && ds.defaultChain != "" {
		chains[ds.defaultChain] = true
	}
	interval := config.Millis(cfg.RefreshInterval)
	if interval <= 0 {
		interval = defaultDiscoveryRefresh
	}
	return &DexScreenerDiscovery{
		log:      log.With().Str("component", "discovery").Logger(),
		sink:     sink,
		manual:   slices.Clone(manual),
		ds:       ds,
		pacer:    pacer,
		cfg:      cfg,
		chains:   chains,
		interval: interval,
	}
}

// Start refreshes immediately and then on every interval until ctx ends.
func (d *DexScreenerDiscovery) Start(ctx context.Context) {
	if d == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn().Err(err).Msg("symbol discovery refresh failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Refresh runs one discovery pass and hands the merged universe to the sink.
// A failed keyword search is skipped; only cancellation aborts the pass.
func (d *DexScreenerDiscovery) Refresh(ctx context.Context) error {
	if d == nil {
		return nil
	}
	found, err := d.collect(ctx)
	if err != nil {
		return err
	}
	ranked := rank(found, d.cfg.MaxPairs)
	discovered := make([]string, len(ranked))
	for i, c := range ranked {
		discovered[i] = c.symbol
	}
	universe := normalizeSymbols(append(slices.Clone(d.manual), discovered...))
	d.sink.SetSymbols(universe)
	metrics.DiscoveredSymbols.Set(float64(len(ranked)))
	d.report(universe, ranked)
	return nil
}

func (d *DexScreenerDiscovery) collect(ctx context.Context) ([]candidate, error) {
	seen := make(map[string]bool)
	var found []candidate
	for _, keyword := range d.cfg.Keywords {
		if len(found) >= d.cfg.MaxPairs {
			break
		}
		if err := d.pacer.Wait(ctx, 0); err != nil {
			return nil, err
		}
		pairs, err := d.ds.Search(ctx, keyword)
		if err != nil {
			d.log.Debug().Err(err).Str("keyword", keyword).Msg("dexscreener search failed")
			continue
		}
		taken := 0
		for i := range pairs {
			if taken >= d.cfg.MaxPairsPerKeyword || len(found) >= d.cfg.MaxPairs {
				break
			}
			c, ok := d.admit(&pairs[i])
			if !ok || seen[c.pair] {
				continue
			}
			seen[c.pair] = true
			found = append(found, c)
			taken++
		}
	}
	return found, nil
}

// admit applies the chain, liquidity and volume gates and scores the pair.
func (d *DexScreenerDiscovery) admit(p *dexscreenerPair) (candidate, bool) {
	chain := strings.ToLower(p.ChainID)
	if p.PairAddress == "" || (len(d.chains) > 0 && !d.chains[chain]) {
		return candidate{}, false
	}
	volume := pairVolume(p)
	if p.Liquidity.USD < d.cfg.MinLiquidityUSD || volume < d.cfg.MinVolumeUSD {
		return candidate{}, false
	}
	base := firstNonEmpty(p.BaseToken.Symbol, p.BaseToken.Name)
	quote := firstNonEmpty(p.QuoteToken.Symbol, p.QuoteToken.Name)
	return candidate{
		symbol:    fmt.Sprintf("%s@%s/%s", composeDexAlias(base+quote, p.PairAddress), chain, p.PairAddress),
		pair:      p.PairAddress,
		liquidity: p.Liquidity.USD,
		volume:    volume,
		change24:  p.PriceChange.H24,
		score:     pairScore(p.Liquidity.USD, volume, p.PriceChange.H24),
	}, true
}

// pairVolume prefers the 24h window and falls back to shorter ones for fresh pairs.
func pairVolume(p *dexscreenerPair) float64 {
	for _, v := range []float64{p.Volume.H24, p.Volume.H6, p.Volume.H1} {
		if v > 0 {
			return v
		}
	}
	return 0
}

// pairScore weights liquidity over volume and rewards positive 24h momentum only.
func pairScore(liquidity, volume, change24 float64) float64 {
	s := liquidity*0.6 + volume*0.35
	if change24 > 0 {
		s += change24 * 1000
	}
	return s
}

// rank orders candidates by score, treating scores within 1 USD as equal and
// breaking those ties on liquidity, then truncates to limit.
func rank(found []candidate, limit int) []candidate {
	out := slices.Clone(found)
	slices.SortStableFunc(out, func(a, b candidate) int {
		if diff := a.score - b.score; diff > 1 || diff < -1 {
			return cmp.Compare(b.score, a.score)
		}
		return cmp.Compare(b.liquidity, a.liquidity)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (d *DexScreenerDiscovery) report(universe []string, ranked []candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slices.Equal(universe, d.universe) {
		return
	}
	prev := d.universe
	d.universe = slices.Clone(universe)
	detail := make([]string, len(ranked))
	for i, c := range ranked {
		detail[i] = fmt.Sprintf("%s(liq=%.0f vol=%.0f chg24=%.2f)", c.symbol, c.liquidity, c.volume, c.change24)
	}
	d.log.Info().
		Strs("symbols", universe).
		Strs("discovered", detail).
		Strs("previous", prev).
		Msg("symbol universe changed")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
