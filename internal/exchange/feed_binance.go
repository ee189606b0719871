package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/signal"
)

const defaultBinanceStreamURL = "wss://stream.binance.com:9443/stream"

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// BinanceTrades streams public trades from Binance's combined websocket endpoint.
// Changing the symbol set drops the connection and reconnects with the new streams.
type BinanceTrades struct {
	url     string
	log     zerolog.Logger
	backoff *Backoff

	mu      sync.Mutex
	started bool
	symbols []string
	resub   chan struct{}
}

// NewBinanceTrades builds a trade streamer; an empty url uses the public endpoint.
func NewBinanceTrades(url string, log zerolog.Logger) *BinanceTrades {
	if url == "" {
		url = defaultBinanceStreamURL
	}
	return &BinanceTrades{
		url:     url,
		log:     log.With().Str("source", ProviderBinance).Logger(),
		backoff: NewBackoff(time.Second, 30*time.Second, 1.8),
		resub:   make(chan struct{}, 1),
	}
}

// Name implements Streamer.
func (b *BinanceTrades) Name() string { return ProviderBinance }

// SetSymbols implements Streamer.
func (b *BinanceTrades) SetSymbols(symbols []string) {
	b.mu.Lock()
	b.symbols = normalizeSymbols(symbols)
	b.mu.Unlock()
	select {
	case b.resub <- struct{}{}:
	default:
	}
}

func (b *BinanceTrades) currentSymbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.symbols...)
}

// Subscribe implements Streamer. Interval is ignored: trades are pushed as they print.
func (b *BinanceTrades) Subscribe(ctx context.Context, symbols []string, _ time.Duration) (<-chan Update, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	b.started = true
	b.symbols = normalizeSymbols(symbols)
	b.mu.Unlock()
	if len(b.currentSymbols()) == 0 {
		return nil, fmt.Errorf("binance feed requires at least one symbol")
	}

	out := make(chan Update, defaultStreamBuffer)
	go func() {
		defer close(out)
		b.run(ctx, out)
	}()
	return out, nil
}

func (b *BinanceTrades) run(ctx context.Context, out chan<- Update) {
	failures := 0
	for ctx.Err() == nil {
		symbols := b.currentSymbols()
		streams := make([]string, len(symbols))
		for i, sym := range symbols {
			streams[i] = strings.ToLower(sym) + "@trade"
		}
		url := fmt.Sprintf("%s?streams=%s", b.url, strings.Join(streams, "/"))

		connCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-b.resub:
				cancel()
			case <-connCtx.Done():
			}
		}()
		delivered, err := b.consume(connCtx, url, symbols, out)
		resubscribed := connCtx.Err() != nil && ctx.Err() == nil
		cancel()
		if ctx.Err() != nil {
			return
		}
		if resubscribed {
			failures = 0
			continue
		}
		if delivered {
			failures = 0
		}
		failures++
		b.log.Warn().Err(err).Int("attempt", failures).Msg("binance feed disconnected, retrying")
		if err := sleepCtx(ctx, b.backoff.Delay(failures)); err != nil {
			return
		}
	}
}

// consume reads one connection until it fails; delivered reports whether any tick got through.
func (b *BinanceTrades) consume(ctx context.Context, url string, symbols []string, out chan<- Update) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	b.log.Info().Strs("symbols", symbols).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	delivered := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		upd, ok := b.decode(message)
		if !ok {
			continue
		}
		select {
		case out <- upd:
			delivered = true
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

func (b *BinanceTrades) decode(message []byte) (Update, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		b.log.Warn().Err(err).Msg("failed to decode binance message")
		return Update{}, false
	}
	symbol := parseBinanceSymbol(env.Stream)
	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil || px <= 0 {
		return Update{Symbol: symbol, Err: &DataUnavailableError{Symbol: symbol, Err: fmt.Errorf("invalid price %q", env.Data.Price)}}, symbol != ""
	}
	qty, _ := strconv.ParseFloat(env.Data.Quantity, 64)
	return Update{
		Symbol: symbol,
		Tick: signal.TokenTick{
			Source:       ProviderBinance,
			Token:        symbol,
			PriceUSD:     px,
			// trade notional; the trade stream carries no rolling 24h figure
			Volume24hUSD: px * qty,
			RPCHealthy:   true,
			Ts:           time.UnixMilli(env.Data.TradeTime).UTC(),
		},
	}, true
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
