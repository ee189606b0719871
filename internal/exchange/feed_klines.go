package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/denniswon/modular-trading-agent/internal/signal"
)

// BinanceKlines pulls closed candles from Binance spot REST.
type BinanceKlines struct {
	client   *binance.Client
	interval string
	limit    int
}

// NewBinanceKlines builds a kline source. baseURL overrides the REST host when set.
func NewBinanceKlines(apiKey, apiSecret, baseURL, interval string, limit int) *BinanceKlines {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	if interval == "" {
		interval = "1m"
	}
	if limit <= 0 {
		limit = 100
	}
	return &BinanceKlines{client: client, interval: interval, limit: limit}
}

// Name implements Source.
func (b *BinanceKlines) Name() string { return ProviderBinance }

// Fetch implements Source.
func (b *BinanceKlines) Fetch(ctx context.Context, symbol string) (signal.Snapshot, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(b.interval).
		Limit(b.limit).
		Do(ctx)
	if err != nil {
		return signal.Snapshot{}, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	candles := make([]signal.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineCandle(k)
		if err != nil {
			return signal.Snapshot{}, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		candles = append(candles, c)
	}
	return signal.NewSnapshot(symbol, candles)
}

// Check implements Prober using the ping endpoint.
func (b *BinanceKlines) Check(ctx context.Context) (uint64, error) {
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return 0, fmt.Errorf("binance ping: %w", err)
	}
	return 0, nil
}

func klineCandle(k *binance.Kline) (signal.Candle, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var vals [5]float64
	for i, raw := range fields {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return signal.Candle{}, fmt.Errorf("parse kline field %d: %w", i, err)
		}
		vals[i] = v
	}
	return signal.Candle{
		Ts:     time.UnixMilli(k.OpenTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
