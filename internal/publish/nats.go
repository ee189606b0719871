// Package publish fans cycle outcomes out to NATS subjects for downstream consumers.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/engine"
)

// DefaultSubject prefixes every outcome subject; the symbol is appended.
const DefaultSubject = "trading.outcomes"

// Conn is the subset of *nats.Conn the publisher relies on.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
}

// Options tune the NATS connection.
type Options struct {
	URL            string
	Name           string
	Subject        string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	FlushTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.Name == "" {
		o.Name = "modular-trading-agent"
	}
	if o.Subject == "" {
		o.Subject = DefaultSubject
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = -1
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 2 * time.Second
	}
	return o
}

// Message is the JSON payload published per outcome.
type Message struct {
	Symbol      string    `json:"symbol"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage"`
	Reason      string    `json:"reason,omitempty"`
	Side        string    `json:"side"`
	Confidence  float64   `json:"confidence"`
	Size        float64   `json:"size,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	FilledPrice float64   `json:"filled_price,omitempty"`
	FilledSize  float64   `json:"filled_size,omitempty"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
	Stale       bool      `json:"stale,omitempty"`
	Error       string    `json:"error,omitempty"`
	Ts          time.Time `json:"ts"`
}

// NewMessage flattens an outcome into its wire form.
func NewMessage(o engine.Outcome) Message {
	msg := Message{
		Symbol:     o.Symbol,
		Status:     string(o.Status),
		Stage:      string(o.Stage),
		Reason:     o.Reason,
		Side:       string(o.Signal.Side),
		Confidence: o.Signal.Confidence,
		Size:       o.Size,
		Stale:      o.Stale,
		Ts:         o.Ts,
	}
	if o.Order != nil {
		msg.ClientID = o.Order.ClientID
	}
	if o.Result != nil && o.Result.OK {
		msg.OrderID = o.Result.OrderID
		msg.FilledPrice = o.Result.FilledPrice
		msg.FilledSize = o.Result.FilledSize
		msg.RealizedPnL = o.Result.RealizedPnL
	}
	if o.Err != nil {
		msg.Error = o.Err.Error()
	}
	return msg
}

// Publisher writes outcomes to <subject>.<symbol>.
type Publisher struct {
	conn    Conn
	subject string
	log     zerolog.Logger
	closer  func()

	published atomic.Int64
	dropped   atomic.Int64
}

// New wraps an existing connection.
func New(conn Conn, subject string, log zerolog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		conn:    conn,
		subject: strings.TrimSuffix(subject, "."),
		log:     log.With().Str("component", "publish").Logger(),
	}
}

// Connect dials NATS with reconnect handling and returns a publisher bound to it.
func Connect(opts Options, log zerolog.Logger) (*Publisher, error) {
	opts = opts.withDefaults()
	plog := log.With().Str("component", "publish").Logger()
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.FlusherTimeout(opts.FlushTimeout),
		nats.RetryOnFailedConnect(true),
		nats.ClosedHandler(func(*nats.Conn) {
			plog.Warn().Msg("nats connection closed")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			plog.Warn().Err(err).Msg("nats disconnected, reconnecting")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			plog.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", opts.URL, err)
	}
	p := New(nc, opts.Subject, log)
	p.closer = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	plog.Info().Str("url", opts.URL).Str("subject", p.subject).Msg("nats publisher ready")
	return p, nil
}

// Subject returns the subject used for symbol.
func (p *Publisher) Subject(symbol string) string {
	return p.subject + "." + strings.ReplaceAll(symbol, ".", "_")
}

// Publish sends one outcome. Disconnected publishes are counted and dropped.
func (p *Publisher) Publish(o engine.Outcome) error {
	if p.conn == nil {
		return errors.New("publisher has no connection")
	}
	if !p.conn.IsConnected() {
		p.dropped.Add(1)
		return errors.New("nats not connected")
	}
	data, err := json.Marshal(NewMessage(o))
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := p.conn.Publish(p.Subject(o.Symbol), data); err != nil {
		p.dropped.Add(1)
		return fmt.Errorf("publish %s: %w", o.Symbol, err)
	}
	p.published.Add(1)
	return nil
}

// Sink adapts the publisher to an engine outcome sink, logging failures.
func (p *Publisher) Sink() engine.OutcomeSink {
	return func(o engine.Outcome) {
		if err := p.Publish(o); err != nil {
			p.log.Debug().Err(err).Str("symbol", o.Symbol).Msg("outcome not published")
		}
	}
}

// Stats reports published and dropped message counts.
func (p *Publisher) Stats() (published, dropped int64) {
	return p.published.Load(), p.dropped.Load()
}

// Close drains the underlying connection when the publisher owns it.
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
		p.closer = nil
	}
}
