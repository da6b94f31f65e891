package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/observability"
)

// Message types understood by the feed.
const (
	MessageSnapshot = "snapshot"
	MessageBalance  = "balance"
)

// Message is one feed frame.
type Message struct {
	Type     string                 `json:"type"`
	Snapshot *domain.MarketSnapshot `json:"snapshot,omitempty"`
	Balance  *float64               `json:"balance,omitempty"`
}

// SnapshotSink receives market snapshots.
type SnapshotSink interface {
	Update(domain.MarketSnapshot) error
}

// BalanceSink receives account balance updates.
type BalanceSink interface {
	UpdateBalance(balance float64)
}

// FeedConfig configures websocket feed behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration `yaml:"ping_interval"`
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Feed streams snapshots and balances from a websocket endpoint.
type Feed struct {
	url      string
	config   FeedConfig
	snapshot SnapshotSink
	balance  BalanceSink
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// FeedOptions contains configuration for creating a Feed.
type FeedOptions struct {
	URL      string
	Config   *FeedConfig // Default: DefaultFeedConfig()
	Snapshot SnapshotSink
	Balance  BalanceSink // optional
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics
}

// NewFeed creates a new websocket feed. Call Run to start streaming.
func NewFeed(opts FeedOptions) *Feed {
	cfg := DefaultFeedConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Feed{
		url:      opts.URL,
		config:   cfg,
		snapshot: opts.Snapshot,
		balance:  opts.Balance,
		logger:   logger.WithField("component", "market_feed"),
		metrics:  opts.Metrics,
	}
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff after connection errors.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.config.ReconnectDelay

	for {
		received, err := f.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			// Reset delay after a productive connection
			delay = f.config.ReconnectDelay
		}

		f.logger.WithError(err).WithField("retry_in", delay).Warn("market feed disconnected")
		f.metrics.RecordFeedReconnect()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

// stream runs one connection until it fails. Reports whether any message arrived.
func (f *Feed) stream(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: f.config.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	f.logger.WithField("url", f.url).Info("market feed connected")

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	// Close the connection on cancellation to unblock ReadMessage
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	wg.Add(1)
	go f.pingLoop(conn, done, &wg)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
	})

	received := false
	for {
		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read: %w", err)
		}
		received = true
		f.handleMessage(data)
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.config.ReadTimeout)); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one frame. Malformed frames are logged and skipped.
func (f *Feed) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.WithError(err).Warn("malformed feed message")
		f.metrics.RecordFeedMessage("malformed")
		return
	}

	switch msg.Type {
	case MessageSnapshot:
		if msg.Snapshot == nil || f.snapshot == nil {
			return
		}
		if err := f.snapshot.Update(*msg.Snapshot); err != nil {
			f.logger.WithError(err).WithField("pair", msg.Snapshot.Pair).Warn("snapshot rejected")
			return
		}
	case MessageBalance:
		if msg.Balance == nil || f.balance == nil {
			return
		}
		f.balance.UpdateBalance(*msg.Balance)
	default:
		f.logger.WithField("type", msg.Type).Debug("ignoring feed message")
		f.metrics.RecordFeedMessage("unknown")
		return
	}
	f.metrics.RecordFeedMessage(msg.Type)
}
