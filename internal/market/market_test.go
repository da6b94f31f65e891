package market

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multipair-engine/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func TestCache_UpdateAndGet(t *testing.T) {
	clock := t0
	c := NewCache(2*time.Minute, func() time.Time { return clock })

	_, err := c.Get("ETH/USD")
	assert.True(t, errors.Is(err, ErrSnapshotUnavailable))

	require.NoError(t, c.Update(domain.MarketSnapshot{Pair: "ETH/USD", Volatility: 0.02, Spread: 0.001}))
	s, err := c.Get("ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, t0, s.Timestamp)

	// Older snapshots never replace newer ones.
	require.NoError(t, c.Update(domain.MarketSnapshot{Pair: "ETH/USD", Volatility: 0.05, Timestamp: t0.Add(-time.Minute)}))
	s, err = c.Get("ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, 0.02, s.Volatility)

	clock = t0.Add(3 * time.Minute)
	_, err = c.Get("ETH/USD")
	assert.True(t, errors.Is(err, ErrSnapshotStale))
}

func TestCache_RejectsInvalid(t *testing.T) {
	c := NewCache(0, nil)

	assert.True(t, errors.Is(c.Update(domain.MarketSnapshot{}), ErrInvalidSnapshot))
	assert.True(t, errors.Is(c.Update(domain.MarketSnapshot{Pair: "ETH/USD", Spread: -1}), ErrInvalidSnapshot))
	assert.True(t, errors.Is(c.Update(domain.MarketSnapshot{Pair: "ETH/USD", Volatility: math.NaN()}), ErrInvalidSnapshot))
	assert.True(t, errors.Is(c.Update(domain.MarketSnapshot{Pair: "ETH/USD", Volume: math.Inf(1)}), ErrInvalidSnapshot))

	bias := math.NaN()
	assert.True(t, errors.Is(c.Update(domain.MarketSnapshot{Pair: "ETH/USD", TemporalBias: &bias}), ErrInvalidSnapshot))
	assert.Equal(t, 0, c.Len())
}

type balanceRecorder struct {
	mu       sync.Mutex
	balances []float64
}

func (b *balanceRecorder) UpdateBalance(balance float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = append(b.balances, balance)
}

func (b *balanceRecorder) last() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.balances) == 0 {
		return 0, false
	}
	return b.balances[len(b.balances)-1], true
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestFeed_StreamsSnapshotsAndBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot","snapshot":{"pair":"ETH/USD","volatility":0.02,"spread":0.001,"volume":10,"average_volume":8}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"balance","balance":1000}`))

		// Keep connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cache := NewCache(0, nil)
	balances := &balanceRecorder{}
	cfg := DefaultFeedConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond

	feed := NewFeed(FeedOptions{
		URL:      "ws" + strings.TrimPrefix(server.URL, "http"),
		Config:   &cfg,
		Snapshot: cache,
		Balance:  balances,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := balances.last()
		return ok && cache.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s, err := cache.Get("ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, 0.02, s.Volatility)
	balance, _ := balances.last()
	assert.Equal(t, 1000.0, balance)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestFeed_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	connections := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		if n == 1 {
			// Drop the first connection immediately
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"balance","balance":250}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	balances := &balanceRecorder{}
	cfg := DefaultFeedConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 20 * time.Millisecond

	feed := NewFeed(FeedOptions{
		URL:      "ws" + strings.TrimPrefix(server.URL, "http"),
		Config:   &cfg,
		Snapshot: NewCache(0, nil),
		Balance:  balances,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	require.Eventually(t, func() bool {
		b, ok := balances.last()
		return ok && b == 250
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.GreaterOrEqual(t, connections, 2)
	mu.Unlock()
}
