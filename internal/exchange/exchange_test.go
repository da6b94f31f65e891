package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multipair-engine/internal/domain"
)

var now = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func testMinimums() []domain.ExchangeMinimum {
	return []domain.ExchangeMinimum{
		{Pair: "XBT/USD", MinVolume: 0.0001, MinCost: 0.5, PricePrecision: 1, VolumePrecision: 8},
		{Pair: "ETH/USD", MinVolume: 0.002, MinCost: 0.5, PricePrecision: 2, VolumePrecision: 8},
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(testMinimums(), func() time.Time { return now })

	got, err := p.LoadMinimums(context.Background(), []string{"XBT/USD", "ETH/USD"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, now, got["ETH/USD"].FetchedAt)

	_, err = p.LoadMinimums(context.Background(), []string{"XBT/USD", "DOGE/USD"})
	assert.True(t, errors.Is(err, ErrMinimumsUnavailable))
	assert.Contains(t, err.Error(), "DOGE/USD")
}

func TestCache_Freshness(t *testing.T) {
	clock := now
	c := NewCache(2*time.Hour, func() time.Time { return clock })

	_, err := c.Get("ETH/USD")
	assert.True(t, errors.Is(err, ErrMinimumUnavailable))

	m := testMinimums()[1]
	m.FetchedAt = now
	c.Set(m)

	got, err := c.Get("ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, 0.002, got.MinVolume)

	clock = now.Add(2 * time.Hour)
	_, err = c.Get("ETH/USD")
	assert.NoError(t, err, "exactly at the bound is still fresh")

	clock = now.Add(2*time.Hour + time.Second)
	_, err = c.Get("ETH/USD")
	assert.True(t, errors.Is(err, ErrMinimumStale))
}

type failingProvider struct{ calls int }

func (f *failingProvider) LoadMinimums(context.Context, []string) (map[string]domain.ExchangeMinimum, error) {
	f.calls++
	return nil, ErrMinimumsUnavailable
}

func TestRefresher(t *testing.T) {
	cache := NewCache(time.Hour, func() time.Time { return now })
	r := NewRefresher(RefresherOptions{
		Provider: NewStaticProvider(testMinimums(), func() time.Time { return now }),
		Cache:    cache,
		Pairs:    []string{"XBT/USD", "ETH/USD"},
	})

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 2, cache.Len())

	failing := &failingProvider{}
	r = NewRefresher(RefresherOptions{Provider: failing, Cache: NewCache(time.Hour, nil), Pairs: []string{"XBT/USD"}})
	err := r.Refresh(context.Background())
	assert.True(t, errors.Is(err, ErrMinimumsUnavailable))
}

func TestRefresher_RunStopsOnCancel(t *testing.T) {
	failing := &failingProvider{}
	r := NewRefresher(RefresherOptions{
		Provider: failing,
		Cache:    NewCache(time.Hour, nil),
		Pairs:    []string{"XBT/USD"},
		Interval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRounding(t *testing.T) {
	m := domain.ExchangeMinimum{PricePrecision: 2, VolumePrecision: 4}

	assert.Equal(t, 100.13, RoundPrice(m, 100.126))
	assert.Equal(t, "0.1801", RoundVolumeUp(m, decimal.RequireFromString("0.18001")).String())
	assert.Equal(t, "0.18", RoundVolumeUp(m, decimal.RequireFromString("0.18")).String())
	assert.Equal(t, "0.18", RoundVolumeDown(m, decimal.RequireFromString("0.18009")).String())

	none := domain.ExchangeMinimum{}
	assert.Equal(t, 100.126, RoundPrice(none, 100.126))
	assert.Equal(t, "0.18009", RoundVolumeDown(none, decimal.RequireFromString("0.18009")).String())
}
