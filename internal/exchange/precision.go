package exchange

import (
	"github.com/shopspring/decimal"

	"multipair-engine/internal/domain"
)

// RoundPrice rounds price to the pair's price precision.
// A non-positive precision leaves the price untouched.
func RoundPrice(m domain.ExchangeMinimum, price float64) float64 {
	if m.PricePrecision <= 0 {
		return price
	}
	return decimal.NewFromFloat(price).Round(m.PricePrecision).InexactFloat64()
}

// RoundVolumeUp rounds volume up to the pair's volume precision so that a volume
// at or above MinVolume never rounds below it.
func RoundVolumeUp(m domain.ExchangeMinimum, volume decimal.Decimal) decimal.Decimal {
	if m.VolumePrecision <= 0 {
		return volume
	}
	return volume.RoundUp(m.VolumePrecision)
}

// RoundVolumeDown truncates volume to the pair's volume precision so that the
// order never costs more than the sized amount.
func RoundVolumeDown(m domain.ExchangeMinimum, volume decimal.Decimal) decimal.Decimal {
	if m.VolumePrecision <= 0 {
		return volume
	}
	return volume.RoundDown(m.VolumePrecision)
}
