package oracle

import "errors"

// ErrStalePrice is returned when a price is older than the caller's freshness
// window. Operations must fail rather than value collateral on stale data.
var ErrStalePrice = errors.New("oracle price is stale")

// ErrNoPrice is returned when no price has ever been published for a key.
var ErrNoPrice = errors.New("no oracle price for market")

// PriceData is a single oracle observation.
type PriceData struct {
	// Price is PricePrecision-scaled (1e6).
	Price int64
	// Confidence is the publisher's confidence interval in price units.
	Confidence uint64
	// LastUpdateTick is the logical tick of the observation.
	LastUpdateTick int64
}

// Source is a read-only price feed keyed by market oracle key.
type Source interface {
	GetPrice(key string) (PriceData, bool)
}

// Feed is an in-memory price cache fed by the oracle subscriber. It is only
// mutated from the core goroutine.
type Feed struct {
	prices map[string]PriceData
}

func NewFeed() *Feed {
	return &Feed{prices: make(map[string]PriceData)}
}

// SetPrice records a new observation for a key.
func (f *Feed) SetPrice(key string, pd PriceData) {
	f.prices[key] = pd
}

// GetPrice returns the latest observation for a key.
func (f *Feed) GetPrice(key string) (PriceData, bool) {
	pd, ok := f.prices[key]
	return pd, ok
}

// FreshPrice fetches a price and enforces the freshness window: the
// observation must be at most maxAgeTicks old at nowTick.
func FreshPrice(src Source, key string, nowTick, maxAgeTicks int64) (PriceData, error) {
	pd, ok := src.GetPrice(key)
	if !ok {
		return PriceData{}, ErrNoPrice
	}
	if nowTick-pd.LastUpdateTick > maxAgeTicks {
		return PriceData{}, ErrStalePrice
	}
	return pd, nil
}
