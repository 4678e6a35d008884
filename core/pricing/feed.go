package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"humanebanque/crypto"
)

var (
	// ErrUnknownAsset is returned when the feed has no configuration for an asset.
	ErrUnknownAsset = errors.New("pricing: unknown asset")
	// ErrNoFreshSample mirrors an empty averaging window.
	ErrNoFreshSample = errors.New("pricing: no fresh sample")
	// ErrStalePrice signals the newest observation exceeded the freshness bound.
	ErrStalePrice = errors.New("pricing: stale price")
)

// Price values whole units of an asset in the quote currency's smallest unit.
// An amount of the asset in its own smallest unit is worth
// amount * Value / 10^Decimals.
type Price struct {
	Value     *big.Int
	Decimals  uint8
	Timestamp time.Time
}

// ValueOf converts amount of the asset into quote units, rounding down.
func (p Price) ValueOf(amount *big.Int) *big.Int {
	if amount == nil || p.Value == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, p.Value)
	return out.Quo(out, pow10(p.Decimals))
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Feed resolves collateral prices for valuation.
type Feed interface {
	PriceOf(ctx context.Context, asset crypto.Address) (Price, error)
}

// StaticFeed serves fixed prices. It backs local deployments and tests.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[crypto.Address]Price
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[crypto.Address]Price)}
}

// Set replaces the price for asset.
func (f *StaticFeed) Set(asset crypto.Address, value *big.Int, decimals uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = Price{Value: new(big.Int).Set(value), Decimals: decimals, Timestamp: time.Now().UTC()}
}

func (f *StaticFeed) PriceOf(_ context.Context, asset crypto.Address) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[asset]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	price.Value = new(big.Int).Set(price.Value)
	return price, nil
}
