package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"humanebanque/crypto"
)

// Sample is a single spot observation for an asset.
type Sample struct {
	Asset      crypto.Address
	Value      *big.Int
	Source     string
	ObservedAt time.Time
}

// SampleStore persists observations so the average survives restarts.
type SampleStore interface {
	RecordSample(ctx context.Context, sample Sample) error
	Samples(ctx context.Context, asset crypto.Address, since time.Time) ([]Sample, error)
}

// TWAPFeed prices assets with a time-weighted average of recorded spot
// observations. Each sample is weighted by how long it stayed the latest
// observation, so a single manipulated print near the end of the window has
// limited influence.
type TWAPFeed struct {
	mu       sync.RWMutex
	window   time.Duration
	maxAge   time.Duration
	decimals map[crypto.Address]uint8
	history  map[crypto.Address][]Sample
	store    SampleStore
	nowFn    func() time.Time
}

// NewTWAPFeed constructs a feed averaging over window. A zero maxAge disables
// the freshness check.
func NewTWAPFeed(window, maxAge time.Duration) *TWAPFeed {
	return &TWAPFeed{
		window:   window,
		maxAge:   maxAge,
		decimals: make(map[crypto.Address]uint8),
		history:  make(map[crypto.Address][]Sample),
		nowFn:    time.Now,
	}
}

// SetStore attaches durable sample storage.
func (f *TWAPFeed) SetStore(store SampleStore) { f.store = store }

// SetNowFunc overrides the clock used for window and freshness checks.
func (f *TWAPFeed) SetNowFunc(now func() time.Time) {
	if now != nil {
		f.nowFn = now
	}
}

// Register declares an asset and its token decimals.
func (f *TWAPFeed) Register(asset crypto.Address, decimals uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimals[asset] = decimals
}

// Observe records a spot value for asset.
func (f *TWAPFeed) Observe(ctx context.Context, asset crypto.Address, value *big.Int, source string, at time.Time) error {
	if value == nil || value.Sign() <= 0 {
		return fmt.Errorf("pricing: observation must be positive")
	}
	f.mu.Lock()
	if _, ok := f.decimals[asset]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	sample := Sample{Asset: asset, Value: new(big.Int).Set(value), Source: source, ObservedAt: at.UTC()}
	bucket := append(f.history[asset], sample)
	sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].ObservedAt.Before(bucket[j].ObservedAt) })
	if f.window > 0 {
		cutoff := bucket[len(bucket)-1].ObservedAt.Add(-f.window)
		kept := bucket[:0]
		for _, s := range bucket {
			if !s.ObservedAt.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		bucket = kept
	}
	f.history[asset] = bucket
	f.mu.Unlock()

	if f.store != nil {
		return f.store.RecordSample(ctx, sample)
	}
	return nil
}

// Restore reloads persisted samples for every registered asset.
func (f *TWAPFeed) Restore(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	since := f.nowFn().Add(-f.window)
	f.mu.Lock()
	defer f.mu.Unlock()
	for asset := range f.decimals {
		samples, err := f.store.Samples(ctx, asset, since)
		if err != nil {
			return err
		}
		f.history[asset] = samples
	}
	return nil
}

// PriceOf returns the time-weighted average over the configured window.
func (f *TWAPFeed) PriceOf(_ context.Context, asset crypto.Address) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	decimals, ok := f.decimals[asset]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	now := f.nowFn().UTC()
	var cutoff time.Time
	if f.window > 0 {
		cutoff = now.Add(-f.window)
	}
	samples := make([]Sample, 0, len(f.history[asset]))
	for _, s := range f.history[asset] {
		if !cutoff.IsZero() && s.ObservedAt.Before(cutoff) {
			continue
		}
		if s.ObservedAt.After(now) {
			continue
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return Price{}, ErrNoFreshSample
	}
	latest := samples[len(samples)-1].ObservedAt
	if f.maxAge > 0 && now.Sub(latest) > f.maxAge {
		return Price{}, fmt.Errorf("%w: last sample %s old", ErrStalePrice, now.Sub(latest))
	}
	return Price{Value: timeWeighted(samples, now), Decimals: decimals, Timestamp: latest}, nil
}

func timeWeighted(samples []Sample, now time.Time) *big.Int {
	sum := new(big.Int)
	total := new(big.Int)
	for i, s := range samples {
		end := now
		if i+1 < len(samples) {
			end = samples[i+1].ObservedAt
		}
		weight := int64(end.Sub(s.ObservedAt) / time.Second)
		if weight <= 0 {
			continue
		}
		w := big.NewInt(weight)
		sum.Add(sum, new(big.Int).Mul(s.Value, w))
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return new(big.Int).Set(samples[len(samples)-1].Value)
	}
	return sum.Quo(sum, total)
}
