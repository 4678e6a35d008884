package lending

import (
	"context"
	"fmt"
	"math/big"

	"humanebanque/core/pricing"
	"humanebanque/crypto"
	"humanebanque/native/bank"
)

// SetCollateralAllowed adds or removes asset from the collateral allow-list.
func (e *Engine) SetCollateralAllowed(ctx context.Context, caller, asset crypto.Address, allowed bool) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if asset.IsZero() {
			return fmt.Errorf("%w: zero asset", ErrCollateralNotAllowed)
		}
		if err := c.state.setCollateralAllowed(asset, allowed); err != nil {
			return err
		}
		c.emit(newCollateralAllowedEvent(asset, allowed))
		return nil
	})
}

// IsAllowed reports whether asset may be posted as collateral.
func (e *Engine) IsAllowed(asset crypto.Address) (bool, error) {
	var allowed bool
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		allowed, err = s.collateralAllowed(asset)
		return err
	})
	return allowed, err
}

// CollateralAssets lists the currently allowed collateral assets.
func (e *Engine) CollateralAssets() ([]crypto.Address, error) {
	var assets []crypto.Address
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		assets, err = s.collateralAssets()
		return err
	})
	return assets, err
}

// collateralValue prices amount of asset in quote units. cache, when non-nil,
// pins one feed read per asset for the duration of a call.
func (e *Engine) collateralValue(c *call, cache map[crypto.Address]pricing.Price, asset crypto.Address, amount *big.Int) (*big.Int, error) {
	if e.prices == nil {
		return nil, fmt.Errorf("%w: not configured", ErrPriceUnavailable)
	}
	if price, ok := cache[asset]; ok {
		return price.ValueOf(amount), nil
	}
	price, err := e.prices.PriceOf(c.ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("lending: price feed: %w", err)
	}
	if cache != nil {
		cache[asset] = price
	}
	return price.ValueOf(amount), nil
}
