package lending

import (
	"context"
	"fmt"
	"math/big"

	"humanebanque/crypto"
)

// LiquidityVenue converts seized collateral into the quote asset. The venue
// account receives the collateral before Sell is called and must hold the
// proceeds it reports.
type LiquidityVenue interface {
	Address() crypto.Address
	Sell(ctx context.Context, asset crypto.Address, amount *big.Int) (*big.Int, error)
}

func (e *Engine) sellCollateral(c *call, loan *Loan) (*big.Int, error) {
	venueAddr := e.venue.Address()
	if err := c.transfer(loan.CollateralAsset, e.settings.Custody, venueAddr, loan.CollateralAmount); err != nil {
		return nil, fmt.Errorf("lending: deliver collateral to venue: %w", err)
	}
	proceeds, err := e.venue.Sell(c.ctx, loan.CollateralAsset, loan.CollateralAmount)
	if err != nil {
		return nil, fmt.Errorf("lending: venue sale: %w", err)
	}
	if proceeds == nil || proceeds.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := c.transfer(e.settings.QuoteAsset, venueAddr, loan.Lender, proceeds); err != nil {
		return nil, fmt.Errorf("lending: pay venue proceeds: %w", err)
	}
	return new(big.Int).Set(proceeds), nil
}
