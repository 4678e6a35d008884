package lending

import (
	"context"
	"fmt"
	"math/big"

	"humanebanque/crypto"
	nativecommon "humanebanque/native/common"
)

// AddMarket opens a term market maturing at the given unix timestamp.
func (e *Engine) AddMarket(ctx context.Context, caller crypto.Address, maturity uint64) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if maturity <= c.now {
			return fmt.Errorf("%w: %d <= %d", ErrPastMaturity, maturity, c.now)
		}
		exists, err := c.state.hasMarket(maturity)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %d", ErrMarketExists, maturity)
		}
		market := newMarket(maturity, c.now)
		if err := c.state.addMarket(market); err != nil {
			return err
		}
		c.emit(newMarketAddedEvent(market))
		return nil
	})
}

// openMarket loads a market that still accepts orders.
func (c *call) openMarket(maturity uint64) (*Market, error) {
	market, err := c.state.getMarket(maturity)
	if err != nil {
		return nil, err
	}
	if market.Maturity <= c.now {
		return nil, fmt.Errorf("%w: market %d has matured", ErrPastMaturity, maturity)
	}
	return market, nil
}

func (e *Engine) chargeQuota(c *call, nullifier Nullifier) error {
	q := e.settings.OrderQuota
	if q.MaxOrdersPerEpoch == 0 {
		return nil
	}
	prev, err := c.state.quota(nullifier)
	if err != nil {
		return err
	}
	next, err := nativecommon.CheckQuota(q, q.Epoch(c.now), prev, 1)
	if err != nil {
		return fmt.Errorf("lending: %w", err)
	}
	return c.state.putQuota(nullifier, next)
}

// SubmitLendOffer escrows amount of the quote asset from caller and records a
// lend offer at or above minRateBps. The caller must have approved the
// custody account beforehand.
func (e *Engine) SubmitLendOffer(ctx context.Context, caller crypto.Address, amount *big.Int, minRateBps, maturity uint64, proof IdentityProof) (uint64, error) {
	var id uint64
	err := e.execute(ctx, pausable, func(c *call) error {
		market, err := c.openMarket(maturity)
		if err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrZeroAmount
		}
		if minRateBps > MaxRateBps {
			return fmt.Errorf("%w: %d > %d", ErrRateTooHigh, minRateBps, MaxRateBps)
		}
		nullifier, err := e.verifyIdentity(c.ctx, c.state, caller, proof)
		if err != nil {
			return err
		}
		if err := e.chargeQuota(c, nullifier); err != nil {
			return err
		}

		if id, err = c.state.nextID("offer"); err != nil {
			return err
		}
		offer := &LendOffer{
			ID:              id,
			Lender:          caller,
			LenderNullifier: nullifier,
			Amount:          new(big.Int).Set(amount),
			Remaining:       new(big.Int).Set(amount),
			MinRateBps:      minRateBps,
			Maturity:        maturity,
			SubmittedAt:     c.now,
		}
		if err := c.state.addOffer(offer); err != nil {
			return err
		}
		market.TotalOfferedAmount.Add(market.TotalOfferedAmount, amount)
		if err := c.state.putMarket(market); err != nil {
			return err
		}
		if err := c.tokens.TransferFrom(c.ctx, e.settings.QuoteAsset, e.settings.Custody, caller, e.settings.Custody, amount); err != nil {
			return fmt.Errorf("lending: escrow offer: %w", err)
		}
		c.emit(newOfferSubmittedEvent(offer))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// BorrowParams describes a borrow request.
type BorrowParams struct {
	CollateralAsset  crypto.Address
	CollateralAmount *big.Int
	RequestedAmount  *big.Int
	MaxRateBps       uint64
	Maturity         uint64
}

// SubmitBorrowRequest escrows collateral from caller and records a request
// for RequestedAmount at no more than MaxRateBps. The collateral must be
// worth at least RequestedAmount / initialLTV at the current price.
func (e *Engine) SubmitBorrowRequest(ctx context.Context, caller crypto.Address, p BorrowParams, proof IdentityProof) (uint64, error) {
	var id uint64
	err := e.execute(ctx, pausable, func(c *call) error {
		market, err := c.openMarket(p.Maturity)
		if err != nil {
			return err
		}
		allowed, err := c.state.collateralAllowed(p.CollateralAsset)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrCollateralNotAllowed, p.CollateralAsset)
		}
		if p.CollateralAmount == nil || p.CollateralAmount.Sign() <= 0 {
			return ErrZeroCollateral
		}
		if p.RequestedAmount == nil || p.RequestedAmount.Sign() <= 0 {
			return ErrZeroAmount
		}
		if p.MaxRateBps > MaxRateBps {
			return fmt.Errorf("%w: %d > %d", ErrRateTooHigh, p.MaxRateBps, MaxRateBps)
		}
		value, err := e.collateralValue(c, nil, p.CollateralAsset, p.CollateralAmount)
		if err != nil {
			return err
		}
		if !withinLTV(p.RequestedAmount, value, c.risk.InitialLTVBps) {
			return fmt.Errorf("%w: requested %s against collateral worth %s at %d bps", ErrInsufficientCollateral, p.RequestedAmount, value, c.risk.InitialLTVBps)
		}
		nullifier, err := e.verifyIdentity(c.ctx, c.state, caller, proof)
		if err != nil {
			return err
		}
		if err := e.chargeQuota(c, nullifier); err != nil {
			return err
		}

		if id, err = c.state.nextID("request"); err != nil {
			return err
		}
		req := &BorrowRequest{
			ID:                  id,
			Borrower:            caller,
			BorrowerNullifier:   nullifier,
			CollateralAsset:     p.CollateralAsset,
			CollateralAmount:    new(big.Int).Set(p.CollateralAmount),
			RemainingCollateral: new(big.Int).Set(p.CollateralAmount),
			RequestedAmount:     new(big.Int).Set(p.RequestedAmount),
			Remaining:           new(big.Int).Set(p.RequestedAmount),
			MaxRateBps:          p.MaxRateBps,
			Maturity:            p.Maturity,
			SubmittedAt:         c.now,
		}
		if err := c.state.addRequest(req); err != nil {
			return err
		}
		market.TotalRequestedAmount.Add(market.TotalRequestedAmount, p.RequestedAmount)
		if err := c.state.putMarket(market); err != nil {
			return err
		}
		if err := c.tokens.TransferFrom(c.ctx, p.CollateralAsset, e.settings.Custody, caller, e.settings.Custody, p.CollateralAmount); err != nil {
			return fmt.Errorf("lending: escrow collateral: %w", err)
		}
		c.emit(newRequestSubmittedEvent(req))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
