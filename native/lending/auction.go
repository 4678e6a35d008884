package lending

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"humanebanque/core/pricing"
	"humanebanque/crypto"
)

// fill is one matched slice of volume between an offer and a request.
type fill struct {
	offer      *LendOffer
	request    *BorrowRequest
	amount     *big.Int
	collateral *big.Int
}

// RunAuction clears the market for maturity. Offers are walked cheapest
// first and requests most rate-tolerant first; matching stops at the first
// incompatible pair. Every loan uses one clearing rate, the floored midpoint
// of the marginal pair, which lies within the limits of every matched order.
// Residual volume stays on the original order for the next round.
func (e *Engine) RunAuction(ctx context.Context, maturity uint64) (*AuctionResult, error) {
	var result *AuctionResult
	err := e.execute(ctx, pausable, func(c *call) error {
		market, err := c.state.getMarket(maturity)
		if err != nil {
			return err
		}
		interval := uint64(e.settings.AuctionInterval / time.Second)
		if c.now < market.LastAuctionTimestamp+interval {
			return fmt.Errorf("%w: next auction at %d", ErrAuctionIntervalNotElapsed, market.LastAuctionTimestamp+interval)
		}
		offers, requests, err := c.openOrders(maturity)
		if err != nil {
			return err
		}
		if len(offers) == 0 || len(requests) == 0 {
			return ErrNoOrdersToMatch
		}

		eligible, skipped, err := e.coveredRequests(c, requests)
		if err != nil {
			return err
		}
		sortBooks(offers, eligible)

		fills := matchOrders(offers, eligible)
		if len(fills) == 0 {
			return fmt.Errorf("%w: no rate-compatible pair", ErrNoOrdersToMatch)
		}
		marginal := fills[len(fills)-1]
		clearing := (marginal.offer.MinRateBps + marginal.request.MaxRateBps) / 2

		result = &AuctionResult{
			Maturity:        maturity,
			ClearingRateBps: clearing,
			MatchedVolume:   big.NewInt(0),
			SkippedRequests: skipped,
		}
		for _, f := range fills {
			loan, err := c.originate(f, clearing, maturity)
			if err != nil {
				return err
			}
			result.LoanIDs = append(result.LoanIDs, loan.ID)
			result.MatchedVolume.Add(result.MatchedVolume, f.amount)
		}
		for _, o := range offers {
			if err := c.state.putOffer(o); err != nil {
				return err
			}
		}
		for _, r := range eligible {
			if err := c.state.putRequest(r); err != nil {
				return err
			}
		}

		market.LastClearingRateBps = clearing
		market.LastAuctionTimestamp = c.now
		market.AuctionCount++
		market.TotalOfferedAmount = subFloor(market.TotalOfferedAmount, result.MatchedVolume)
		market.TotalRequestedAmount = subFloor(market.TotalRequestedAmount, result.MatchedVolume)
		if err := c.state.putMarket(market); err != nil {
			return err
		}
		c.emit(newAuctionExecutedEvent(result))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *call) openOrders(maturity uint64) ([]*LendOffer, []*BorrowRequest, error) {
	allOffers, err := c.state.offers(maturity)
	if err != nil {
		return nil, nil, err
	}
	allRequests, err := c.state.requests(maturity)
	if err != nil {
		return nil, nil, err
	}
	offers := make([]*LendOffer, 0, len(allOffers))
	for _, o := range allOffers {
		if !o.Matched && o.Remaining.Sign() > 0 {
			offers = append(offers, o)
		}
	}
	requests := make([]*BorrowRequest, 0, len(allRequests))
	for _, r := range allRequests {
		if !r.Matched && r.Remaining.Sign() > 0 {
			requests = append(requests, r)
		}
	}
	return offers, requests, nil
}

// coveredRequests drops requests whose remaining collateral no longer
// supports the remaining amount at the initial LTV. A feed failure aborts the
// auction.
func (e *Engine) coveredRequests(c *call, requests []*BorrowRequest) ([]*BorrowRequest, []uint64, error) {
	cache := make(map[crypto.Address]pricing.Price)
	eligible := make([]*BorrowRequest, 0, len(requests))
	var skipped []uint64
	for _, r := range requests {
		value, err := e.collateralValue(c, cache, r.CollateralAsset, r.RemainingCollateral)
		if err != nil {
			return nil, nil, err
		}
		if !withinLTV(r.Remaining, value, c.risk.InitialLTVBps) {
			skipped = append(skipped, r.ID)
			continue
		}
		eligible = append(eligible, r)
	}
	return eligible, skipped, nil
}

// sortBooks orders offers by ascending minimum rate and requests by
// descending maximum rate. Ties go to the older order.
func sortBooks(offers []*LendOffer, requests []*BorrowRequest) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].MinRateBps != offers[j].MinRateBps {
			return offers[i].MinRateBps < offers[j].MinRateBps
		}
		return offers[i].ID < offers[j].ID
	})
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].MaxRateBps != requests[j].MaxRateBps {
			return requests[i].MaxRateBps > requests[j].MaxRateBps
		}
		return requests[i].ID < requests[j].ID
	})
}

// matchOrders walks the sorted books and consumes volume in place.
func matchOrders(offers []*LendOffer, requests []*BorrowRequest) []fill {
	var fills []fill
	i, j := 0, 0
	for i < len(offers) && j < len(requests) {
		o, r := offers[i], requests[j]
		if o.MinRateBps > r.MaxRateBps {
			break
		}
		amount := minInt(o.Remaining, r.Remaining)
		collateral := proportionalShare(r.RemainingCollateral, amount, r.Remaining)

		o.Remaining.Sub(o.Remaining, amount)
		r.Remaining.Sub(r.Remaining, amount)
		r.RemainingCollateral.Sub(r.RemainingCollateral, collateral)
		fills = append(fills, fill{offer: o, request: r, amount: amount, collateral: collateral})

		if o.Remaining.Sign() == 0 {
			o.Matched = true
			i++
		}
		if r.Remaining.Sign() == 0 {
			r.Matched = true
			j++
		}
	}
	return fills
}

func (c *call) originate(f fill, rateBps, maturity uint64) (*Loan, error) {
	id, err := c.state.nextID("loan")
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:                id,
		Lender:            f.offer.Lender,
		LenderNullifier:   f.offer.LenderNullifier,
		Borrower:          f.request.Borrower,
		BorrowerNullifier: f.request.BorrowerNullifier,
		Principal:         new(big.Int).Set(f.amount),
		RateBps:           rateBps,
		Maturity:          maturity,
		Status:            LoanPending,
		CollateralAsset:   f.request.CollateralAsset,
		CollateralAmount:  new(big.Int).Set(f.collateral),
		OfferID:           f.offer.ID,
		RequestID:         f.request.ID,
		CreatedAt:         c.now,
		Settled:           big.NewInt(0),
	}
	if err := c.state.addLoan(loan); err != nil {
		return nil, err
	}
	c.emit(newLoanEvent(EventTypeLoanCreated, loan))
	return loan, nil
}
