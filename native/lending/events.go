package lending

import (
	"math/big"
	"strconv"

	"humanebanque/core/types"
	"humanebanque/crypto"
)

const (
	EventTypeMarketAdded          = "lending.market.added"
	EventTypeCollateralAllowed    = "lending.collateral.allowed"
	EventTypeLTVUpdated           = "lending.ltv.updated"
	EventTypeOfferSubmitted       = "lending.offer.submitted"
	EventTypeRequestSubmitted     = "lending.request.submitted"
	EventTypeAuctionExecuted      = "lending.auction.executed"
	EventTypeLoanCreated          = "lending.loan.created"
	EventTypeLoanClaimed          = "lending.loan.claimed"
	EventTypeLoanRepaid           = "lending.loan.repaid"
	EventTypeLoanDefaulted        = "lending.loan.defaulted"
	EventTypeLoanLiquidated       = "lending.loan.liquidated"
	EventTypeLoanExpired          = "lending.loan.expired"
	EventTypeDefaulterBlacklisted = "lending.blacklist.added"
	EventTypeUserUnblacklisted    = "lending.blacklist.removed"
	EventTypePauseToggled         = "lending.paused"
	EventTypePoolInitialized      = "lending.pool.initialized"
)

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newMarketAddedEvent(m *Market) *types.Event {
	return &types.Event{Type: EventTypeMarketAdded, Attributes: map[string]string{
		"maturity": u64(m.Maturity),
	}}
}

func newCollateralAllowedEvent(asset crypto.Address, allowed bool) *types.Event {
	return &types.Event{Type: EventTypeCollateralAllowed, Attributes: map[string]string{
		"asset":   asset.String(),
		"allowed": strconv.FormatBool(allowed),
	}}
}

func newLTVUpdatedEvent(p RiskParams) *types.Event {
	return &types.Event{Type: EventTypeLTVUpdated, Attributes: map[string]string{
		"initialLtvBps":           u64(p.InitialLTVBps),
		"liquidationThresholdBps": u64(p.LiquidationThresholdBps),
	}}
}

func newOfferSubmittedEvent(o *LendOffer) *types.Event {
	return &types.Event{Type: EventTypeOfferSubmitted, Attributes: map[string]string{
		"offerId":       u64(o.ID),
		"lender":        o.Lender.String(),
		"amount":        amountString(o.Amount),
		"minRateBps":    u64(o.MinRateBps),
		"maturity":      u64(o.Maturity),
		"nullifierHash": o.LenderNullifier.Hex(),
	}}
}

func newRequestSubmittedEvent(r *BorrowRequest) *types.Event {
	return &types.Event{Type: EventTypeRequestSubmitted, Attributes: map[string]string{
		"requestId":        u64(r.ID),
		"borrower":         r.Borrower.String(),
		"collateralAsset":  r.CollateralAsset.String(),
		"collateralAmount": amountString(r.CollateralAmount),
		"requestedAmount":  amountString(r.RequestedAmount),
		"maxRateBps":       u64(r.MaxRateBps),
		"maturity":         u64(r.Maturity),
		"nullifierHash":    r.BorrowerNullifier.Hex(),
	}}
}

func newAuctionExecutedEvent(res *AuctionResult) *types.Event {
	return &types.Event{Type: EventTypeAuctionExecuted, Attributes: map[string]string{
		"maturity":        u64(res.Maturity),
		"clearingRateBps": u64(res.ClearingRateBps),
		"loans":           strconv.Itoa(len(res.LoanIDs)),
		"matchedVolume":   amountString(res.MatchedVolume),
	}}
}

func newLoanEvent(eventType string, l *Loan) *types.Event {
	attrs := map[string]string{
		"loanId":           u64(l.ID),
		"lender":           l.Lender.String(),
		"borrower":         l.Borrower.String(),
		"principal":        amountString(l.Principal),
		"rateBps":          u64(l.RateBps),
		"maturity":         u64(l.Maturity),
		"status":           l.Status.String(),
		"collateralAsset":  l.CollateralAsset.String(),
		"collateralAmount": amountString(l.CollateralAmount),
	}
	switch eventType {
	case EventTypeLoanCreated:
		attrs["offerId"] = u64(l.OfferID)
		attrs["requestId"] = u64(l.RequestID)
	case EventTypeLoanClaimed:
		attrs["startTimestamp"] = u64(l.StartTimestamp)
	default:
		attrs["settled"] = amountString(l.Settled)
		attrs["closedAt"] = u64(l.ClosedAt)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newBlacklistEvent(eventType string, n Nullifier) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"nullifierHash": n.Hex(),
	}}
}

func newPauseEvent(paused bool) *types.Event {
	return &types.Event{Type: EventTypePauseToggled, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
	}}
}

func newPoolInitializedEvent(a *PoolAnchor) *types.Event {
	return &types.Event{Type: EventTypePoolInitialized, Attributes: map[string]string{
		"currency0": a.Currency0.String(),
		"currency1": a.Currency1.String(),
		"fee":       strconv.FormatUint(uint64(a.Fee), 10),
	}}
}
