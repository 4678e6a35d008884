package lending

import (
	"fmt"
	"time"

	"humanebanque/crypto"
	nativecommon "humanebanque/native/common"
)

const (
	// MaxRateBps caps every offer and request rate at 50% APR.
	MaxRateBps uint64 = 5_000
	// BasisPoints is the denominator for rates and LTV ratios.
	BasisPoints uint64 = 10_000
	// YearSeconds is the simple-interest year used for accrual.
	YearSeconds uint64 = 365 * 24 * 60 * 60

	DefaultAuctionInterval        = time.Hour
	DefaultInitialLTVBps   uint64 = 7_000
	DefaultLiquidationBps  uint64 = 8_500
	// DefaultVerifyAction is the identity action proofs are scoped to.
	DefaultVerifyAction = "verify-humane-banque"
)

// DefaultRiskParams returns the LTV bounds applied until the owner changes them.
func DefaultRiskParams() RiskParams {
	return RiskParams{InitialLTVBps: DefaultInitialLTVBps, LiquidationThresholdBps: DefaultLiquidationBps}
}

// Validate enforces initialLTV < liquidationThreshold <= 100%.
func (p RiskParams) Validate() error {
	if p.InitialLTVBps == 0 || p.LiquidationThresholdBps > BasisPoints || p.InitialLTVBps >= p.LiquidationThresholdBps {
		return fmt.Errorf("%w: initial %d, threshold %d", ErrInvalidLTV, p.InitialLTVBps, p.LiquidationThresholdBps)
	}
	return nil
}

// Settings wires the static deployment parameters of an engine.
type Settings struct {
	// Owner is the single administrative identity.
	Owner crypto.Address
	// Custody holds escrowed quote currency and collateral.
	Custody crypto.Address
	// QuoteAsset is the currency lent and repaid.
	QuoteAsset crypto.Address
	// PoolManager is the only caller accepted by AfterInitialize.
	PoolManager     crypto.Address
	AuctionInterval time.Duration
	Risk            RiskParams
	// VerifyAction scopes identity proofs.
	VerifyAction string
	// OrderQuota bounds order submissions per identity.
	OrderQuota nativecommon.Quota
}

// Normalize fills unset fields with defaults.
func (s *Settings) Normalize() {
	if s.AuctionInterval <= 0 {
		s.AuctionInterval = DefaultAuctionInterval
	}
	if s.Risk == (RiskParams{}) {
		s.Risk = DefaultRiskParams()
	}
	if s.VerifyAction == "" {
		s.VerifyAction = DefaultVerifyAction
	}
}

// Validate checks the settings are usable.
func (s Settings) Validate() error {
	if s.Owner.IsZero() {
		return fmt.Errorf("lending: owner address required")
	}
	if s.Custody.IsZero() {
		return fmt.Errorf("lending: custody address required")
	}
	if s.QuoteAsset.IsZero() {
		return fmt.Errorf("lending: quote asset required")
	}
	if s.Custody == s.Owner {
		return fmt.Errorf("lending: custody must differ from owner")
	}
	return s.Risk.Validate()
}
