package lending

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"humanebanque/crypto"
)

// LoanStatus enumerates the loan lifecycle.
type LoanStatus uint8

const (
	LoanPending LoanStatus = iota
	LoanActive
	LoanRepaid
	LoanDefaulted
	LoanLiquidated
	// LoanExpired marks a pending loan that reached maturity unclaimed.
	LoanExpired
)

func (s LoanStatus) String() string {
	switch s {
	case LoanPending:
		return "pending"
	case LoanActive:
		return "active"
	case LoanRepaid:
		return "repaid"
	case LoanDefaulted:
		return "defaulted"
	case LoanLiquidated:
		return "liquidated"
	case LoanExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s LoanStatus) Terminal() bool {
	return s != LoanPending && s != LoanActive
}

// Nullifier is the 32-byte identity token issued by the humanity oracle.
type Nullifier [32]byte

// NullifierFromUint256 converts the oracle's field element representation.
func NullifierFromUint256(v *uint256.Int) Nullifier {
	if v == nil {
		return Nullifier{}
	}
	return Nullifier(v.Bytes32())
}

// ParseNullifier decodes a 0x-prefixed hex nullifier hash. Short values are
// left padded.
func ParseNullifier(s string) (Nullifier, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if trimmed == "" || len(trimmed) > 64 {
		return Nullifier{}, fmt.Errorf("invalid nullifier hash %q", s)
	}
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Nullifier{}, fmt.Errorf("invalid nullifier hash %q: %w", s, err)
	}
	var n Nullifier
	copy(n[32-len(raw):], raw)
	return n, nil
}

func (n Nullifier) Uint256() *uint256.Int { return new(uint256.Int).SetBytes32(n[:]) }

func (n Nullifier) Hex() string { return "0x" + hex.EncodeToString(n[:]) }

func (n Nullifier) String() string { return n.Hex() }

func (n Nullifier) IsZero() bool { return n == Nullifier{} }

// Market aggregates the order book statistics for one maturity.
type Market struct {
	Maturity             uint64
	CreatedAt            uint64
	LastAuctionTimestamp uint64
	LastClearingRateBps  uint64
	// TotalOfferedAmount and TotalRequestedAmount hold unmatched volume.
	TotalOfferedAmount   *big.Int
	TotalRequestedAmount *big.Int
	ActiveLoanCount      uint64
	TotalLoanVolume      *big.Int
	DefaultCount         uint64
	AuctionCount         uint64
}

func newMarket(maturity, now uint64) *Market {
	return &Market{
		Maturity:             maturity,
		CreatedAt:            now,
		LastAuctionTimestamp: now,
		TotalOfferedAmount:   big.NewInt(0),
		TotalRequestedAmount: big.NewInt(0),
		TotalLoanVolume:      big.NewInt(0),
	}
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.TotalOfferedAmount = cloneInt(m.TotalOfferedAmount)
	clone.TotalRequestedAmount = cloneInt(m.TotalRequestedAmount)
	clone.TotalLoanVolume = cloneInt(m.TotalLoanVolume)
	return &clone
}

// LendOffer is quote currency escrowed by a lender awaiting an auction.
// Remaining shrinks as auctions fill the offer; Amount keeps the submitted
// size.
type LendOffer struct {
	ID              uint64
	Lender          crypto.Address
	LenderNullifier Nullifier
	Amount          *big.Int
	Remaining       *big.Int
	MinRateBps      uint64
	Maturity        uint64
	Matched         bool
	SubmittedAt     uint64
}

func (o *LendOffer) Clone() *LendOffer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Amount = cloneInt(o.Amount)
	clone.Remaining = cloneInt(o.Remaining)
	return &clone
}

// BorrowRequest is collateral escrowed by a borrower awaiting an auction.
type BorrowRequest struct {
	ID                  uint64
	Borrower            crypto.Address
	BorrowerNullifier   Nullifier
	CollateralAsset     crypto.Address
	CollateralAmount    *big.Int
	RemainingCollateral *big.Int
	RequestedAmount     *big.Int
	Remaining           *big.Int
	MaxRateBps          uint64
	Maturity            uint64
	Matched             bool
	SubmittedAt         uint64
}

func (r *BorrowRequest) Clone() *BorrowRequest {
	if r == nil {
		return nil
	}
	clone := *r
	clone.CollateralAmount = cloneInt(r.CollateralAmount)
	clone.RemainingCollateral = cloneInt(r.RemainingCollateral)
	clone.RequestedAmount = cloneInt(r.RequestedAmount)
	clone.Remaining = cloneInt(r.Remaining)
	return &clone
}

// Loan is a fixed-rate position created by an auction.
type Loan struct {
	ID                uint64
	Lender            crypto.Address
	LenderNullifier   Nullifier
	Borrower          crypto.Address
	BorrowerNullifier Nullifier
	Principal         *big.Int
	RateBps           uint64
	StartTimestamp    uint64
	Maturity          uint64
	Status            LoanStatus
	CollateralAsset   crypto.Address
	CollateralAmount  *big.Int
	OfferID           uint64
	RequestID         uint64
	CreatedAt         uint64
	ClosedAt          uint64
	// Settled is the quote amount the lender received when the loan closed.
	Settled *big.Int
}

func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Principal = cloneInt(l.Principal)
	clone.CollateralAmount = cloneInt(l.CollateralAmount)
	clone.Settled = cloneInt(l.Settled)
	return &clone
}

// RiskParams holds the owner-tunable LTV bounds in basis points.
type RiskParams struct {
	InitialLTVBps           uint64
	LiquidationThresholdBps uint64
}

// PoolKey identifies the AMM pool the engine is anchored to.
type PoolKey struct {
	Currency0   crypto.Address
	Currency1   crypto.Address
	Fee         uint32
	TickSpacing int32
	Hooks       crypto.Address
}

// PoolAnchor is the persisted record of the pool the hook was initialised on.
type PoolAnchor struct {
	PoolID        [32]byte
	Currency0     crypto.Address
	Currency1     crypto.Address
	Fee           uint32
	InitializedAt uint64
}

// AuctionResult summarises a successful auction.
type AuctionResult struct {
	Maturity        uint64
	ClearingRateBps uint64
	LoanIDs         []uint64
	MatchedVolume   *big.Int
	// SkippedRequests lists requests no longer covered by collateral at the
	// current price.
	SkippedRequests []uint64
}

// SweepResult lists the loans closed by a maturity sweep.
type SweepResult struct {
	Maturity  uint64
	Defaulted []uint64
	Expired   []uint64
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
