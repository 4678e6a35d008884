package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"humanebanque/crypto"
	"humanebanque/native/lending"
	"humanebanque/services/identity"
)

const requestLimit = 1 << 20 // 1 MiB

// proofJSON mirrors the World ID widget output.
type proofJSON struct {
	MerkleRoot        string `json:"merkle_root"`
	NullifierHash     string `json:"nullifier_hash"`
	Proof             string `json:"proof"`
	VerificationLevel string `json:"verification_level"`
}

func (p proofJSON) decode() (lending.IdentityProof, error) {
	root, err := parseWord(p.MerkleRoot)
	if err != nil {
		return lending.IdentityProof{}, fmt.Errorf("%w: merkle_root: %v", errBadRequest, err)
	}
	nullifier, err := parseWord(p.NullifierHash)
	if err != nil {
		return lending.IdentityProof{}, fmt.Errorf("%w: nullifier_hash: %v", errBadRequest, err)
	}
	words, err := identity.UnpackProof(p.Proof)
	if err != nil {
		return lending.IdentityProof{}, fmt.Errorf("%w: proof: %v", errBadRequest, err)
	}
	level := strings.TrimSpace(p.VerificationLevel)
	if level == "" {
		level = "orb"
	}
	return lending.IdentityProof{
		MerkleRoot:        root,
		NullifierHash:     nullifier,
		Proof:             words,
		VerificationLevel: level,
	}, nil
}

// parseWord accepts 0x-prefixed hex or decimal field elements.
func parseWord(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("value required")
	}
	v, ok := new(big.Int).SetString(trimmed, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value %q exceeds 256 bits", s)
	}
	return word, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, field)
	}
	return v, nil
}

func parseAddress(field, s string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(s)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return v, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: missing request body", errBadRequest)
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode request: %v", errBadRequest, err)
	}
	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type marketJSON struct {
	Maturity             uint64 `json:"maturity"`
	CreatedAt            uint64 `json:"createdAt"`
	LastAuctionTimestamp uint64 `json:"lastAuctionTimestamp"`
	LastClearingRateBps  uint64 `json:"lastClearingRateBps"`
	TotalOfferedAmount   string `json:"totalOfferedAmount"`
	TotalRequestedAmount string `json:"totalRequestedAmount"`
	ActiveLoanCount      uint64 `json:"activeLoanCount"`
	TotalLoanVolume      string `json:"totalLoanVolume"`
	DefaultCount         uint64 `json:"defaultCount"`
	AuctionCount         uint64 `json:"auctionCount"`
}

func marketFrom(m *lending.Market) marketJSON {
	return marketJSON{
		Maturity:             m.Maturity,
		CreatedAt:            m.CreatedAt,
		LastAuctionTimestamp: m.LastAuctionTimestamp,
		LastClearingRateBps:  m.LastClearingRateBps,
		TotalOfferedAmount:   amountString(m.TotalOfferedAmount),
		TotalRequestedAmount: amountString(m.TotalRequestedAmount),
		ActiveLoanCount:      m.ActiveLoanCount,
		TotalLoanVolume:      amountString(m.TotalLoanVolume),
		DefaultCount:         m.DefaultCount,
		AuctionCount:         m.AuctionCount,
	}
}

type offerJSON struct {
	ID          uint64 `json:"id"`
	Lender      string `json:"lender"`
	Amount      string `json:"amount"`
	Remaining   string `json:"remaining"`
	MinRateBps  uint64 `json:"minRateBps"`
	Maturity    uint64 `json:"maturity"`
	Matched     bool   `json:"matched"`
	SubmittedAt uint64 `json:"submittedAt"`
}

func offerFrom(o *lending.LendOffer) offerJSON {
	return offerJSON{
		ID:          o.ID,
		Lender:      o.Lender.String(),
		Amount:      amountString(o.Amount),
		Remaining:   amountString(o.Remaining),
		MinRateBps:  o.MinRateBps,
		Maturity:    o.Maturity,
		Matched:     o.Matched,
		SubmittedAt: o.SubmittedAt,
	}
}

type requestJSON struct {
	ID                  uint64 `json:"id"`
	Borrower            string `json:"borrower"`
	CollateralAsset     string `json:"collateralAsset"`
	CollateralAmount    string `json:"collateralAmount"`
	RemainingCollateral string `json:"remainingCollateral"`
	RequestedAmount     string `json:"requestedAmount"`
	Remaining           string `json:"remaining"`
	MaxRateBps          uint64 `json:"maxRateBps"`
	Maturity            uint64 `json:"maturity"`
	Matched             bool   `json:"matched"`
	SubmittedAt         uint64 `json:"submittedAt"`
}

func requestFrom(r *lending.BorrowRequest) requestJSON {
	return requestJSON{
		ID:                  r.ID,
		Borrower:            r.Borrower.String(),
		CollateralAsset:     r.CollateralAsset.String(),
		CollateralAmount:    amountString(r.CollateralAmount),
		RemainingCollateral: amountString(r.RemainingCollateral),
		RequestedAmount:     amountString(r.RequestedAmount),
		Remaining:           amountString(r.Remaining),
		MaxRateBps:          r.MaxRateBps,
		Maturity:            r.Maturity,
		Matched:             r.Matched,
		SubmittedAt:         r.SubmittedAt,
	}
}

type loanJSON struct {
	ID               uint64 `json:"id"`
	Lender           string `json:"lender"`
	Borrower         string `json:"borrower"`
	Principal        string `json:"principal"`
	RateBps          uint64 `json:"rateBps"`
	StartTimestamp   uint64 `json:"startTimestamp"`
	Maturity         uint64 `json:"maturity"`
	Status           string `json:"status"`
	CollateralAsset  string `json:"collateralAsset"`
	CollateralAmount string `json:"collateralAmount"`
	OfferID          uint64 `json:"offerId"`
	RequestID        uint64 `json:"requestId"`
	CreatedAt        uint64 `json:"createdAt"`
	ClosedAt         uint64 `json:"closedAt,omitempty"`
	Settled          string `json:"settled,omitempty"`
	Owed             string `json:"owed,omitempty"`
}

func loanFrom(l *lending.Loan) loanJSON {
	out := loanJSON{
		ID:               l.ID,
		Lender:           l.Lender.String(),
		Borrower:         l.Borrower.String(),
		Principal:        amountString(l.Principal),
		RateBps:          l.RateBps,
		StartTimestamp:   l.StartTimestamp,
		Maturity:         l.Maturity,
		Status:           l.Status.String(),
		CollateralAsset:  l.CollateralAsset.String(),
		CollateralAmount: amountString(l.CollateralAmount),
		OfferID:          l.OfferID,
		RequestID:        l.RequestID,
		CreatedAt:        l.CreatedAt,
		ClosedAt:         l.ClosedAt,
	}
	if l.Status.Terminal() {
		out.Settled = amountString(l.Settled)
	}
	return out
}

type auctionJSON struct {
	Maturity        uint64   `json:"maturity"`
	ClearingRateBps uint64   `json:"clearingRateBps"`
	LoanIDs         []uint64 `json:"loanIds"`
	MatchedVolume   string   `json:"matchedVolume"`
	SkippedRequests []uint64 `json:"skippedRequests"`
}

func auctionFrom(res *lending.AuctionResult) auctionJSON {
	return auctionJSON{
		Maturity:        res.Maturity,
		ClearingRateBps: res.ClearingRateBps,
		LoanIDs:         nonNil(res.LoanIDs),
		MatchedVolume:   amountString(res.MatchedVolume),
		SkippedRequests: nonNil(res.SkippedRequests),
	}
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
