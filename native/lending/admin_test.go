package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	nativecommon "humanebanque/native/common"
)

func TestSetLTVParams(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		initial, threshold uint64
		ok                 bool
	}{
		{6_000, 8_000, true},
		{0, 8_000, false},
		{8_000, 8_000, false},
		{9_000, 8_000, false},
		{7_000, 10_001, false},
		{9_999, 10_000, true},
	}
	for _, tc := range cases {
		err := f.engine.SetLTVParams(f.ctx, f.owner, tc.initial, tc.threshold)
		if tc.ok && err != nil {
			t.Fatalf("(%d,%d): unexpected error %v", tc.initial, tc.threshold, err)
		}
		if !tc.ok {
			expectErr(t, err, ErrInvalidLTV)
		}
	}
	params, err := f.engine.RiskParams()
	if err != nil {
		t.Fatalf("risk params: %v", err)
	}
	if params.InitialLTVBps != 9_999 || params.LiquidationThresholdBps != 10_000 {
		t.Fatalf("unexpected params %+v", params)
	}
	expectErr(t, f.engine.SetLTVParams(f.ctx, f.lender, 5_000, 6_000), ErrNotOwner)
	if f.log.count(EventTypeLTVUpdated) != 2 {
		t.Fatalf("expected two ltv events, got %v", f.log.types())
	}
}

func TestTighterLTVAppliesToNewRequests(t *testing.T) {
	f := newFixture(t)
	f.must(f.engine.SetLTVParams(f.ctx, f.owner, 5_000, 8_000))
	_, err := f.engine.SubmitBorrowRequest(f.ctx, f.borrower, BorrowParams{
		CollateralAsset:  f.weth,
		CollateralAmount: eth(20),
		RequestedAmount:  usd(1_001),
		MaxRateBps:       1_000,
		Maturity:         f.maturity,
	}, proofFor(borrowerID))
	expectErr(t, err, ErrInsufficientCollateral)
	f.request(f.borrower, borrowerID, eth(20), usd(1_000), 1_000)
}

func TestBlacklistAdministration(t *testing.T) {
	f := newFixture(t)
	n := nullifierOf(lenderID)

	expectErr(t, f.engine.AddToBlacklist(f.ctx, f.lender, n), ErrNotOwner)
	f.must(f.engine.AddToBlacklist(f.ctx, f.owner, n))
	f.must(f.engine.AddToBlacklist(f.ctx, f.owner, n))
	if f.log.count(EventTypeDefaulterBlacklisted) != 1 {
		t.Fatalf("repeated blacklisting must emit once: %v", f.log.types())
	}
	_, err := f.engine.SubmitLendOffer(f.ctx, f.lender, usd(10), 500, f.maturity, proofFor(lenderID))
	expectErr(t, err, ErrBlacklisted)
	_, err = f.engine.Verify(f.ctx, f.lender, proofFor(lenderID))
	expectErr(t, err, ErrBlacklisted)

	expectErr(t, f.engine.RemoveFromBlacklist(f.ctx, f.lender, n), ErrNotOwner)
	f.must(f.engine.RemoveFromBlacklist(f.ctx, f.owner, n))
	f.must(f.engine.RemoveFromBlacklist(f.ctx, f.owner, n))
	if f.log.count(EventTypeUserUnblacklisted) != 1 {
		t.Fatalf("expected one removal event: %v", f.log.types())
	}
	listed, _ := f.engine.IsBlacklisted(n)
	if listed {
		t.Fatalf("nullifier still listed")
	}
	f.offer(f.lender, lenderID, usd(10), 500)
}

func TestVerifyPassesSignalAndAction(t *testing.T) {
	f := newFixture(t)
	got, err := f.engine.Verify(f.ctx, f.lender, proofFor(lenderID))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != nullifierOf(lenderID) {
		t.Fatalf("unexpected nullifier %s", got)
	}
	req := f.oracle.lastReq
	if req.Action != DefaultVerifyAction || req.Signal != f.lender.String() {
		t.Fatalf("unexpected oracle request %+v", req)
	}
	if req.SignalHash.Cmp(SignalHash(f.lender.Bytes())) != 0 {
		t.Fatalf("signal hash mismatch")
	}

	f.oracle.rejected[lenderID] = true
	_, err = f.engine.Verify(f.ctx, f.lender, proofFor(lenderID))
	expectErr(t, err, ErrInvalidProof)

	_, err = f.engine.Verify(f.ctx, f.lender, IdentityProof{MerkleRoot: uint256.NewInt(1)})
	expectErr(t, err, ErrInvalidProof)
}

func TestVerifyWithoutOracleIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.engine.SetIdentityOracle(nil)
	_, err := f.engine.Verify(f.ctx, f.lender, proofFor(lenderID))
	expectErr(t, err, ErrIdentityUnavailable)
	if errors.Is(err, ErrInvalidProof) {
		t.Fatalf("missing oracle must not read as a rejected proof")
	}

	f.engine.SetIdentityOracle(f.oracle)
	f.oracle.failWith = fmt.Errorf("%w: dial tcp: connection refused", ErrIdentityUnavailable)
	_, err = f.engine.Verify(f.ctx, f.lender, proofFor(lenderID))
	expectErr(t, err, ErrIdentityUnavailable)
}

func TestSignalHashFitsField(t *testing.T) {
	h := SignalHash([]byte("0xabc"))
	if h.BitLen() > 248 {
		t.Fatalf("signal hash has %d bits", h.BitLen())
	}
}

func TestNullifierParsing(t *testing.T) {
	n, err := ParseNullifier("0x01")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != nullifierOf(1) {
		t.Fatalf("unexpected nullifier %s", n)
	}
	round, err := ParseNullifier(n.Hex())
	if err != nil || round != n {
		t.Fatalf("round trip failed: %s (%v)", round, err)
	}
	if _, err := ParseNullifier("0xzz"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
	if _, err := ParseNullifier("0x" + strings.Repeat("1", 65)); err == nil {
		t.Fatalf("expected error for oversized input")
	}
}

func TestCollateralAllowList(t *testing.T) {
	f := newFixture(t)
	wbtc := makeAddress(0x12)
	expectErr(t, f.engine.SetCollateralAllowed(f.ctx, f.lender, wbtc, true), ErrNotOwner)
	f.must(f.engine.SetCollateralAllowed(f.ctx, f.owner, wbtc, true))

	assets, err := f.engine.CollateralAssets()
	if err != nil || len(assets) != 2 {
		t.Fatalf("expected two assets, got %v (%v)", assets, err)
	}
	f.must(f.engine.SetCollateralAllowed(f.ctx, f.owner, f.weth, false))
	allowed, _ := f.engine.IsAllowed(f.weth)
	if allowed {
		t.Fatalf("weth still allowed")
	}
	_, err = f.engine.SubmitBorrowRequest(f.ctx, f.borrower, BorrowParams{
		CollateralAsset:  f.weth,
		CollateralAmount: eth(20),
		RequestedAmount:  usd(100),
		MaxRateBps:       1_000,
		Maturity:         f.maturity,
	}, proofFor(borrowerID))
	expectErr(t, err, ErrCollateralNotAllowed)
}

func TestPauseBlocksUserEntryPoints(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()

	expectErr(t, f.engine.SetPaused(f.ctx, f.lender, true), ErrNotOwner)
	f.must(f.engine.SetPaused(f.ctx, f.owner, true))
	paused, _ := f.engine.Paused()
	if !paused {
		t.Fatalf("engine not paused")
	}

	_, err := f.engine.SubmitLendOffer(f.ctx, f.lender, usd(10), 500, f.maturity, proofFor(lenderID))
	expectErr(t, err, nativecommon.ErrModulePaused)
	expectErr(t, f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID), nativecommon.ErrModulePaused)
	f.advance(time.Hour)
	_, err = f.engine.RunAuction(f.ctx, f.maturity)
	expectErr(t, err, nativecommon.ErrModulePaused)

	// Administration keeps working while paused.
	f.must(f.engine.SetCollateralAllowed(f.ctx, f.owner, makeAddress(0x12), true))

	f.must(f.engine.SetPaused(f.ctx, f.owner, false))
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))
	if f.log.count(EventTypePauseToggled) != 2 {
		t.Fatalf("expected two pause events: %v", f.log.types())
	}
}

func TestMarketsListedInCreationOrder(t *testing.T) {
	f := newFixture(t)
	later := f.maturity + 86_400
	f.must(f.engine.AddMarket(f.ctx, f.owner, later))
	markets, err := f.engine.Markets()
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 2 || markets[0].Maturity != f.maturity || markets[1].Maturity != later {
		t.Fatalf("unexpected markets %+v", markets)
	}
	offers, requests, err := f.engine.OrderBook(later)
	if err != nil || len(offers) != 0 || len(requests) != 0 {
		t.Fatalf("new market should have an empty book")
	}
	_, _, err = f.engine.OrderBook(later + 1)
	expectErr(t, err, ErrUnknownMarket)
}

func TestAfterInitializeAnchorsOnce(t *testing.T) {
	f := newFixture(t)
	manager := makeAddress(0x50)
	key := PoolKey{Currency0: f.usdc, Currency1: f.weth, Fee: 3_000, TickSpacing: 60, Hooks: f.custody}

	if perms := f.engine.Permissions(); !perms.AfterInitialize || perms.BeforeSwap {
		t.Fatalf("unexpected permissions %+v", perms)
	}
	_, err := f.engine.AfterInitialize(f.ctx, f.lender, key)
	expectErr(t, err, ErrNotPoolManager)

	bad := key
	bad.Currency0 = makeAddress(0x12)
	_, err = f.engine.AfterInitialize(f.ctx, manager, bad)
	expectErr(t, err, ErrInvalidPool)

	id, err := f.engine.AfterInitialize(f.ctx, manager, key)
	if err != nil {
		t.Fatalf("after initialize: %v", err)
	}
	if id != key.ID() || id == ([32]byte{}) {
		t.Fatalf("unexpected pool id %x", id)
	}
	anchor, ok, err := f.engine.PoolAnchor()
	if err != nil || !ok || anchor.PoolID != id || anchor.Fee != 3_000 {
		t.Fatalf("unexpected anchor %+v (%v)", anchor, err)
	}
	_, err = f.engine.AfterInitialize(f.ctx, manager, key)
	expectErr(t, err, ErrAlreadyInitialized)
}

func TestMintRequiresOwner(t *testing.T) {
	f := newFixture(t)
	expectErr(t, f.engine.Mint(f.ctx, f.lender, f.usdc, f.lender, usd(1)), ErrNotOwner)
	allowance, err := f.engine.Allowance(f.lender, f.usdc)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	expectAmount(t, "allowance", allowance, usd(1_000_000))
	if got := f.balance(f.usdc, makeAddress(0x77)); got.Cmp(big.NewInt(0)) != 0 {
		t.Fatalf("unfunded account has %s", got)
	}
}
