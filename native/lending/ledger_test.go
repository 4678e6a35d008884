package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"humanebanque/crypto"
	nativecommon "humanebanque/native/common"
)

func TestClaimReleasesPrincipal(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	before := f.balance(f.usdc, f.borrower)

	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))

	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanActive || got.StartTimestamp != uint64(f.now.Unix()) {
		t.Fatalf("unexpected loan after claim: %+v", got)
	}
	expectAmount(t, "borrower usdc", f.balance(f.usdc, f.borrower), new(big.Int).Add(before, usd(800)))
	market, _ := f.engine.Market(f.maturity)
	if market.ActiveLoanCount != 1 {
		t.Fatalf("expected one active loan, got %d", market.ActiveLoanCount)
	}
	expectAmount(t, "loan volume", market.TotalLoanVolume, usd(800))
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()

	err := f.engine.ClaimLoan(f.ctx, f.lender, loan.ID)
	expectErr(t, err, ErrNotBorrower)
	expectErr(t, err, ErrUnauthorized)

	err = f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID+100)
	expectErr(t, err, ErrUnknownLoan)

	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))
	expectErr(t, f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID), ErrNotPending)
}

func TestClaimAfterMaturityFails(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	f.now = time.Unix(int64(f.maturity), 0)

	expectErr(t, f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID), ErrLoanMatured)
	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanPending {
		t.Fatalf("failed claim changed status to %s", got.Status)
	}
}

func TestRepayAfterThirtyDays(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	if loan.RateBps != 750 {
		t.Fatalf("expected 750 bps, got %d", loan.RateBps)
	}
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))
	lenderBefore := f.balance(f.usdc, f.lender)
	payerBefore := f.balance(f.usdc, f.payer)
	wethBefore := f.balance(f.weth, f.borrower)

	f.advance(30 * 24 * time.Hour)
	quoted, err := f.engine.OwedAmount(loan.ID)
	if err != nil {
		t.Fatalf("owed amount: %v", err)
	}
	// 800 USDC * 7.5% * 30/365, floored to the smallest unit.
	want := big.NewInt(804_931_506)
	expectAmount(t, "quoted", quoted, want)

	owed, err := f.engine.RepayLoan(f.ctx, f.payer, loan.ID)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	expectAmount(t, "owed", owed, want)
	expectAmount(t, "lender usdc", f.balance(f.usdc, f.lender), new(big.Int).Add(lenderBefore, want))
	expectAmount(t, "payer usdc", f.balance(f.usdc, f.payer), new(big.Int).Sub(payerBefore, want))
	expectAmount(t, "borrower weth", f.balance(f.weth, f.borrower), new(big.Int).Add(wethBefore, eth(20)))

	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanRepaid || got.ClosedAt != uint64(f.now.Unix()) {
		t.Fatalf("unexpected loan after repay: %+v", got)
	}
	expectAmount(t, "settled", got.Settled, want)
	market, _ := f.engine.Market(f.maturity)
	if market.ActiveLoanCount != 0 {
		t.Fatalf("active count not decremented")
	}
	expectErr(t, f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID), ErrNotPending)
	_, err = f.engine.RepayLoan(f.ctx, f.payer, loan.ID)
	expectErr(t, err, ErrNotActive)
	quoted, _ = f.engine.OwedAmount(loan.ID)
	if quoted.Sign() != 0 {
		t.Fatalf("closed loan still owes %s", quoted)
	}
}

func TestInterestStopsAtMaturity(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))

	f.now = time.Unix(int64(f.maturity), 0).Add(10 * 24 * time.Hour)
	owed, err := f.engine.OwedAmount(loan.ID)
	if err != nil {
		t.Fatalf("owed amount: %v", err)
	}
	// Accrual runs from the claim (one hour after listing) to maturity.
	expectAmount(t, "owed", owed, big.NewInt(800_000_000+14_787_671))
}

func TestRepayPendingLoanFails(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	_, err := f.engine.RepayLoan(f.ctx, f.payer, loan.ID)
	expectErr(t, err, ErrNotActive)
	owed, _ := f.engine.OwedAmount(loan.ID)
	expectAmount(t, "pending owed", owed, usd(800))
}

func TestRepayWithoutAllowanceRollsBack(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))
	f.must(f.engine.Approve(f.ctx, f.payer, f.usdc, big.NewInt(1)))
	f.advance(24 * time.Hour)

	if _, err := f.engine.RepayLoan(f.ctx, f.payer, loan.ID); err == nil {
		t.Fatalf("expected repayment without allowance to fail")
	}
	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanActive {
		t.Fatalf("failed repayment changed status to %s", got.Status)
	}
	market, _ := f.engine.Market(f.maturity)
	if market.ActiveLoanCount != 1 {
		t.Fatalf("failed repayment changed market counters")
	}
}

func TestLiquidateOverdueLoanDefaultsAndBlacklists(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))
	lenderWeth := f.balance(f.weth, f.lender)

	f.now = time.Unix(int64(f.maturity), 0)
	expectErr(t, f.engine.Liquidate(f.ctx, loan.ID), ErrNotLiquidatable)

	f.advance(time.Second)
	f.log.seen = nil
	f.must(f.engine.Liquidate(f.ctx, loan.ID))

	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanDefaulted {
		t.Fatalf("expected defaulted, got %s", got.Status)
	}
	expectAmount(t, "lender weth", f.balance(f.weth, f.lender), new(big.Int).Add(lenderWeth, eth(20)))
	listed, _ := f.engine.IsBlacklisted(nullifierOf(borrowerID))
	if !listed {
		t.Fatalf("defaulter not blacklisted")
	}
	market, _ := f.engine.Market(f.maturity)
	if market.DefaultCount != 1 || market.ActiveLoanCount != 0 {
		t.Fatalf("unexpected market counters %+v", market)
	}
	if f.log.count(EventTypeLoanDefaulted) != 1 || f.log.count(EventTypeDefaulterBlacklisted) != 1 {
		t.Fatalf("unexpected events %v", f.log.types())
	}
	expectErr(t, f.engine.Liquidate(f.ctx, loan.ID), ErrNotActive)

	next := uint64(f.now.Add(30 * 24 * time.Hour).Unix())
	f.must(f.engine.AddMarket(f.ctx, f.owner, next))
	_, err := f.engine.SubmitBorrowRequest(f.ctx, f.borrower, BorrowParams{
		CollateralAsset:  f.weth,
		CollateralAmount: eth(10),
		RequestedAmount:  usd(100),
		MaxRateBps:       1_000,
		Maturity:         next,
	}, proofFor(borrowerID))
	expectErr(t, err, ErrBlacklisted)
	// A fresh wallet does not help: the exclusion follows the identity.
	_, err = f.engine.SubmitLendOffer(f.ctx, f.payer, usd(100), 500, next, proofFor(borrowerID))
	expectErr(t, err, ErrBlacklisted)
}

func TestLiquidateBelowThreshold(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))

	expectErr(t, f.engine.Liquidate(f.ctx, loan.ID), ErrNotLiquidatable)

	f.prices.Set(f.weth, usd(40), 18)
	lenderWeth := f.balance(f.weth, f.lender)
	f.must(f.engine.Liquidate(f.ctx, loan.ID))

	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanLiquidated {
		t.Fatalf("expected liquidated, got %s", got.Status)
	}
	expectAmount(t, "lender weth", f.balance(f.weth, f.lender), new(big.Int).Add(lenderWeth, eth(20)))
	listed, _ := f.engine.IsBlacklisted(nullifierOf(borrowerID))
	if listed {
		t.Fatalf("price liquidation must not blacklist the borrower")
	}
	market, _ := f.engine.Market(f.maturity)
	if market.DefaultCount != 0 {
		t.Fatalf("liquidation counted as default")
	}
}

func TestLiquidatePendingLoanFails(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	f.now = time.Unix(int64(f.maturity)+1, 0)
	expectErr(t, f.engine.Liquidate(f.ctx, loan.ID), ErrNotActive)
}

func TestMarkDefault(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))

	expectErr(t, f.engine.MarkDefault(f.ctx, f.owner, loan.ID), ErrNotMatured)
	f.now = time.Unix(int64(f.maturity)+1, 0)
	expectErr(t, f.engine.MarkDefault(f.ctx, f.lender, loan.ID), ErrNotOwner)

	f.must(f.engine.MarkDefault(f.ctx, f.owner, loan.ID))
	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanDefaulted {
		t.Fatalf("expected defaulted, got %s", got.Status)
	}
	listed, _ := f.engine.IsBlacklisted(nullifierOf(borrowerID))
	if !listed {
		t.Fatalf("defaulter not blacklisted")
	}
}

func TestSweepDefaults(t *testing.T) {
	f := newFixture(t)
	f.offer(f.lender, lenderID, usd(1_000), 500)
	f.offer(f.lender2, lender2ID, usd(2_000), 700)
	f.request(f.borrower, borrowerID, eth(20), usd(800), 1_000)
	f.request(f.borrower2, borrower2ID, eth(40), usd(1_500), 600)
	f.advance(time.Hour)
	res, err := f.engine.RunAuction(f.ctx, f.maturity)
	if err != nil {
		t.Fatalf("run auction: %v", err)
	}
	claimed, unclaimed := res.LoanIDs[0], res.LoanIDs[1]
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, claimed))

	_, err = f.engine.SweepDefaults(f.ctx, f.maturity)
	expectErr(t, err, ErrNotMatured)

	f.now = time.Unix(int64(f.maturity)+1, 0)
	lenderUSDC := f.balance(f.usdc, f.lender)
	borrower2Weth := f.balance(f.weth, f.borrower2)
	sweep, err := f.engine.SweepDefaults(f.ctx, f.maturity)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(sweep.Defaulted) != 1 || sweep.Defaulted[0] != claimed {
		t.Fatalf("unexpected defaulted %v", sweep.Defaulted)
	}
	if len(sweep.Expired) != 1 || sweep.Expired[0] != unclaimed {
		t.Fatalf("unexpected expired %v", sweep.Expired)
	}

	expired, _ := f.engine.Loan(unclaimed)
	if expired.Status != LoanExpired {
		t.Fatalf("expected expired, got %s", expired.Status)
	}
	expectAmount(t, "lender refund", f.balance(f.usdc, f.lender), new(big.Int).Add(lenderUSDC, usd(200)))
	expectAmount(t, "borrower2 collateral refund", f.balance(f.weth, f.borrower2), new(big.Int).Add(borrower2Weth, expired.CollateralAmount))
	listed, _ := f.engine.IsBlacklisted(nullifierOf(borrower2ID))
	if listed {
		t.Fatalf("an unclaimed loan must not blacklist its borrower")
	}
	listed, _ = f.engine.IsBlacklisted(nullifierOf(borrowerID))
	if !listed {
		t.Fatalf("defaulter not blacklisted")
	}

	again, err := f.engine.SweepDefaults(f.ctx, f.maturity)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again.Defaulted)+len(again.Expired) != 0 {
		t.Fatalf("second sweep closed loans again: %+v", again)
	}
}

type stubVenue struct {
	addr     crypto.Address
	proceeds *big.Int
	sold     *big.Int
}

func (v *stubVenue) Address() crypto.Address { return v.addr }

func (v *stubVenue) Sell(_ context.Context, _ crypto.Address, amount *big.Int) (*big.Int, error) {
	v.sold = new(big.Int).Set(amount)
	return v.proceeds, nil
}

func TestSeizedCollateralRoutedThroughVenue(t *testing.T) {
	f := newFixture(t)
	venue := &stubVenue{addr: makeAddress(0x60), proceeds: usd(780)}
	f.must(f.engine.Mint(f.ctx, f.owner, f.usdc, venue.addr, usd(5_000)))
	f.engine.SetLiquidityVenue(venue)

	loan := f.matchedLoan()
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))
	lenderUSDC := f.balance(f.usdc, f.lender)
	f.prices.Set(f.weth, usd(40), 18)
	f.must(f.engine.Liquidate(f.ctx, loan.ID))

	expectAmount(t, "sold", venue.sold, eth(20))
	expectAmount(t, "venue weth", f.balance(f.weth, venue.addr), eth(20))
	expectAmount(t, "lender usdc", f.balance(f.usdc, f.lender), new(big.Int).Add(lenderUSDC, usd(780)))
	got, _ := f.engine.Loan(loan.ID)
	expectAmount(t, "settled", got.Settled, usd(780))
}

func TestTransferHookCannotReenter(t *testing.T) {
	f := newFixture(t)
	loan := f.matchedLoan()
	var hookErr error
	f.engine.SetTransferHook(func(ctx context.Context, asset, _, to crypto.Address, _ *big.Int) error {
		if asset != f.usdc || to != f.borrower {
			return nil
		}
		hookErr = f.engine.ClaimLoan(ctx, f.borrower, loan.ID)
		return hookErr
	})

	err := f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID)
	expectErr(t, err, nativecommon.ErrReentrantCall)
	if !errors.Is(hookErr, nativecommon.ErrReentrantCall) {
		t.Fatalf("hook saw %v", hookErr)
	}
	got, _ := f.engine.Loan(loan.ID)
	if got.Status != LoanPending {
		t.Fatalf("aborted claim left loan %s", got.Status)
	}

	f.engine.SetTransferHook(nil)
	f.must(f.engine.ClaimLoan(f.ctx, f.borrower, loan.ID))
}
