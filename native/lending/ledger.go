package lending

import (
	"context"
	"fmt"
	"math/big"

	"humanebanque/crypto"
	"humanebanque/native/bank"
)

// ClaimLoan releases a pending loan's principal to its borrower and starts
// interest accrual.
func (e *Engine) ClaimLoan(ctx context.Context, caller crypto.Address, loanID uint64) error {
	return e.execute(ctx, pausable, func(c *call) error {
		loan, err := c.state.getLoan(loanID)
		if err != nil {
			return err
		}
		if loan.Borrower != caller {
			return ErrNotBorrower
		}
		if loan.Status != LoanPending {
			return fmt.Errorf("%w: loan %d is %s", ErrNotPending, loanID, loan.Status)
		}
		if c.now >= loan.Maturity {
			return fmt.Errorf("%w: loan %d", ErrLoanMatured, loanID)
		}
		market, err := c.state.getMarket(loan.Maturity)
		if err != nil {
			return err
		}
		loan.Status = LoanActive
		loan.StartTimestamp = c.now
		market.ActiveLoanCount++
		market.TotalLoanVolume.Add(market.TotalLoanVolume, loan.Principal)
		if err := c.state.putLoan(loan); err != nil {
			return err
		}
		if err := c.state.putMarket(market); err != nil {
			return err
		}
		if err := c.transfer(e.settings.QuoteAsset, e.settings.Custody, loan.Borrower, loan.Principal); err != nil {
			return fmt.Errorf("lending: release principal: %w", err)
		}
		c.emit(newLoanEvent(EventTypeLoanClaimed, loan))
		return nil
	})
}

// RepayLoan settles an active loan. Anyone may repay; the payer must have
// approved the custody account for the owed amount, which goes straight to
// the lender. The collateral returns to the borrower.
func (e *Engine) RepayLoan(ctx context.Context, payer crypto.Address, loanID uint64) (*big.Int, error) {
	var owed *big.Int
	err := e.execute(ctx, pausable, func(c *call) error {
		loan, err := c.state.getLoan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanActive {
			return fmt.Errorf("%w: loan %d is %s", ErrNotActive, loanID, loan.Status)
		}
		market, err := c.state.getMarket(loan.Maturity)
		if err != nil {
			return err
		}
		owed, _ = owedAmount(loan, c.now)
		loan.Status = LoanRepaid
		loan.ClosedAt = c.now
		loan.Settled = new(big.Int).Set(owed)
		market.ActiveLoanCount--
		if err := c.state.putLoan(loan); err != nil {
			return err
		}
		if err := c.state.putMarket(market); err != nil {
			return err
		}
		if err := c.tokens.TransferFrom(c.ctx, e.settings.QuoteAsset, e.settings.Custody, payer, loan.Lender, owed); err != nil {
			return fmt.Errorf("lending: collect repayment: %w", err)
		}
		if err := c.transfer(loan.CollateralAsset, e.settings.Custody, loan.Borrower, loan.CollateralAmount); err != nil {
			return fmt.Errorf("lending: return collateral: %w", err)
		}
		c.emit(newLoanEvent(EventTypeLoanRepaid, loan))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owed, nil
}

// OwedAmount reports principal plus interest accrued so far.
func (e *Engine) OwedAmount(loanID uint64) (*big.Int, error) {
	var owed *big.Int
	now := e.now()
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		loan, err := s.getLoan(loanID)
		if err != nil {
			return err
		}
		switch loan.Status {
		case LoanActive:
			owed, _ = owedAmount(loan, now)
		case LoanPending:
			owed = new(big.Int).Set(loan.Principal)
		default:
			owed = big.NewInt(0)
		}
		return nil
	})
	return owed, err
}

// Liquidate closes an active loan. Past maturity the loan defaults: the
// collateral is seized for the lender and the borrower's identity is
// blacklisted. Before maturity the loan is liquidated only if its debt has
// crossed the liquidation threshold.
func (e *Engine) Liquidate(ctx context.Context, loanID uint64) error {
	return e.execute(ctx, pausable, func(c *call) error {
		loan, err := c.state.getLoan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanActive {
			return fmt.Errorf("%w: loan %d is %s", ErrNotActive, loanID, loan.Status)
		}
		if c.now > loan.Maturity {
			return e.defaultLoan(c, loan)
		}
		debt, _ := owedAmount(loan, c.now)
		value, err := e.collateralValue(c, nil, loan.CollateralAsset, loan.CollateralAmount)
		if err != nil {
			return err
		}
		if withinLTV(debt, value, c.risk.LiquidationThresholdBps) {
			return fmt.Errorf("%w: debt %s, collateral worth %s", ErrNotLiquidatable, debt, value)
		}
		return e.seize(c, loan, LoanLiquidated)
	})
}

// MarkDefault lets the owner default an overdue active loan.
func (e *Engine) MarkDefault(ctx context.Context, caller crypto.Address, loanID uint64) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		loan, err := c.state.getLoan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanActive {
			return fmt.Errorf("%w: loan %d is %s", ErrNotActive, loanID, loan.Status)
		}
		if c.now <= loan.Maturity {
			return fmt.Errorf("%w: loan %d matures at %d", ErrNotMatured, loanID, loan.Maturity)
		}
		return e.defaultLoan(c, loan)
	})
}

// SweepDefaults closes every overdue loan in a market: active loans default
// and unclaimed pending loans expire, refunding both sides.
func (e *Engine) SweepDefaults(ctx context.Context, maturity uint64) (*SweepResult, error) {
	var result *SweepResult
	err := e.execute(ctx, pausable, func(c *call) error {
		if _, err := c.state.getMarket(maturity); err != nil {
			return err
		}
		if c.now <= maturity {
			return fmt.Errorf("%w: market %d", ErrNotMatured, maturity)
		}
		loans, err := c.state.loans(maturity)
		if err != nil {
			return err
		}
		result = &SweepResult{Maturity: maturity}
		for _, loan := range loans {
			switch loan.Status {
			case LoanActive:
				if err := e.defaultLoan(c, loan); err != nil {
					return err
				}
				result.Defaulted = append(result.Defaulted, loan.ID)
			case LoanPending:
				if err := e.expireLoan(c, loan); err != nil {
					return err
				}
				result.Expired = append(result.Expired, loan.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) defaultLoan(c *call, loan *Loan) error {
	if err := e.seize(c, loan, LoanDefaulted); err != nil {
		return err
	}
	return c.blacklist(loan.BorrowerNullifier)
}

// seize closes the loan and hands its collateral, or the venue proceeds, to
// the lender.
func (e *Engine) seize(c *call, loan *Loan, status LoanStatus) error {
	market, err := c.state.getMarket(loan.Maturity)
	if err != nil {
		return err
	}
	loan.Status = status
	loan.ClosedAt = c.now
	market.ActiveLoanCount--
	if status == LoanDefaulted {
		market.DefaultCount++
	}
	if err := c.state.putMarket(market); err != nil {
		return err
	}
	if e.venue == nil {
		loan.Settled = big.NewInt(0)
		if err := c.state.putLoan(loan); err != nil {
			return err
		}
		if err := c.transfer(loan.CollateralAsset, e.settings.Custody, loan.Lender, loan.CollateralAmount); err != nil {
			return fmt.Errorf("lending: seize collateral: %w", err)
		}
	} else {
		proceeds, err := e.sellCollateral(c, loan)
		if err != nil {
			return err
		}
		loan.Settled = proceeds
		if err := c.state.putLoan(loan); err != nil {
			return err
		}
	}
	eventType := EventTypeLoanDefaulted
	if status == LoanLiquidated {
		eventType = EventTypeLoanLiquidated
	}
	c.emit(newLoanEvent(eventType, loan))
	return nil
}

func (e *Engine) expireLoan(c *call, loan *Loan) error {
	loan.Status = LoanExpired
	loan.ClosedAt = c.now
	loan.Settled = new(big.Int).Set(loan.Principal)
	if err := c.state.putLoan(loan); err != nil {
		return err
	}
	if err := c.transfer(e.settings.QuoteAsset, e.settings.Custody, loan.Lender, loan.Principal); err != nil {
		return fmt.Errorf("lending: refund principal: %w", err)
	}
	if err := c.transfer(loan.CollateralAsset, e.settings.Custody, loan.Borrower, loan.CollateralAmount); err != nil {
		return fmt.Errorf("lending: refund collateral: %w", err)
	}
	c.emit(newLoanEvent(EventTypeLoanExpired, loan))
	return nil
}
