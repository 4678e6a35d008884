package lending

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"humanebanque/core/events"
	"humanebanque/core/pricing"
	"humanebanque/core/types"
	"humanebanque/crypto"
	"humanebanque/native/bank"
	nativecommon "humanebanque/native/common"
)

const moduleName = "lending"

// Engine runs the auction-based term lending market. Every entry point
// executes atomically inside one state transaction: either all of its writes
// and token movements commit, or none do.
type Engine struct {
	mu       sync.Mutex
	state    stateBackend
	settings Settings
	identity IdentityOracle
	prices   pricing.Feed
	venue    LiquidityVenue
	emitter  events.Emitter
	hook     bank.TransferHook
	nowFn    func() time.Time
}

// NewEngine constructs an engine from deployment settings.
func NewEngine(settings Settings) (*Engine, error) {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		settings: settings,
		emitter:  events.NoopEmitter{},
		nowFn:    time.Now,
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state stateBackend) { e.state = state }

// SetIdentityOracle configures the humanity proof verifier.
func (e *Engine) SetIdentityOracle(oracle IdentityOracle) { e.identity = oracle }

// SetPriceFeed configures collateral valuation.
func (e *Engine) SetPriceFeed(feed pricing.Feed) { e.prices = feed }

// SetLiquidityVenue routes seized collateral through a venue instead of
// handing it to the lender.
func (e *Engine) SetLiquidityVenue(venue LiquidityVenue) { e.venue = venue }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetTransferHook installs a callback run after every token transfer.
func (e *Engine) SetTransferHook(hook bank.TransferHook) { e.hook = hook }

// Settings returns the static deployment parameters.
func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) now() uint64 {
	return uint64(e.nowFn().Unix())
}

// call carries the per-entry-point execution context.
type call struct {
	ctx    context.Context
	state  ledgerState
	tokens *bank.Ledger
	now    uint64
	risk   RiskParams
	events []*types.Event
}

func (c *call) emit(evt *types.Event) { c.events = append(c.events, evt) }

// transfer moves tokens, skipping empty amounts left by rounding.
func (c *call) transfer(asset, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return c.tokens.Transfer(c.ctx, asset, from, to, amount)
}

type execMode int

const (
	// pausable entry points fail with ErrModulePaused while paused.
	pausable execMode = iota
	always
)

func (e *Engine) execute(ctx context.Context, mode execMode, fn func(*call) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	ctx, err := nativecommon.Enter(ctx, moduleName)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.state.Begin()
	if err != nil {
		return err
	}
	c := &call{
		ctx:    ctx,
		state:  ledgerState{kv: tx},
		tokens: bank.NewLedger(tx).WithHook(e.hook),
		now:    e.now(),
	}
	if mode == pausable {
		if err := nativecommon.Guard(c.state, moduleName); err != nil {
			tx.Discard()
			return err
		}
	}
	if c.risk, err = c.state.riskParams(e.settings.Risk); err != nil {
		tx.Discard()
		return err
	}
	if err := fn(c); err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("lending: commit: %w", err)
	}
	for _, evt := range c.events {
		e.emitter.Emit(lendingEvent{evt: evt})
	}
	return nil
}

// view runs fn against a read-only snapshot.
func (e *Engine) view(fn func(ledgerState, *bank.Ledger) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.state.Begin()
	if err != nil {
		return err
	}
	defer tx.Discard()
	return fn(ledgerState{kv: tx}, bank.NewLedger(tx))
}

func (e *Engine) requireOwner(caller crypto.Address) error {
	if caller != e.settings.Owner {
		return ErrNotOwner
	}
	return nil
}

// SetPaused toggles the pause switch for user-facing entry points.
func (e *Engine) SetPaused(ctx context.Context, caller crypto.Address, paused bool) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if err := c.state.setPaused(moduleName, paused); err != nil {
			return err
		}
		c.emit(newPauseEvent(paused))
		return nil
	})
}

// Paused reports whether user-facing entry points are halted.
func (e *Engine) Paused() (bool, error) {
	var paused bool
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		paused = s.IsPaused(moduleName)
		return nil
	})
	return paused, err
}

// SetLTVParams updates the LTV bounds. The liquidation threshold must stay
// strictly above the initial LTV and at most 100%.
func (e *Engine) SetLTVParams(ctx context.Context, caller crypto.Address, initialLTVBps, liquidationThresholdBps uint64) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		params := RiskParams{InitialLTVBps: initialLTVBps, LiquidationThresholdBps: liquidationThresholdBps}
		if err := params.Validate(); err != nil {
			return err
		}
		if err := c.state.putRiskParams(params); err != nil {
			return err
		}
		c.emit(newLTVUpdatedEvent(params))
		return nil
	})
}

// RiskParams returns the active LTV bounds.
func (e *Engine) RiskParams() (RiskParams, error) {
	var params RiskParams
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		params, err = s.riskParams(e.settings.Risk)
		return err
	})
	return params, err
}

// Market returns a copy of the market for maturity.
func (e *Engine) Market(maturity uint64) (*Market, error) {
	var market *Market
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		market, err = s.getMarket(maturity)
		return err
	})
	return market, err
}

// Markets returns every market in creation order.
func (e *Engine) Markets() ([]*Market, error) {
	var out []*Market
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		maturities, err := s.marketMaturities()
		if err != nil {
			return err
		}
		for _, m := range maturities {
			market, err := s.getMarket(m)
			if err != nil {
				return err
			}
			out = append(out, market)
		}
		return nil
	})
	return out, err
}

// Offer returns a lend offer by id.
func (e *Engine) Offer(id uint64) (*LendOffer, error) {
	var offer *LendOffer
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		offer, err = s.getOffer(id)
		return err
	})
	return offer, err
}

// Request returns a borrow request by id.
func (e *Engine) Request(id uint64) (*BorrowRequest, error) {
	var req *BorrowRequest
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		req, err = s.getRequest(id)
		return err
	})
	return req, err
}

// Loan returns a loan by id.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	var loan *Loan
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		loan, err = s.getLoan(id)
		return err
	})
	return loan, err
}

// OrderBook returns every offer and request recorded for maturity.
func (e *Engine) OrderBook(maturity uint64) ([]*LendOffer, []*BorrowRequest, error) {
	var (
		offers   []*LendOffer
		requests []*BorrowRequest
	)
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		if _, err := s.getMarket(maturity); err != nil {
			return err
		}
		var err error
		if offers, err = s.offers(maturity); err != nil {
			return err
		}
		requests, err = s.requests(maturity)
		return err
	})
	return offers, requests, err
}

// Loans returns every loan created in the market for maturity.
func (e *Engine) Loans(maturity uint64) ([]*Loan, error) {
	var loans []*Loan
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		if _, err := s.getMarket(maturity); err != nil {
			return err
		}
		var err error
		loans, err = s.loans(maturity)
		return err
	})
	return loans, err
}

// BalanceOf reports a token balance from the engine's ledger.
func (e *Engine) BalanceOf(asset, owner crypto.Address) (*big.Int, error) {
	var balance *big.Int
	err := e.view(func(_ ledgerState, tokens *bank.Ledger) error {
		var err error
		balance, err = tokens.BalanceOf(asset, owner)
		return err
	})
	return balance, err
}
