package keeper

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	nativecommon "humanebanque/native/common"
	"humanebanque/native/lending"
)

// Engine is the subset of the lending engine the keeper drives.
type Engine interface {
	Markets() ([]*lending.Market, error)
	Loans(maturity uint64) ([]*lending.Loan, error)
	Settings() lending.Settings
	RunAuction(ctx context.Context, maturity uint64) (*lending.AuctionResult, error)
	Liquidate(ctx context.Context, loanID uint64) error
	SweepDefaults(ctx context.Context, maturity uint64) (*lending.SweepResult, error)
}

// Report summarises the work done by one tick.
type Report struct {
	Auctions     int
	Loans        int
	Liquidations int
	Defaulted    int
	Expired      int
	// Stranded counts matured markets still holding unmatched orders.
	Stranded int
}

// Keeper triggers the permissionless maintenance entry points on a schedule:
// auctions for open markets once their interval elapses, liquidations of
// undercollateralised loans, and sweeps of matured markets. Tick is not safe
// for concurrent use.
type Keeper struct {
	engine   Engine
	interval time.Duration
	logger   *slog.Logger
	nowFn    func() time.Time
	warned   map[uint64]bool
}

// New constructs a keeper polling every interval.
func New(engine Engine, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{engine: engine, interval: interval, logger: logger, nowFn: time.Now, warned: make(map[uint64]bool)}
}

// SetNowFunc overrides the keeper clock.
func (k *Keeper) SetNowFunc(now func() time.Time) {
	if now != nil {
		k.nowFn = now
	}
}

// Run ticks until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	if k.engine == nil {
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := k.Tick(ctx); err != nil && ctx.Err() == nil {
				k.logger.Error("keeper tick failed", slog.Any("error", err))
			}
		}
	}
}

// Tick walks every market once. Expected refusals from the engine (no
// orders, interval not elapsed, healthy loans, paused) are not errors.
func (k *Keeper) Tick(ctx context.Context) (Report, error) {
	var report Report
	markets, err := k.engine.Markets()
	if err != nil {
		return report, err
	}
	now := uint64(k.nowFn().Unix())
	interval := uint64(k.engine.Settings().AuctionInterval / time.Second)
	var errs []error
	for _, market := range markets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if now > market.Maturity {
			if err := k.sweep(ctx, market.Maturity, &report); err != nil {
				errs = append(errs, err)
			}
			k.reportStranded(market, &report)
			continue
		}
		if now >= market.LastAuctionTimestamp+interval {
			if err := k.auction(ctx, market.Maturity, &report); err != nil {
				errs = append(errs, err)
			}
		}
		if err := k.liquidate(ctx, market.Maturity, &report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (k *Keeper) auction(ctx context.Context, maturity uint64, report *Report) error {
	res, err := k.engine.RunAuction(ctx, maturity)
	switch {
	case err == nil:
	case benign(err, lending.ErrNoOrdersToMatch, lending.ErrAuctionIntervalNotElapsed):
		return nil
	default:
		return err
	}
	report.Auctions++
	report.Loans += len(res.LoanIDs)
	k.logger.Info("auction executed",
		slog.Uint64("maturity", maturity),
		slog.Uint64("clearing_rate_bps", res.ClearingRateBps),
		slog.Int("loans", len(res.LoanIDs)),
		slog.Int("skipped", len(res.SkippedRequests)))
	return nil
}

func (k *Keeper) liquidate(ctx context.Context, maturity uint64, report *Report) error {
	loans, err := k.engine.Loans(maturity)
	if err != nil {
		return err
	}
	for _, loan := range loans {
		if loan.Status != lending.LoanActive {
			continue
		}
		err := k.engine.Liquidate(ctx, loan.ID)
		switch {
		case err == nil:
			report.Liquidations++
			k.logger.Warn("loan liquidated", slog.Uint64("loan_id", loan.ID), slog.Uint64("maturity", maturity))
		case benign(err, lending.ErrNotLiquidatable, lending.ErrNotActive):
		default:
			return err
		}
	}
	return nil
}

func (k *Keeper) sweep(ctx context.Context, maturity uint64, report *Report) error {
	loans, err := k.engine.Loans(maturity)
	if err != nil {
		return err
	}
	open := false
	for _, loan := range loans {
		if !loan.Status.Terminal() {
			open = true
			break
		}
	}
	if !open {
		return nil
	}
	res, err := k.engine.SweepDefaults(ctx, maturity)
	if err != nil {
		if benign(err) {
			return nil
		}
		return err
	}
	report.Defaulted += len(res.Defaulted)
	report.Expired += len(res.Expired)
	k.logger.Info("matured market swept",
		slog.Uint64("maturity", maturity),
		slog.Int("defaulted", len(res.Defaulted)),
		slog.Int("expired", len(res.Expired)))
	return nil
}

// reportStranded flags a matured market whose unmatched orders stay escrowed.
// The engine has no cancel path, so the keeper only surfaces them, once per
// market.
func (k *Keeper) reportStranded(market *lending.Market, report *Report) {
	offered, requested := positive(market.TotalOfferedAmount), positive(market.TotalRequestedAmount)
	if !offered && !requested {
		return
	}
	report.Stranded++
	if k.warned[market.Maturity] {
		return
	}
	k.warned[market.Maturity] = true
	k.logger.Warn("matured market holds unmatched orders",
		slog.Uint64("maturity", market.Maturity),
		slog.String("offered", amountString(market.TotalOfferedAmount)),
		slog.String("requested", amountString(market.TotalRequestedAmount)))
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func benign(err error, expected ...error) bool {
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return true
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
