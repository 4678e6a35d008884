package keeper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nativecommon "humanebanque/native/common"
	"humanebanque/native/lending"
)

type fakeEngine struct {
	markets    []*lending.Market
	loans      map[uint64][]*lending.Loan
	auctionErr error
	liquidable map[uint64]bool
	sweepErr   error

	auctions     []uint64
	liquidations []uint64
	sweeps       []uint64
}

func (f *fakeEngine) Markets() ([]*lending.Market, error) { return f.markets, nil }

func (f *fakeEngine) Loans(maturity uint64) ([]*lending.Loan, error) { return f.loans[maturity], nil }

func (f *fakeEngine) Settings() lending.Settings {
	return lending.Settings{AuctionInterval: time.Hour}
}

func (f *fakeEngine) RunAuction(_ context.Context, maturity uint64) (*lending.AuctionResult, error) {
	f.auctions = append(f.auctions, maturity)
	if f.auctionErr != nil {
		return nil, f.auctionErr
	}
	return &lending.AuctionResult{Maturity: maturity, ClearingRateBps: 550, LoanIDs: []uint64{9}, MatchedVolume: big.NewInt(1)}, nil
}

func (f *fakeEngine) Liquidate(_ context.Context, loanID uint64) error {
	if !f.liquidable[loanID] {
		return lending.ErrNotLiquidatable
	}
	f.liquidations = append(f.liquidations, loanID)
	return nil
}

func (f *fakeEngine) SweepDefaults(_ context.Context, maturity uint64) (*lending.SweepResult, error) {
	f.sweeps = append(f.sweeps, maturity)
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	return &lending.SweepResult{Maturity: maturity, Defaulted: []uint64{1}, Expired: []uint64{2}}, nil
}

const now = 1_700_000_000

func newKeeper(engine Engine) *Keeper {
	k := New(engine, time.Minute, nil)
	k.SetNowFunc(func() time.Time { return time.Unix(now, 0) })
	return k
}

func TestTickRunsDueAuctionsOnly(t *testing.T) {
	engine := &fakeEngine{markets: []*lending.Market{
		{Maturity: now + 86400, LastAuctionTimestamp: now - 3600},
		{Maturity: now + 2*86400, LastAuctionTimestamp: now - 59*60},
	}}
	report, err := newKeeper(engine).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{now + 86400}, engine.auctions)
	require.Equal(t, 1, report.Auctions)
	require.Equal(t, 1, report.Loans)
}

func TestTickIgnoresExpectedRefusals(t *testing.T) {
	for _, refusal := range []error{lending.ErrNoOrdersToMatch, lending.ErrAuctionIntervalNotElapsed, nativecommon.ErrModulePaused} {
		engine := &fakeEngine{
			markets:    []*lending.Market{{Maturity: now + 86400}},
			auctionErr: refusal,
		}
		report, err := newKeeper(engine).Tick(context.Background())
		require.NoError(t, err)
		require.Zero(t, report.Auctions)
	}
}

func TestTickSurfacesUnexpectedErrors(t *testing.T) {
	boom := errors.New("feed offline")
	engine := &fakeEngine{
		markets:    []*lending.Market{{Maturity: now + 86400}},
		auctionErr: boom,
	}
	_, err := newKeeper(engine).Tick(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestTickLiquidatesUnhealthyLoans(t *testing.T) {
	maturity := uint64(now + 86400)
	engine := &fakeEngine{
		markets: []*lending.Market{{Maturity: maturity, LastAuctionTimestamp: now}},
		loans: map[uint64][]*lending.Loan{maturity: {
			{ID: 1, Status: lending.LoanActive},
			{ID: 2, Status: lending.LoanActive},
			{ID: 3, Status: lending.LoanPending},
		}},
		liquidable: map[uint64]bool{2: true, 3: true},
	}
	report, err := newKeeper(engine).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, engine.liquidations)
	require.Equal(t, 1, report.Liquidations)
	require.Empty(t, engine.auctions)
}

func TestTickSweepsMaturedMarketsWithOpenLoans(t *testing.T) {
	open := uint64(now - 10)
	closed := uint64(now - 20)
	engine := &fakeEngine{
		markets: []*lending.Market{{Maturity: open}, {Maturity: closed}},
		loans: map[uint64][]*lending.Loan{
			open:   {{ID: 1, Status: lending.LoanActive}, {ID: 2, Status: lending.LoanPending}},
			closed: {{ID: 3, Status: lending.LoanRepaid}},
		},
	}
	report, err := newKeeper(engine).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{open}, engine.sweeps)
	require.Equal(t, 1, report.Defaulted)
	require.Equal(t, 1, report.Expired)
	require.Empty(t, engine.auctions)
}

func TestTickReportsStrandedOrdersOnce(t *testing.T) {
	stranded := uint64(now - 10)
	drained := uint64(now - 20)
	engine := &fakeEngine{markets: []*lending.Market{
		{Maturity: stranded, TotalOfferedAmount: big.NewInt(500), TotalRequestedAmount: big.NewInt(0)},
		{Maturity: drained, TotalOfferedAmount: big.NewInt(0), TotalRequestedAmount: big.NewInt(0)},
	}}
	var buf bytes.Buffer
	k := New(engine, time.Minute, slog.New(slog.NewJSONHandler(&buf, nil)))
	k.SetNowFunc(func() time.Time { return time.Unix(now, 0) })

	report, err := k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Stranded)
	require.Empty(t, engine.auctions)
	require.Equal(t, 1, strings.Count(buf.String(), "matured market holds unmatched orders"))
	require.Contains(t, buf.String(), `"offered":"500"`)

	report, err = k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Stranded)
	require.Equal(t, 1, strings.Count(buf.String(), "matured market holds unmatched orders"))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(&fakeEngine{}, time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}
