package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"humanebanque/core/events"
	"humanebanque/core/pricing"
	"humanebanque/core/state"
	"humanebanque/crypto"
	"humanebanque/storage"
)

var (
	usdcUnit = big.NewInt(1_000_000)
	ethUnit  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func usd(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), usdcUnit) }
func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ethUnit) }

func makeAddress(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = 0x42
	addr[19] = b
	return addr
}

func proofFor(n uint64) IdentityProof {
	return IdentityProof{MerkleRoot: uint256.NewInt(7), NullifierHash: uint256.NewInt(n), VerificationLevel: "orb"}
}

func nullifierOf(n uint64) Nullifier { return NullifierFromUint256(uint256.NewInt(n)) }

type stubOracle struct {
	rejected map[uint64]bool
	failWith error
	calls    int
	lastReq  VerifyRequest
}

func (o *stubOracle) VerifyProof(_ context.Context, req VerifyRequest) (Nullifier, error) {
	o.calls++
	o.lastReq = req
	if o.failWith != nil {
		return Nullifier{}, o.failWith
	}
	if o.rejected[req.NullifierHash.Uint64()] {
		return Nullifier{}, ErrInvalidProof
	}
	return NullifierFromUint256(req.NullifierHash), nil
}

type eventLog struct{ seen []events.Event }

func (l *eventLog) Emit(evt events.Event) { l.seen = append(l.seen, evt) }

func (l *eventLog) types() []string {
	out := make([]string, 0, len(l.seen))
	for _, evt := range l.seen {
		out = append(out, evt.EventType())
	}
	return out
}

func (l *eventLog) count(eventType string) int {
	n := 0
	for _, evt := range l.seen {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	engine   *Engine
	now      time.Time
	oracle   *stubOracle
	prices   *pricing.StaticFeed
	log      *eventLog
	maturity uint64

	owner, custody, usdc, weth crypto.Address
	lender, lender2            crypto.Address
	borrower, borrower2, payer crypto.Address
}

const (
	lenderID    = 101
	lender2ID   = 102
	borrowerID  = 201
	borrower2ID = 202
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		now:       time.Unix(1_700_000_000, 0).UTC(),
		oracle:    &stubOracle{rejected: map[uint64]bool{}},
		prices:    pricing.NewStaticFeed(),
		log:       &eventLog{},
		owner:     makeAddress(0x01),
		custody:   makeAddress(0x02),
		usdc:      makeAddress(0x10),
		weth:      makeAddress(0x11),
		lender:    makeAddress(0x20),
		lender2:   makeAddress(0x21),
		borrower:  makeAddress(0x30),
		borrower2: makeAddress(0x31),
		payer:     makeAddress(0x40),
	}
	engine, err := NewEngine(Settings{
		Owner:       f.owner,
		Custody:     f.custody,
		QuoteAsset:  f.usdc,
		PoolManager: makeAddress(0x50),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(state.NewManager(storage.NewMemDB()))
	engine.SetIdentityOracle(f.oracle)
	engine.SetPriceFeed(f.prices)
	engine.SetEmitter(f.log)
	engine.SetNowFunc(func() time.Time { return f.now })
	f.engine = engine

	// 1 WETH (18 decimals) = 100 USDC (6 decimals).
	f.prices.Set(f.weth, usd(100), 18)

	f.maturity = uint64(f.now.Add(90 * 24 * time.Hour).Unix())
	f.must(engine.AddMarket(f.ctx, f.owner, f.maturity))
	f.must(engine.SetCollateralAllowed(f.ctx, f.owner, f.weth, true))

	for _, who := range []crypto.Address{f.lender, f.lender2, f.payer} {
		f.must(engine.Mint(f.ctx, f.owner, f.usdc, who, usd(10_000)))
		f.must(engine.Approve(f.ctx, who, f.usdc, usd(1_000_000)))
	}
	for _, who := range []crypto.Address{f.borrower, f.borrower2} {
		f.must(engine.Mint(f.ctx, f.owner, f.weth, who, eth(100)))
		f.must(engine.Mint(f.ctx, f.owner, f.usdc, who, usd(100)))
		f.must(engine.Approve(f.ctx, who, f.weth, eth(1_000)))
		f.must(engine.Approve(f.ctx, who, f.usdc, usd(1_000_000)))
	}
	f.log.seen = nil
	return f
}

func (f *fixture) must(err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("unexpected error: %v", err)
	}
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) balance(asset, who crypto.Address) *big.Int {
	f.t.Helper()
	bal, err := f.engine.BalanceOf(asset, who)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) offer(who crypto.Address, id uint64, amount *big.Int, minRate uint64) uint64 {
	f.t.Helper()
	offerID, err := f.engine.SubmitLendOffer(f.ctx, who, amount, minRate, f.maturity, proofFor(id))
	if err != nil {
		f.t.Fatalf("submit offer: %v", err)
	}
	return offerID
}

func (f *fixture) request(who crypto.Address, id uint64, collateral, amount *big.Int, maxRate uint64) uint64 {
	f.t.Helper()
	reqID, err := f.engine.SubmitBorrowRequest(f.ctx, who, BorrowParams{
		CollateralAsset:  f.weth,
		CollateralAmount: collateral,
		RequestedAmount:  amount,
		MaxRateBps:       maxRate,
		Maturity:         f.maturity,
	}, proofFor(id))
	if err != nil {
		f.t.Fatalf("submit request: %v", err)
	}
	return reqID
}

// matchedLoan runs the single-pair scenario: 1000 USDC offered at 5%, 800
// USDC requested at up to 10% against 20 WETH.
func (f *fixture) matchedLoan() *Loan {
	f.t.Helper()
	f.offer(f.lender, lenderID, usd(1_000), 500)
	f.request(f.borrower, borrowerID, eth(20), usd(800), 1_000)
	f.advance(time.Hour)
	res, err := f.engine.RunAuction(f.ctx, f.maturity)
	if err != nil {
		f.t.Fatalf("run auction: %v", err)
	}
	if len(res.LoanIDs) != 1 {
		f.t.Fatalf("expected one loan, got %v", res.LoanIDs)
	}
	loan, err := f.engine.Loan(res.LoanIDs[0])
	if err != nil {
		f.t.Fatalf("load loan: %v", err)
	}
	return loan
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func expectAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}
