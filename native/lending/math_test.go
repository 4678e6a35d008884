package lending

import (
	"math/big"
	"testing"
)

func TestAccruedInterestFloorsOnce(t *testing.T) {
	// 1 unit at 1 bps for one year would be 0.0001: floors to zero.
	if got := accruedInterest(big.NewInt(1), 1, YearSeconds); got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
	// A full year at 10% on 1000 units is exactly 100.
	if got := accruedInterest(big.NewInt(1_000), 1_000, YearSeconds); got.Int64() != 100 {
		t.Fatalf("expected 100, got %s", got)
	}
	if got := accruedInterest(big.NewInt(1_000), 0, YearSeconds); got.Sign() != 0 {
		t.Fatalf("zero rate accrued %s", got)
	}
}

func TestAccrualSecondsCappedAtMaturity(t *testing.T) {
	cases := []struct {
		start, maturity, now, want uint64
	}{
		{100, 200, 150, 50},
		{100, 200, 250, 100},
		{100, 200, 90, 0},
		{0, 200, 150, 0},
	}
	for _, tc := range cases {
		if got := accrualSeconds(tc.start, tc.maturity, tc.now); got != tc.want {
			t.Fatalf("accrualSeconds(%d,%d,%d) = %d, want %d", tc.start, tc.maturity, tc.now, got, tc.want)
		}
	}
}

func TestWithinLTVBoundary(t *testing.T) {
	value := big.NewInt(2_000)
	if !withinLTV(big.NewInt(1_400), value, 7_000) {
		t.Fatalf("exact boundary must pass")
	}
	if withinLTV(big.NewInt(1_401), value, 7_000) {
		t.Fatalf("above boundary must fail")
	}
}

func TestProportionalShare(t *testing.T) {
	total := big.NewInt(40)
	if got := proportionalShare(total, big.NewInt(2), big.NewInt(15)); got.Int64() != 5 {
		t.Fatalf("expected floor(80/15)=5, got %s", got)
	}
	if got := proportionalShare(total, big.NewInt(15), big.NewInt(15)); got.Int64() != 40 {
		t.Fatalf("final fill must take everything, got %s", got)
	}
	if total.Int64() != 40 {
		t.Fatalf("input mutated")
	}
}

func TestMatchOrdersStopsAtFirstIncompatiblePair(t *testing.T) {
	offers := []*LendOffer{
		{ID: 1, Remaining: big.NewInt(100), MinRateBps: 300},
		{ID: 2, Remaining: big.NewInt(100), MinRateBps: 900},
	}
	requests := []*BorrowRequest{
		{ID: 1, Remaining: big.NewInt(50), RemainingCollateral: big.NewInt(10), MaxRateBps: 800},
		{ID: 2, Remaining: big.NewInt(80), RemainingCollateral: big.NewInt(16), MaxRateBps: 400},
	}
	sortBooks(offers, requests)
	fills := matchOrders(offers, requests)
	if len(fills) != 2 {
		t.Fatalf("expected two fills, got %d", len(fills))
	}
	if fills[1].amount.Int64() != 50 || fills[1].request.ID != 2 {
		t.Fatalf("unexpected second fill %+v", fills[1])
	}
	if requests[1].Remaining.Int64() != 30 || requests[1].RemainingCollateral.Int64() != 6 {
		t.Fatalf("unexpected residual %s / %s", requests[1].Remaining, requests[1].RemainingCollateral)
	}
	if !offers[0].Matched || offers[1].Remaining.Int64() != 100 {
		t.Fatalf("offer state wrong")
	}
}

func TestSortBooksBreaksTiesByID(t *testing.T) {
	offers := []*LendOffer{{ID: 3, MinRateBps: 500}, {ID: 1, MinRateBps: 500}, {ID: 2, MinRateBps: 400}}
	requests := []*BorrowRequest{{ID: 5, MaxRateBps: 700}, {ID: 4, MaxRateBps: 700}, {ID: 6, MaxRateBps: 900}}
	sortBooks(offers, requests)
	if offers[0].ID != 2 || offers[1].ID != 1 || offers[2].ID != 3 {
		t.Fatalf("unexpected offer order %d %d %d", offers[0].ID, offers[1].ID, offers[2].ID)
	}
	if requests[0].ID != 6 || requests[1].ID != 4 || requests[2].ID != 5 {
		t.Fatalf("unexpected request order %d %d %d", requests[0].ID, requests[1].ID, requests[2].ID)
	}
}
