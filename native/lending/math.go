package lending

import "math/big"

var (
	basisPoints = new(big.Int).SetUint64(BasisPoints)
	// interestDenominator is basis points times the seconds in a year.
	interestDenominator = new(big.Int).Mul(basisPoints, new(big.Int).SetUint64(YearSeconds))
)

// accruedInterest computes principal * rateBps * elapsed / (10000 * YEAR)
// in a single division so only the final result is floored. The lender
// absorbs the rounding dust.
func accruedInterest(principal *big.Int, rateBps, elapsed uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	numerator.Mul(numerator, new(big.Int).SetUint64(elapsed))
	return numerator.Quo(numerator, interestDenominator)
}

// accrualSeconds returns the elapsed seconds since start, capped at maturity.
func accrualSeconds(start, maturity, now uint64) uint64 {
	end := now
	if end > maturity {
		end = maturity
	}
	if start == 0 || end <= start {
		return 0
	}
	return end - start
}

// owedAmount returns principal plus simple interest accrued up to now.
func owedAmount(l *Loan, now uint64) (owed, interest *big.Int) {
	interest = accruedInterest(l.Principal, l.RateBps, accrualSeconds(l.StartTimestamp, l.Maturity, now))
	return new(big.Int).Add(l.Principal, interest), interest
}

// withinLTV reports whether debt * 10000 <= value * ltvBps.
func withinLTV(debt, value *big.Int, ltvBps uint64) bool {
	lhs := new(big.Int).Mul(debt, basisPoints)
	rhs := new(big.Int).Mul(value, new(big.Int).SetUint64(ltvBps))
	return lhs.Cmp(rhs) <= 0
}

// proportionalShare returns floor(total * part / whole). When part equals
// whole the full total is returned so no remainder is stranded.
func proportionalShare(total, part, whole *big.Int) *big.Int {
	if whole.Sign() == 0 || part.Cmp(whole) >= 0 {
		return new(big.Int).Set(total)
	}
	share := new(big.Int).Mul(total, part)
	return share.Quo(share, whole)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}
