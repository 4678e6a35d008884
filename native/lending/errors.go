package lending

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrPastMaturity           = errors.New("lending: maturity must be in the future")
	ErrUnknownMarket          = errors.New("lending: unknown market")
	ErrMarketExists           = errors.New("lending: market already exists")
	ErrZeroAmount             = errors.New("lending: amount must be positive")
	ErrRateTooHigh            = errors.New("lending: rate exceeds maximum")
	ErrCollateralNotAllowed   = errors.New("lending: collateral asset not allowed")
	ErrZeroCollateral         = errors.New("lending: collateral amount must be positive")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrInvalidLTV             = errors.New("lending: invalid LTV parameters")
	ErrInvalidPool            = errors.New("lending: pool does not contain the quote asset")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("lending: unauthorized")
	// ErrInvalidProof is returned when the identity oracle rejects a proof.
	ErrInvalidProof   = fmt.Errorf("%w: invalid identity proof", ErrUnauthorized)
	ErrBlacklisted    = errors.New("lending: identity blacklisted")
	ErrNotOwner       = fmt.Errorf("%w: caller is not the owner", ErrUnauthorized)
	ErrNotBorrower    = fmt.Errorf("%w: caller is not the borrower", ErrUnauthorized)
	ErrNotPoolManager = fmt.Errorf("%w: caller is not the pool manager", ErrUnauthorized)
)

// Market-state errors.
var (
	ErrAuctionIntervalNotElapsed = errors.New("lending: auction interval not elapsed")
	ErrNoOrdersToMatch           = errors.New("lending: no orders to match")
	ErrNotPending                = errors.New("lending: loan not pending")
	ErrNotActive                 = errors.New("lending: loan not active")
	ErrLoanMatured               = errors.New("lending: loan matured")
	ErrNotMatured                = errors.New("lending: loan not yet matured")
	ErrNotLiquidatable           = errors.New("lending: loan is sufficiently collateralised")
	ErrUnknownLoan               = errors.New("lending: unknown loan")
	ErrUnknownOrder              = errors.New("lending: unknown order")
	ErrAlreadyInitialized        = errors.New("lending: pool already initialised")
)

// Dependency errors. Failures reaching the identity oracle or the price feed
// wrap these so callers can tell them apart from rejections.
var (
	ErrIdentityUnavailable = errors.New("lending: identity oracle unavailable")
	ErrPriceUnavailable    = errors.New("lending: price feed unavailable")
)

var errNilState = errors.New("lending engine: state not configured")
