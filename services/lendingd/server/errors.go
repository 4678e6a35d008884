package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"humanebanque/core/pricing"
	"humanebanque/native/bank"
	nativecommon "humanebanque/native/common"
	"humanebanque/native/lending"
	"humanebanque/observability"
)

var (
	errBadRequest        = errors.New("bad request")
	errMissingCaller     = errors.New("missing authenticated caller")
	errIndexerDisabled   = errors.New("portfolio indexer not configured")
	errPriceFeedDisabled = errors.New("price feed not configured")
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: ErrInvalidProof wraps ErrUnauthorized and must match first.
var errorMappings = []errorMapping{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{errMissingCaller, http.StatusUnauthorized, "unauthenticated"},
	{lending.ErrInvalidProof, http.StatusUnauthorized, "invalid_proof"},
	{lending.ErrBlacklisted, http.StatusForbidden, "blacklisted"},
	{lending.ErrUnauthorized, http.StatusForbidden, "forbidden"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "paused"},
	{nativecommon.ErrQuotaOrdersExceeded, http.StatusTooManyRequests, "order_quota"},
	{nativecommon.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{lending.ErrUnknownMarket, http.StatusNotFound, "unknown_market"},
	{lending.ErrUnknownLoan, http.StatusNotFound, "unknown_loan"},
	{lending.ErrUnknownOrder, http.StatusNotFound, "unknown_order"},
	{lending.ErrPastMaturity, http.StatusBadRequest, "past_maturity"},
	{lending.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{lending.ErrRateTooHigh, http.StatusBadRequest, "rate_too_high"},
	{lending.ErrCollateralNotAllowed, http.StatusBadRequest, "collateral_not_allowed"},
	{lending.ErrZeroCollateral, http.StatusBadRequest, "zero_collateral"},
	{lending.ErrInsufficientCollateral, http.StatusBadRequest, "insufficient_collateral"},
	{lending.ErrInvalidLTV, http.StatusBadRequest, "invalid_ltv"},
	{lending.ErrInvalidPool, http.StatusBadRequest, "invalid_pool"},
	{bank.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{bank.ErrZeroAddress, http.StatusBadRequest, "zero_address"},
	{lending.ErrMarketExists, http.StatusConflict, "market_exists"},
	{lending.ErrAuctionIntervalNotElapsed, http.StatusConflict, "auction_interval_not_elapsed"},
	{lending.ErrNoOrdersToMatch, http.StatusConflict, "no_orders_to_match"},
	{lending.ErrNotPending, http.StatusConflict, "not_pending"},
	{lending.ErrNotActive, http.StatusConflict, "not_active"},
	{lending.ErrLoanMatured, http.StatusConflict, "loan_matured"},
	{lending.ErrNotMatured, http.StatusConflict, "not_matured"},
	{lending.ErrNotLiquidatable, http.StatusConflict, "not_liquidatable"},
	{lending.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{bank.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{bank.ErrInsufficientAllowance, http.StatusConflict, "insufficient_allowance"},
	{lending.ErrIdentityUnavailable, http.StatusBadGateway, "identity_unavailable"},
	{lending.ErrPriceUnavailable, http.StatusBadGateway, "price_unavailable"},
	{pricing.ErrUnknownAsset, http.StatusBadGateway, "price_unavailable"},
	{pricing.ErrNoFreshSample, http.StatusBadGateway, "price_unavailable"},
	{pricing.ErrStalePrice, http.StatusBadGateway, "price_unavailable"},
	{errIndexerDisabled, http.StatusServiceUnavailable, "indexer_disabled"},
	{errPriceFeedDisabled, http.StatusServiceUnavailable, "price_feed_disabled"},
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if code == "order_quota" {
		observability.API().RecordThrottle("order_quota")
	}
	message := strings.TrimSpace(err.Error())
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
		if status == http.StatusInternalServerError {
			message = http.StatusText(status)
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: message, Code: code})
}
