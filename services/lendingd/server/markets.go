package server

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"humanebanque/native/lending"
)

type protocolJSON struct {
	Owner                   string   `json:"owner"`
	QuoteAsset              string   `json:"quoteAsset"`
	AuctionIntervalSeconds  uint64   `json:"auctionIntervalSeconds"`
	MaxRateBps              uint64   `json:"maxRateBps"`
	InitialLTVBps           uint64   `json:"initialLtvBps"`
	LiquidationThresholdBps uint64   `json:"liquidationThresholdBps"`
	Paused                  bool     `json:"paused"`
	Collateral              []string `json:"collateral"`
	VerifyAction            string   `json:"verifyAction"`
	PoolID                  string   `json:"poolId,omitempty"`
	AfterInitializeHook     bool     `json:"afterInitializeHook"`
}

func (s *Server) getProtocol(w http.ResponseWriter, r *http.Request) {
	settings := s.engine.Settings()
	risk, err := s.engine.RiskParams()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	paused, err := s.engine.Paused()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assets, err := s.engine.CollateralAssets()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := protocolJSON{
		Owner:                   settings.Owner.String(),
		QuoteAsset:              settings.QuoteAsset.String(),
		AuctionIntervalSeconds:  uint64(settings.AuctionInterval.Seconds()),
		MaxRateBps:              lending.MaxRateBps,
		InitialLTVBps:           risk.InitialLTVBps,
		LiquidationThresholdBps: risk.LiquidationThresholdBps,
		Paused:                  paused,
		Collateral:              make([]string, 0, len(assets)),
		VerifyAction:            settings.VerifyAction,
		AfterInitializeHook:     s.engine.Permissions().AfterInitialize,
	}
	for _, asset := range assets {
		out.Collateral = append(out.Collateral, asset.String())
	}
	anchor, ok, err := s.engine.PoolAnchor()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ok {
		out.PoolID = "0x" + hex.EncodeToString(anchor.PoolID[:])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.Markets()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]marketJSON, 0, len(markets))
	for _, m := range markets {
		out = append(out, marketFrom(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	maturity, err := uintParam(r, "maturity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	market, err := s.engine.Market(maturity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, marketFrom(market))
}

func (s *Server) getOrderBook(w http.ResponseWriter, r *http.Request) {
	maturity, err := uintParam(r, "maturity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offers, requests, err := s.engine.OrderBook(maturity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := struct {
		Maturity uint64        `json:"maturity"`
		Offers   []offerJSON   `json:"offers"`
		Requests []requestJSON `json:"requests"`
	}{Maturity: maturity, Offers: make([]offerJSON, 0, len(offers)), Requests: make([]requestJSON, 0, len(requests))}
	for _, o := range offers {
		body.Offers = append(body.Offers, offerFrom(o))
	}
	for _, req := range requests {
		body.Requests = append(body.Requests, requestFrom(req))
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request) {
	maturity, err := uintParam(r, "maturity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loans, err := s.engine.Loans(maturity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]loanJSON, 0, len(loans))
	for _, l := range loans {
		out = append(out, loanFrom(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"maturity": maturity, "loans": out})
}

func (s *Server) runAuction(w http.ResponseWriter, r *http.Request) {
	maturity, err := uintParam(r, "maturity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.RunAuction(r.Context(), maturity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionFrom(res))
}

func (s *Server) sweepDefaults(w http.ResponseWriter, r *http.Request) {
	maturity, err := uintParam(r, "maturity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.SweepDefaults(r.Context(), maturity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"maturity":  res.Maturity,
		"defaulted": nonNil(res.Defaulted),
		"expired":   nonNil(res.Expired),
	})
}

func (s *Server) getOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := s.engine.Offer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offerFrom(offer))
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.engine.Request(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestFrom(req))
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := loanFrom(loan)
	if loan.Status == lending.LoanActive {
		owed, err := s.engine.OwedAmount(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out.Owed = owed.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Liquidate(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLoan(w, r, id)
}

func (s *Server) writeLoan(w http.ResponseWriter, r *http.Request, id uint64) {
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanFrom(loan))
}

func (s *Server) getBlacklisted(w http.ResponseWriter, r *http.Request) {
	nullifier, err := lending.ParseNullifier(chi.URLParam(r, "nullifier"))
	if err != nil {
		s.writeError(w, r, errBadRequest)
		return
	}
	listed, err := s.engine.IsBlacklisted(nullifier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nullifierHash": nullifier.Hex(), "blacklisted": listed})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.engine.BalanceOf(asset, owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	allowance, err := s.engine.Allowance(owner, asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     asset.String(),
		"owner":     owner.String(),
		"balance":   amountString(balance),
		"allowance": amountString(allowance),
	})
}

func (s *Server) getPortfolio(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		s.writeError(w, r, errIndexerDisabled)
		return
	}
	address, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	portfolio, err := s.indexer.Portfolio(r.Context(), address.String())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		s.writeError(w, r, errIndexerDisabled)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.indexer.Events(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}
