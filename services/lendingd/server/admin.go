package server

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"humanebanque/native/lending"
)

func (s *Server) addMarket(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Maturity uint64 `json:"maturity"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.AddMarket(r.Context(), caller, req.Maturity); err != nil {
		s.writeError(w, r, err)
		return
	}
	market, err := s.engine.Market(req.Maturity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "market added", "maturity", req.Maturity, "caller", caller.String())
	writeJSON(w, http.StatusCreated, marketFrom(market))
}

func (s *Server) setCollateral(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Asset   string `json:"asset"`
		Allowed bool   `json:"allowed"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetCollateralAllowed(r.Context(), caller, asset, req.Allowed); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset.String(), "allowed": req.Allowed})
}

func (s *Server) setLTV(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		InitialLTVBps           uint64 `json:"initialLtvBps"`
		LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetLTVParams(r.Context(), caller, req.InitialLTVBps, req.LiquidationThresholdBps); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) setBlacklisted(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		NullifierHash string `json:"nullifierHash"`
		Blacklisted   bool   `json:"blacklisted"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	nullifier, err := lending.ParseNullifier(req.NullifierHash)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: nullifierHash: %v", errBadRequest, err))
		return
	}
	if req.Blacklisted {
		err = s.engine.AddToBlacklist(r.Context(), caller, nullifier)
	} else {
		err = s.engine.RemoveFromBlacklist(r.Context(), caller, nullifier)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nullifierHash": nullifier.Hex(), "blacklisted": req.Blacklisted})
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetPaused(r.Context(), caller, req.Paused); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.WarnContext(r.Context(), "pause toggled", "paused", req.Paused, "caller", caller.String())
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Asset  string `json:"asset"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Mint(r.Context(), caller, asset, to, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.engine.BalanceOf(asset, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "owner": to.String(), "balance": balance.String()})
}

// observePrice feeds an operator price sample into the TWAP feed. Only the
// owner may publish prices.
func (s *Server) observePrice(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if caller != s.engine.Settings().Owner {
		s.writeError(w, r, lending.ErrNotOwner)
		return
	}
	if s.prices == nil {
		s.writeError(w, r, errPriceFeedDisabled)
		return
	}
	var req struct {
		Asset string `json:"asset"`
		Price string `json:"price"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.prices.Observe(r.Context(), asset, price, "operator", s.now()); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"asset": asset.String(), "price": price.String()})
}

func (s *Server) markDefault(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.MarkDefault(r.Context(), caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLoan(w, r, id)
}

// initializePool relays the pool manager's afterInitialize callback.
func (s *Server) initializePool(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Currency0   string `json:"currency0"`
		Currency1   string `json:"currency1"`
		Fee         uint32 `json:"fee"`
		TickSpacing int32  `json:"tickSpacing"`
		Hooks       string `json:"hooks"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key := lending.PoolKey{Fee: req.Fee, TickSpacing: req.TickSpacing}
	if key.Currency0, err = parseAddress("currency0", req.Currency0); err != nil {
		s.writeError(w, r, err)
		return
	}
	if key.Currency1, err = parseAddress("currency1", req.Currency1); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Hooks) != "" {
		if key.Hooks, err = parseAddress("hooks", req.Hooks); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	poolID, err := s.engine.AfterInitialize(r.Context(), caller, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"poolId": "0x" + hex.EncodeToString(poolID[:])})
}

// exportLoans writes the CSV and Parquet loan report for a maturity.
func (s *Server) exportLoans(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if caller != s.engine.Settings().Owner {
		s.writeError(w, r, lending.ErrNotOwner)
		return
	}
	if s.indexer == nil {
		s.writeError(w, r, errIndexerDisabled)
		return
	}
	var req struct {
		Maturity uint64 `json:"maturity"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	files, err := s.indexer.ExportLoans(r.Context(), s.exportDir, req.Maturity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}
