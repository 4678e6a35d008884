package server

import (
	"net/http"

	"humanebanque/native/lending"
)

type submitOfferRequest struct {
	Amount     string    `json:"amount"`
	MinRateBps uint64    `json:"minRateBps"`
	Maturity   uint64    `json:"maturity"`
	Proof      proofJSON `json:"proof"`
}

func (s *Server) submitOffer(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req submitOfferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proof, err := req.Proof.decode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.engine.SubmitLendOffer(r.Context(), caller, amount, req.MinRateBps, req.Maturity, proof)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := s.engine.Offer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offerFrom(offer))
}

type submitRequestRequest struct {
	CollateralAsset  string    `json:"collateralAsset"`
	CollateralAmount string    `json:"collateralAmount"`
	RequestedAmount  string    `json:"requestedAmount"`
	MaxRateBps       uint64    `json:"maxRateBps"`
	Maturity         uint64    `json:"maturity"`
	Proof            proofJSON `json:"proof"`
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req submitRequestRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddress("collateralAsset", req.CollateralAsset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAmount("collateralAmount", req.CollateralAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	requested, err := parseAmount("requestedAmount", req.RequestedAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proof, err := req.Proof.decode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.engine.SubmitBorrowRequest(r.Context(), caller, lending.BorrowParams{
		CollateralAsset:  asset,
		CollateralAmount: collateral,
		RequestedAmount:  requested,
		MaxRateBps:       req.MaxRateBps,
		Maturity:         req.Maturity,
	}, proof)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.engine.Request(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestFrom(created))
}

type approveRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// approve sets the engine's spending allowance over the caller's tokens.
func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Approve(r.Context(), caller, asset, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     caller.String(),
		"asset":     asset.String(),
		"allowance": amount.String(),
	})
}

func (s *Server) claimLoan(w http.ResponseWriter, r *http.Request) {
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
	if err := s.engine.ClaimLoan(r.Context(), caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLoan(w, r, id)
}

func (s *Server) repayLoan(w http.ResponseWriter, r *http.Request) {
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
	paid, err := s.engine.RepayLoan(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paid": paid.String(), "loan": loanFrom(loan)})
}
