package server

import (
	"errors"
	"net/http"
	"strings"

	"humanebanque/native/lending"
)

type verifyRequest struct {
	proofJSON
	// Signal is the wallet address the proof was generated for.
	Signal string `json:"signal"`
}

type verifyResponse struct {
	Success       bool   `json:"success"`
	NullifierHash string `json:"nullifier_hash,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
}

// verifyProof relays a humanity proof to the identity oracle so front-ends
// can check eligibility before submitting orders. Blacklisted identities
// receive 403.
func (s *Server) verifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeVerifyError(w, r, err)
		return
	}
	signal, err := parseAddress("signal", req.Signal)
	if err != nil {
		s.writeVerifyError(w, r, err)
		return
	}
	proof, err := req.proofJSON.decode()
	if err != nil {
		s.writeVerifyError(w, r, err)
		return
	}
	nullifier, err := s.engine.Verify(r.Context(), signal, proof)
	if err != nil {
		s.writeVerifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Success: true, NullifierHash: nullifier.Hex()})
}

func (s *Server) writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := strings.TrimSpace(err.Error())
	switch {
	case errors.Is(err, lending.ErrBlacklisted):
		message = "identity is blacklisted after a loan default"
	case errors.Is(err, lending.ErrInvalidProof):
		status = http.StatusBadRequest
	case status >= http.StatusInternalServerError:
		s.logger.ErrorContext(r.Context(), "proof verification failed", "error", err)
		message = "verification unavailable"
	}
	writeJSON(w, status, verifyResponse{Success: false, Error: message, Code: code})
}
