package lending

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"humanebanque/crypto"
	"humanebanque/native/bank"
)

// IdentityProof is the opaque humanity proof bundle a caller presents.
type IdentityProof struct {
	MerkleRoot        *uint256.Int
	NullifierHash     *uint256.Int
	Proof             [8]*uint256.Int
	VerificationLevel string
}

// VerifyRequest is the payload handed to the identity oracle.
type VerifyRequest struct {
	IdentityProof
	Action     string
	Signal     string
	SignalHash *uint256.Int
}

// IdentityOracle verifies humanity proofs. Implementations return an error
// wrapping ErrInvalidProof when the oracle rejects the proof and any other
// error for transport failures. Nullifier reuse protection lives in the
// oracle.
type IdentityOracle interface {
	VerifyProof(ctx context.Context, req VerifyRequest) (Nullifier, error)
}

// SignalHash maps an arbitrary signal into the proof system's field by
// hashing with keccak256 and dropping the low byte.
func SignalHash(signal []byte) *uint256.Int {
	h := new(uint256.Int).SetBytes(crypto.Keccak256(signal))
	return h.Rsh(h, 8)
}

// Verify checks proof for caller against the identity oracle and the
// blacklist. It mutates no state.
func (e *Engine) Verify(ctx context.Context, caller crypto.Address, proof IdentityProof) (Nullifier, error) {
	var nullifier Nullifier
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		nullifier, err = e.verifyIdentity(ctx, s, caller, proof)
		return err
	})
	return nullifier, err
}

func (e *Engine) verifyIdentity(ctx context.Context, s ledgerState, caller crypto.Address, proof IdentityProof) (Nullifier, error) {
	if e.identity == nil {
		return Nullifier{}, fmt.Errorf("%w: not configured", ErrIdentityUnavailable)
	}
	if proof.NullifierHash == nil || proof.MerkleRoot == nil {
		return Nullifier{}, fmt.Errorf("%w: missing root or nullifier", ErrInvalidProof)
	}
	signal := caller.String()
	verified, err := e.identity.VerifyProof(ctx, VerifyRequest{
		IdentityProof: proof,
		Action:        e.settings.VerifyAction,
		Signal:        signal,
		SignalHash:    SignalHash(caller.Bytes()),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidProof) || errors.Is(err, ErrIdentityUnavailable) {
			return Nullifier{}, err
		}
		return Nullifier{}, fmt.Errorf("lending: identity oracle: %w", err)
	}
	if verified != NullifierFromUint256(proof.NullifierHash) {
		return Nullifier{}, fmt.Errorf("%w: nullifier mismatch", ErrInvalidProof)
	}
	listed, err := s.isBlacklisted(verified)
	if err != nil {
		return Nullifier{}, err
	}
	if listed {
		return Nullifier{}, ErrBlacklisted
	}
	return verified, nil
}
