package identity

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"humanebanque/native/lending"
)

const defaultBaseURL = "https://developer.worldcoin.org"

// Config defines the HTTP client settings for the World ID verifier.
type Config struct {
	BaseURL   string
	AppID     string
	UserAgent string
	Timeout   time.Duration
}

// Client verifies humanity proofs against the World ID v2 cloud API. It
// implements lending.IdentityOracle.
type Client struct {
	baseURL    string
	appID      string
	userAgent  string
	httpClient *http.Client
}

// VerifyError is returned for any non-200 verifier response. A 400 is a
// rejected proof and wraps lending.ErrInvalidProof; every other status
// (auth, rate limiting, server errors) wraps lending.ErrIdentityUnavailable.
type VerifyError struct {
	Status int
	Code   string
	Detail string
}

func (e *VerifyError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity: verification failed (%d %s): %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("identity: verification failed (%d): %s", e.Status, e.Detail)
}

func (e *VerifyError) Unwrap() error {
	if e.Status == http.StatusBadRequest {
		return lending.ErrInvalidProof
	}
	return lending.ErrIdentityUnavailable
}

type verifyPayload struct {
	NullifierHash     string `json:"nullifier_hash"`
	MerkleRoot        string `json:"merkle_root"`
	Proof             string `json:"proof"`
	VerificationLevel string `json:"verification_level"`
	Action            string `json:"action"`
	SignalHash        string `json:"signal_hash,omitempty"`
}

type verifyResponse struct {
	Success       bool   `json:"success"`
	NullifierHash string `json:"nullifier_hash"`
	Code          string `json:"code"`
	Detail        string `json:"detail"`
}

// NewClient constructs a client with sane defaults.
func NewClient(cfg Config) (*Client, error) {
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, errors.New("identity: app id required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "humanebanque-lendingd/1.0"
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		appID:      appID,
		userAgent:  ua,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// VerifyProof submits the proof to the verifier and returns the nullifier it
// vouches for.
func (c *Client) VerifyProof(ctx context.Context, req lending.VerifyRequest) (lending.Nullifier, error) {
	if c == nil {
		return lending.Nullifier{}, fmt.Errorf("%w: client not configured", lending.ErrIdentityUnavailable)
	}
	if req.NullifierHash == nil || req.MerkleRoot == nil {
		return lending.Nullifier{}, fmt.Errorf("%w: missing root or nullifier", lending.ErrInvalidProof)
	}
	payload := verifyPayload{
		NullifierHash:     word(req.NullifierHash),
		MerkleRoot:        word(req.MerkleRoot),
		Proof:             PackProof(req.Proof),
		VerificationLevel: req.VerificationLevel,
		Action:            req.Action,
	}
	if req.SignalHash != nil {
		payload.SignalHash = word(req.SignalHash)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return lending.Nullifier{}, fmt.Errorf("identity: encode: %w", err)
	}
	url := fmt.Sprintf("%s/api/v2/verify/%s", c.baseURL, c.appID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return lending.Nullifier{}, fmt.Errorf("identity: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return lending.Nullifier{}, fmt.Errorf("identity: call: %w: %w", lending.ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return lending.Nullifier{}, fmt.Errorf("identity: read: %w: %w", lending.ErrIdentityUnavailable, err)
	}
	var decoded verifyResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode == http.StatusOK {
			return lending.Nullifier{}, fmt.Errorf("identity: decode: %w: %w", lending.ErrIdentityUnavailable, err)
		}
	}
	if resp.StatusCode != http.StatusOK {
		detail := decoded.Detail
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return lending.Nullifier{}, &VerifyError{Status: resp.StatusCode, Code: decoded.Code, Detail: detail}
	}
	if decoded.NullifierHash == "" {
		return lending.Nullifier{}, fmt.Errorf("%w: verifier response missing nullifier hash", lending.ErrIdentityUnavailable)
	}
	return lending.ParseNullifier(decoded.NullifierHash)
}

// PackProof renders the eight proof words as one 0x-prefixed hex string, the
// encoding the verifier API expects.
func PackProof(words [8]*uint256.Int) string {
	var buf [8 * 32]byte
	for i, w := range words {
		if w == nil {
			continue
		}
		b := w.Bytes32()
		copy(buf[i*32:], b[:])
	}
	return "0x" + hex.EncodeToString(buf[:])
}

// UnpackProof is the inverse of PackProof. Short input is rejected.
func UnpackProof(s string) ([8]*uint256.Int, error) {
	var out [8]*uint256.Int
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, fmt.Errorf("identity: proof: %w", err)
	}
	if len(raw) != 8*32 {
		return out, fmt.Errorf("identity: proof must be %d bytes, got %d", 8*32, len(raw))
	}
	for i := range out {
		out[i] = new(uint256.Int).SetBytes(raw[i*32 : (i+1)*32])
	}
	return out, nil
}

func word(v *uint256.Int) string {
	b := v.Bytes32()
	return "0x" + hex.EncodeToString(b[:])
}
