package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"humanebanque/crypto"
)

// Admin requests carry a secp256k1 signature from the acting key over
// AdminMessage. The recovered signer becomes the caller; the engine decides
// whether that caller is the owner or the pool manager.
const (
	HeaderAdminTimestamp = "X-Admin-Timestamp"
	HeaderAdminSignature = "X-Admin-Signature"
)

// AuthConfig configures user bearer tokens and signed admin requests.
type AuthConfig struct {
	Secret       string
	Issuer       string
	Audience     string
	ClockSkew    time.Duration
	SignatureTTL time.Duration
}

type contextKey string

const callerContextKey contextKey = "lendingd.caller"

func withCaller(ctx context.Context, caller crypto.Address) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

func callerFrom(ctx context.Context) (crypto.Address, error) {
	caller, ok := ctx.Value(callerContextKey).(crypto.Address)
	if !ok || caller.IsZero() {
		return crypto.Address{}, errMissingCaller
	}
	return caller, nil
}

type authenticator struct {
	cfg    AuthConfig
	secret []byte
	nowFn  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newAuthenticator(cfg AuthConfig, now func() time.Time) *authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = time.Minute
	}
	if cfg.SignatureTTL <= 0 {
		cfg.SignatureTTL = 5 * time.Minute
	}
	return &authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.Secret)),
		nowFn:  now,
		seen:   make(map[string]time.Time),
	}
}

// requireUser authenticates an HS256 bearer token whose subject is the
// caller's address.
func (a *authenticator) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token", Code: "unauthenticated"})
			return
		}
		caller, err := a.parseToken(tokenString)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token", Code: "unauthenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

func (a *authenticator) parseToken(tokenString string) (crypto.Address, error) {
	if len(a.secret) == 0 {
		return crypto.Address{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithTimeFunc(a.nowFn),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := new(jwt.RegisteredClaims)
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !token.Valid {
		return crypto.Address{}, errors.New("token invalid")
	}
	return crypto.ParseAddress(claims.Subject)
}

// requireSigner authenticates a signed admin request.
func (a *authenticator) requireSigner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.verifySignature(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "invalid_signature"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

func (a *authenticator) verifySignature(r *http.Request) (crypto.Address, error) {
	rawTS := strings.TrimSpace(r.Header.Get(HeaderAdminTimestamp))
	rawSig := strings.TrimSpace(r.Header.Get(HeaderAdminSignature))
	if rawTS == "" || rawSig == "" {
		return crypto.Address{}, errors.New("missing admin signature")
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return crypto.Address{}, errors.New("invalid admin timestamp")
	}
	now := a.nowFn()
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.cfg.SignatureTTL {
		return crypto.Address{}, errors.New("admin signature expired")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(rawSig, "0x"))
	if err != nil {
		return crypto.Address{}, errors.New("invalid admin signature encoding")
	}
	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, requestLimit))
		r.Body.Close()
		if err != nil {
			return crypto.Address{}, fmt.Errorf("read body: %w", err)
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	msg := AdminMessage(r.Method, r.URL.Path, ts, body)
	signer, err := crypto.RecoverAddress(msg, sig)
	if err != nil {
		return crypto.Address{}, errors.New("invalid admin signature")
	}
	if !a.markSeen(signer.String()+":"+hex.EncodeToString(crypto.Keccak256(msg)), now) {
		return crypto.Address{}, errors.New("admin signature replayed")
	}
	return signer, nil
}

// markSeen records a signer and message digest pair and reports false when it
// was already used within the signature window.
func (a *authenticator) markSeen(key string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, at := range a.seen {
		if now.Sub(at) > 2*a.cfg.SignatureTTL {
			delete(a.seen, k)
		}
	}
	if _, dup := a.seen[key]; dup {
		return false
	}
	a.seen[key] = now
	return true
}

// AdminMessage is the byte string signed for admin requests:
// METHOD \n PATH \n UNIX-TIMESTAMP \n hex(keccak256(body)).
func AdminMessage(method, path string, timestamp int64, body []byte) []byte {
	digest := hex.EncodeToString(crypto.Keccak256(body))
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" + strconv.FormatInt(timestamp, 10) + "\n" + digest)
}

// SignAdminRequest attaches the admin signature headers to req for body.
func SignAdminRequest(req *http.Request, key *crypto.PrivateKey, body []byte, now time.Time) error {
	ts := now.Unix()
	sig, err := key.Sign(AdminMessage(req.Method, req.URL.Path, ts, body))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderAdminTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderAdminSignature, "0x"+hex.EncodeToString(sig))
	return nil
}

// IssueToken mints an HS256 bearer token for subject.
func IssueToken(cfg AuthConfig, subject crypto.Address, ttl time.Duration, now time.Time) (string, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return "", errors.New("auth secret not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
