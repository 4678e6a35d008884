package main

import (
	"bytes"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"humanebanque/crypto"
	"humanebanque/services/lendingd/server"
)

func TestUnknownCommand(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	require.Equal(t, 1, run([]string{"bogus"}, stdout, stderr))
	require.Contains(t, stderr.String(), "Unknown command: bogus")
	require.Zero(t, stdout.Len())
}

func TestAdminSignsRequest(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	t.Setenv("BANKCTL_TEST_KEY", hex.EncodeToString(key.Bytes()))

	fixed := time.Unix(1_800_000_000, 0)
	original := nowFunc
	nowFunc = func() time.Time { return fixed }
	defer func() { nowFunc = original }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/admin/pause", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ts, err := strconv.ParseInt(r.Header.Get(server.HeaderAdminTimestamp), 10, 64)
		require.NoError(t, err)
		require.Equal(t, fixed.Unix(), ts)
		sig, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(server.HeaderAdminSignature), "0x"))
		require.NoError(t, err)
		signer, err := crypto.RecoverAddress(server.AdminMessage(r.Method, r.URL.Path, ts, body), sig)
		require.NoError(t, err)
		require.Equal(t, key.PubKey().Address(), signer)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paused":true}`))
	}))
	defer srv.Close()

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"admin", "--url", srv.URL, "--key-env", "BANKCTL_TEST_KEY", "--body", `{"paused":true}`, "post", "pause"}, stdout, stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), `"paused": true`)
}

func TestCallReportsErrorEnvelope(t *testing.T) {
	t.Setenv("BANKCTL_TOKEN", "abc")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		require.Equal(t, "/api/v1/loans/9/claim", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"loan is not pending","code":"not_pending"}`))
	}))
	defer srv.Close()

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"call", "--url", srv.URL, "POST", "/api/v1/loans/9/claim"}, stdout, stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "HTTP 409")
	require.Contains(t, stderr.String(), "not_pending")
	require.Zero(t, stdout.Len())
}

func TestCallRequiresMethodAndPath(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	require.Equal(t, 1, run([]string{"call", "GET"}, stdout, stderr))
	require.Contains(t, stderr.String(), "expected METHOD PATH")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("BANKCTL_TEST_SECRET", "s3cret")
	subject := crypto.MustParseAddress("0x00000000000000000000000000000000000000b1")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"token", "--subject", subject.String(), "--secret-env", "BANKCTL_TEST_SECRET", "--audience", "lendingd", "--ttl", "10m"}, stdout, stderr)
	require.Equal(t, 0, code, stderr.String())

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(stdout.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithAudience("lendingd"))
	require.NoError(t, err)
	require.Equal(t, subject.String(), claims.Subject)
}

func TestTokenRejectsBadSubject(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	require.Equal(t, 1, run([]string{"token", "--subject", "alice"}, stdout, stderr))
	require.Contains(t, stderr.String(), "--subject")
}

func TestKeygenThenAddress(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "owner.keystore")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	require.Equal(t, 0, run([]string{"keygen", "--keystore", path}, stdout, stderr), stderr.String())
	generated := strings.TrimSpace(stdout.String())
	_, err := crypto.ParseAddress(generated)
	require.NoError(t, err)

	stdout.Reset()
	require.Equal(t, 0, run([]string{"address", "--keystore", path}, stdout, stderr), stderr.String())
	require.Equal(t, generated, strings.TrimSpace(stdout.String()))

	stderr.Reset()
	require.Equal(t, 1, run([]string{"keygen", "--keystore", path}, stdout, stderr))
	require.Contains(t, stderr.String(), "already exists")
}
