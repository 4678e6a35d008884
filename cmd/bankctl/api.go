package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"humanebanque/crypto"
	"humanebanque/services/lendingd/server"
)

var (
	httpClient = &http.Client{Timeout: 15 * time.Second}
	nowFunc    = time.Now
)

type requestFlags struct {
	url      string
	body     string
	bodyFile string
}

func (r *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.url, "url", defaultEndpoint(), "lendingd base URL")
	fs.StringVar(&r.body, "body", "", "JSON request body")
	fs.StringVar(&r.bodyFile, "body-file", "", "file holding the JSON request body")
}

func (r *requestFlags) payload() ([]byte, error) {
	if r.body != "" && r.bodyFile != "" {
		return nil, fmt.Errorf("--body and --body-file are mutually exclusive")
	}
	if r.bodyFile != "" {
		return os.ReadFile(r.bodyFile)
	}
	return []byte(r.body), nil
}

// target splits the positional METHOD PATH pair.
func target(fs *flag.FlagSet) (string, string, error) {
	if fs.NArg() != 2 {
		return "", "", fmt.Errorf("expected METHOD PATH, got %d arguments", fs.NArg())
	}
	method := strings.ToUpper(strings.TrimSpace(fs.Arg(0)))
	path := strings.TrimSpace(fs.Arg(1))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return method, path, nil
}

func runAdmin(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var req requestFlags
	var signer signerFlags
	req.register(fs)
	signer.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	method, path, err := target(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !strings.HasPrefix(path, "/admin/") {
		path = "/admin" + path
	}
	body, err := req.payload()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := signer.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	httpReq, err := newRequest(req.url, method, path, body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := server.SignAdminRequest(httpReq, key, body, nowFunc()); err != nil {
		fmt.Fprintf(stderr, "Error: sign request: %v\n", err)
		return 1
	}
	return send(httpReq, stdout, stderr)
}

func runCall(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var req requestFlags
	req.register(fs)
	tokenEnv := fs.String("token-env", "BANKCTL_TOKEN", "environment variable holding the bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	method, path, err := target(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	body, err := req.payload()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	httpReq, err := newRequest(req.url, method, path, body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if token := strings.TrimSpace(os.Getenv(*tokenEnv)); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return send(httpReq, stdout, stderr)
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "address the token authenticates")
	secretEnv := fs.String("secret-env", "LENDINGD_JWT_SECRET", "environment variable holding the HS256 secret")
	issuer := fs.String("issuer", "", "token issuer")
	audience := fs.String("audience", "", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		fmt.Fprintln(stderr, "Error: --subject must be a hex address")
		return 1
	}
	token, err := server.IssueToken(server.AuthConfig{
		Secret:   os.Getenv(*secretEnv),
		Issuer:   *issuer,
		Audience: *audience,
	}, addr, *ttl, nowFunc())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func newRequest(base, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func send(req *http.Request, stdout, stderr io.Writer) int {
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read response: %v\n", err)
		return 1
	}
	out := stdout
	if resp.StatusCode >= 400 {
		out = stderr
		fmt.Fprintf(stderr, "HTTP %d\n", resp.StatusCode)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Fprintln(out, pretty.String())
	} else if len(raw) > 0 {
		fmt.Fprintln(out, string(raw))
	}
	if resp.StatusCode >= 400 {
		return 1
	}
	return 0
}
