package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultURL      = "http://127.0.0.1:8080"
	defaultPassEnv  = "BANKCTL_PASS"
	defaultKeystore = "owner.keystore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "admin":
		return runAdmin(args[1:], stdout, stderr)
	case "call":
		return runCall(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  bankctl <command> [flags]

Commands:
  keygen   Generate an encrypted owner or pool-manager keystore
  address  Print the address held by a keystore
  token    Mint a bearer token for a user address
  admin    Send a signed request to an /admin endpoint
  call     Send a request to the public or user API
`)
}

func defaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("BANKCTL_URL")); v != "" {
		return v
	}
	return defaultURL
}
