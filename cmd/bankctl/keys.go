package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"humanebanque/cmd/internal/passphrase"
	"humanebanque/crypto"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keystorePath := fs.String("keystore", defaultKeystore, "output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*keystorePath); err == nil && !*force {
		fmt.Fprintf(stderr, "Error: keystore %s already exists (use --force to overwrite)\n", *keystorePath)
		return 1
	}
	pass, err := passphrase.NewSource(*passEnv, "keystore").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: write keystore: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var signer signerFlags
	signer.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := signer.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

// signerFlags selects the signing key either from a keystore or, for
// automation, from a hex key held in an environment variable.
type signerFlags struct {
	keystore string
	passEnv  string
	keyEnv   string
}

func (s *signerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.keystore, "keystore", defaultKeystore, "keystore holding the signing key")
	fs.StringVar(&s.passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	fs.StringVar(&s.keyEnv, "key-env", "", "environment variable holding a hex private key (skips the keystore)")
}

func (s *signerFlags) load() (*crypto.PrivateKey, error) {
	if env := strings.TrimSpace(s.keyEnv); env != "" {
		raw := strings.TrimSpace(os.Getenv(env))
		if raw == "" {
			return nil, fmt.Errorf("%s is not set", env)
		}
		return crypto.PrivateKeyFromHex(raw)
	}
	if strings.TrimSpace(s.keystore) == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := passphrase.NewSource(s.passEnv, "keystore").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(s.keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return key, nil
}
