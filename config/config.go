package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"humanebanque/crypto"
)

// Protocol is the TOML protocol configuration of a lending deployment.
type Protocol struct {
	Lending    Lending      `toml:"lending"`
	Quota      Quota        `toml:"quota"`
	Pricing    Pricing      `toml:"pricing"`
	Collateral []Collateral `toml:"collateral"`
	Markets    []Market     `toml:"markets"`
}

// Load reads the protocol configuration at path. A missing file is created
// with defaults and a freshly generated owner key stored next to it.
func Load(path string) (*Protocol, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Protocol{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
	}
	cfg.normalize()
	if strings.TrimSpace(cfg.Lending.Owner) == "" {
		if err := ensureOwnerKey(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Protocol) normalize() {
	l := &p.Lending
	l.Owner = strings.TrimSpace(l.Owner)
	l.Custody = strings.TrimSpace(l.Custody)
	l.QuoteAsset = strings.TrimSpace(l.QuoteAsset)
	l.PoolManager = strings.TrimSpace(l.PoolManager)
	l.VerifyAction = strings.TrimSpace(l.VerifyAction)
	if l.QuoteDecimals == 0 {
		l.QuoteDecimals = 6
	}
	if p.Quota.MaxOrdersPerEpoch > 0 && p.Quota.EpochSeconds == 0 {
		p.Quota.EpochSeconds = 3600
	}
	if p.Pricing.TWAPWindowSeconds == 0 {
		p.Pricing.TWAPWindowSeconds = 1800
	}
	if p.Pricing.MaxAgeSeconds == 0 {
		p.Pricing.MaxAgeSeconds = 3600
	}
}

// ensureOwnerKey loads the owner address from the configured keystore,
// generating the key on first use.
func ensureOwnerKey(configPath string, cfg *Protocol) error {
	keystorePath := cfg.Lending.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	passphrase := os.Getenv("HUMANEBANQUE_OWNER_PASSPHRASE")
	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, err = crypto.GeneratePrivateKey()
		if err != nil {
			return err
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		key, err = crypto.LoadFromKeystore(keystorePath, passphrase)
		if err != nil {
			return fmt.Errorf("owner keystore: %w", err)
		}
	}
	cfg.Lending.Owner = key.PubKey().Address().String()
	if cfg.Lending.OwnerKeystorePath != keystorePath {
		cfg.Lending.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

func createDefault(path string) (*Protocol, error) {
	cfg := &Protocol{
		Lending: Lending{
			Custody:                 "0x000000000000000000000000000000000000c0de",
			QuoteAsset:              "0x0000000000000000000000000000000000000001",
			QuoteDecimals:           6,
			AuctionIntervalSeconds:  3600,
			InitialLTVBps:           7000,
			LiquidationThresholdBps: 8500,
		},
		Quota: Quota{MaxOrdersPerEpoch: 20, EpochSeconds: 3600},
	}
	cfg.normalize()
	if err := ensureOwnerKey(path, cfg); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Protocol) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "owner.keystore")
}
