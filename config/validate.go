package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"humanebanque/crypto"
	nativecommon "humanebanque/native/common"
	"humanebanque/native/lending"
)

// Validate checks addresses, LTV bounds and the collateral and market lists.
func (p *Protocol) Validate() error {
	if _, err := p.Settings(); err != nil {
		return err
	}
	seen := make(map[crypto.Address]struct{}, len(p.Collateral))
	for i, c := range p.Collateral {
		asset, err := crypto.ParseAddress(c.Asset)
		if err != nil {
			return fmt.Errorf("collateral[%d]: %w", i, err)
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("collateral[%d]: duplicate asset %s", i, asset)
		}
		seen[asset] = struct{}{}
		if c.Decimals > 36 {
			return fmt.Errorf("collateral[%d]: decimals %d out of range", i, c.Decimals)
		}
		if _, err := parseUintAmount(c.Price); err != nil {
			return fmt.Errorf("collateral[%d].Price: %w", i, err)
		}
	}
	for i, m := range p.Markets {
		if (m.MaturityUnix == 0) == (m.TermDays == 0) {
			return fmt.Errorf("markets[%d]: set exactly one of MaturityUnix or TermDays", i)
		}
	}
	return nil
}

// Settings converts the lending section into engine settings.
func (p *Protocol) Settings() (lending.Settings, error) {
	var s lending.Settings
	l := p.Lending
	fields := []struct {
		name string
		raw  string
		dst  *crypto.Address
		opt  bool
	}{
		{"Owner", l.Owner, &s.Owner, false},
		{"Custody", l.Custody, &s.Custody, false},
		{"QuoteAsset", l.QuoteAsset, &s.QuoteAsset, false},
		{"PoolManager", l.PoolManager, &s.PoolManager, true},
	}
	for _, f := range fields {
		if f.opt && f.raw == "" {
			continue
		}
		addr, err := crypto.ParseAddress(f.raw)
		if err != nil {
			return s, fmt.Errorf("lending.%s: %w", f.name, err)
		}
		*f.dst = addr
	}
	s.AuctionInterval = time.Duration(l.AuctionIntervalSeconds) * time.Second
	if l.InitialLTVBps != 0 || l.LiquidationThresholdBps != 0 {
		s.Risk = lending.RiskParams{InitialLTVBps: l.InitialLTVBps, LiquidationThresholdBps: l.LiquidationThresholdBps}
	}
	s.VerifyAction = l.VerifyAction
	s.OrderQuota = nativecommon.Quota{MaxOrdersPerEpoch: p.Quota.MaxOrdersPerEpoch, EpochSeconds: p.Quota.EpochSeconds}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}
