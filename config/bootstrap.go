package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"humanebanque/core/pricing"
	"humanebanque/crypto"
	"humanebanque/native/lending"
)

// TWAPFeed builds the collateral price feed described by the pricing
// section. Every configured collateral asset is registered.
func (p *Protocol) TWAPFeed() *pricing.TWAPFeed {
	feed := pricing.NewTWAPFeed(
		time.Duration(p.Pricing.TWAPWindowSeconds)*time.Second,
		time.Duration(p.Pricing.MaxAgeSeconds)*time.Second,
	)
	for _, c := range p.Collateral {
		asset, err := crypto.ParseAddress(c.Asset)
		if err != nil {
			continue
		}
		feed.Register(asset, c.Decimals)
	}
	return feed
}

// Bootstrap applies the collateral list, bootstrap prices, markets and pause
// flag to a freshly started engine. It is idempotent: markets that already
// exist or have matured are skipped.
func (p *Protocol) Bootstrap(ctx context.Context, engine *lending.Engine, feed *pricing.TWAPFeed, now time.Time, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	owner := engine.Settings().Owner
	for _, c := range p.Collateral {
		asset, err := crypto.ParseAddress(c.Asset)
		if err != nil {
			return err
		}
		if err := engine.SetCollateralAllowed(ctx, owner, asset, true); err != nil {
			return fmt.Errorf("allow %s: %w", c.Symbol, err)
		}
		price, err := parseUintAmount(c.Price)
		if err != nil {
			return err
		}
		if price != nil && feed != nil {
			if err := feed.Observe(ctx, asset, price, "bootstrap", now); err != nil {
				return fmt.Errorf("price %s: %w", c.Symbol, err)
			}
		}
	}
	for _, m := range p.Markets {
		maturity := m.MaturityUnix
		if m.TermDays > 0 {
			maturity = uint64(now.Add(time.Duration(m.TermDays) * 24 * time.Hour).Unix())
		}
		err := engine.AddMarket(ctx, owner, maturity)
		switch {
		case err == nil:
			logger.Info("market listed", slog.Uint64("maturity", maturity))
		case errors.Is(err, lending.ErrMarketExists), errors.Is(err, lending.ErrPastMaturity):
			logger.Debug("market skipped", slog.Uint64("maturity", maturity), slog.String("reason", err.Error()))
		default:
			return fmt.Errorf("add market %d: %w", maturity, err)
		}
	}
	if p.Lending.Paused {
		if err := engine.SetPaused(ctx, owner, true); err != nil {
			return err
		}
	}
	return nil
}
