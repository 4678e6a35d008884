package lending

import (
	"context"

	"humanebanque/crypto"
	"humanebanque/native/bank"
)

// AddToBlacklist permanently excludes a nullifier from submitting orders.
func (e *Engine) AddToBlacklist(ctx context.Context, caller crypto.Address, nullifier Nullifier) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		return c.blacklist(nullifier)
	})
}

// RemoveFromBlacklist lifts an exclusion.
func (e *Engine) RemoveFromBlacklist(ctx context.Context, caller crypto.Address, nullifier Nullifier) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		listed, err := c.state.isBlacklisted(nullifier)
		if err != nil || !listed {
			return err
		}
		if err := c.state.setBlacklisted(nullifier, false); err != nil {
			return err
		}
		c.emit(newBlacklistEvent(EventTypeUserUnblacklisted, nullifier))
		return nil
	})
}

// IsBlacklisted reports whether nullifier is excluded.
func (e *Engine) IsBlacklisted(nullifier Nullifier) (bool, error) {
	var listed bool
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		listed, err = s.isBlacklisted(nullifier)
		return err
	})
	return listed, err
}

func (c *call) blacklist(nullifier Nullifier) error {
	listed, err := c.state.isBlacklisted(nullifier)
	if err != nil || listed {
		return err
	}
	if err := c.state.setBlacklisted(nullifier, true); err != nil {
		return err
	}
	c.emit(newBlacklistEvent(EventTypeDefaulterBlacklisted, nullifier))
	return nil
}
