package lending

import (
	"context"
	"math/big"

	"humanebanque/crypto"
	"humanebanque/native/bank"
)

// Approve lets the custody account pull up to amount of asset from owner.
// Offers and requests escrow through this allowance.
func (e *Engine) Approve(ctx context.Context, owner, asset crypto.Address, amount *big.Int) error {
	return e.execute(ctx, always, func(c *call) error {
		return c.tokens.Approve(asset, owner, e.settings.Custody, amount)
	})
}

// Allowance reports how much of asset the custody account may pull from owner.
func (e *Engine) Allowance(owner, asset crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(_ ledgerState, tokens *bank.Ledger) error {
		var err error
		out, err = tokens.Allowance(asset, owner, e.settings.Custody)
		return err
	})
	return out, err
}

// Mint issues test balances. Only the owner may mint.
func (e *Engine) Mint(ctx context.Context, caller, asset, to crypto.Address, amount *big.Int) error {
	return e.execute(ctx, always, func(c *call) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		return c.tokens.Mint(asset, to, amount)
	})
}
