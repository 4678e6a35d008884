package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"humanebanque/crypto"
)

var (
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrZeroAddress           = errors.New("bank: zero address")
)

// State is the key-value surface the ledger persists balances through.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TransferHook observes completed transfers. It runs after balances have been
// updated, in the role of the token contract calling back into the
// recipient, and may return an error to abort the enclosing operation.
type TransferHook func(ctx context.Context, asset, from, to crypto.Address, amount *big.Int) error

// Ledger implements approve/transfer/transferFrom semantics for every asset
// tracked in state.
type Ledger struct {
	state State
	hook  TransferHook
}

// NewLedger returns a ledger backed by state.
func NewLedger(state State) *Ledger { return &Ledger{state: state} }

// WithHook returns a copy of the ledger that invokes hook after each transfer.
func (l *Ledger) WithHook(hook TransferHook) *Ledger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.hook = hook
	return &clone
}

func balanceKey(asset, owner crypto.Address) []byte {
	return append(append([]byte("bank/balance/"), asset[:]...), owner[:]...)
}

func allowanceKey(asset, owner, spender crypto.Address) []byte {
	key := append([]byte("bank/allowance/"), asset[:]...)
	key = append(key, owner[:]...)
	return append(key, spender[:]...)
}

func (l *Ledger) load(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errors.New("bank: state not configured")
	}
	value := new(big.Int)
	if _, err := l.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

// BalanceOf returns the owner's balance of asset.
func (l *Ledger) BalanceOf(asset, owner crypto.Address) (*big.Int, error) {
	return l.load(balanceKey(asset, owner))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(asset, owner, spender crypto.Address) (*big.Int, error) {
	return l.load(allowanceKey(asset, owner, spender))
}

// Approve sets the spender's allowance, replacing any previous value.
func (l *Ledger) Approve(asset, owner, spender crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if owner.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	return l.state.KVPut(allowanceKey(asset, owner, spender), new(big.Int).Set(amount))
}

// Mint credits freshly issued units of asset to the recipient.
func (l *Ledger) Mint(asset, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	balance, err := l.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	return l.state.KVPut(balanceKey(asset, to), balance.Add(balance, amount))
}

// Transfer moves amount of asset from one account to another.
func (l *Ledger) Transfer(ctx context.Context, asset, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	fromBalance, err := l.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBalance, amount)
	}
	if from != to {
		toBalance, err := l.BalanceOf(asset, to)
		if err != nil {
			return err
		}
		if err := l.state.KVPut(balanceKey(asset, from), fromBalance.Sub(fromBalance, amount)); err != nil {
			return err
		}
		if err := l.state.KVPut(balanceKey(asset, to), toBalance.Add(toBalance, amount)); err != nil {
			return err
		}
	}
	if l.hook != nil {
		return l.hook(ctx, asset, from, to, new(big.Int).Set(amount))
	}
	return nil
}

// TransferFrom moves amount from one account to another using the spender's
// allowance, which is reduced by amount.
func (l *Ledger) TransferFrom(ctx context.Context, asset, spender, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.Allowance(asset, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.state.KVPut(allowanceKey(asset, from, spender), allowance.Sub(allowance, amount)); err != nil {
		return err
	}
	return l.Transfer(ctx, asset, from, to, amount)
}
