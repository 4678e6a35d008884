package lending

import (
	"context"
	"encoding/binary"

	"humanebanque/crypto"
	"humanebanque/native/bank"
)

// HookPermissions lists the pool callbacks the engine subscribes to.
type HookPermissions struct {
	BeforeInitialize      bool
	AfterInitialize       bool
	BeforeAddLiquidity    bool
	AfterAddLiquidity     bool
	BeforeRemoveLiquidity bool
	AfterRemoveLiquidity  bool
	BeforeSwap            bool
	AfterSwap             bool
	BeforeDonate          bool
	AfterDonate           bool
}

// Permissions reports that only AfterInitialize is implemented.
func (e *Engine) Permissions() HookPermissions {
	return HookPermissions{AfterInitialize: true}
}

// ID derives the pool identifier from its key.
func (k PoolKey) ID() [32]byte {
	buf := make([]byte, 0, 20*3+8)
	buf = append(buf, k.Currency0[:]...)
	buf = append(buf, k.Currency1[:]...)
	buf = binary.BigEndian.AppendUint32(buf, k.Fee)
	buf = binary.BigEndian.AppendUint32(buf, uint32(k.TickSpacing))
	buf = append(buf, k.Hooks[:]...)
	var id [32]byte
	copy(id[:], crypto.Keccak256(buf))
	return id
}

// AfterInitialize anchors the engine to the pool that was just created. It
// is accepted once, from the pool manager, for a pool quoting the engine's
// quote asset.
func (e *Engine) AfterInitialize(ctx context.Context, caller crypto.Address, key PoolKey) ([32]byte, error) {
	var id [32]byte
	err := e.execute(ctx, always, func(c *call) error {
		if e.settings.PoolManager.IsZero() || caller != e.settings.PoolManager {
			return ErrNotPoolManager
		}
		if key.Currency0 != e.settings.QuoteAsset && key.Currency1 != e.settings.QuoteAsset {
			return ErrInvalidPool
		}
		if _, exists, err := c.state.poolAnchor(); err != nil {
			return err
		} else if exists {
			return ErrAlreadyInitialized
		}
		id = key.ID()
		anchor := &PoolAnchor{
			PoolID:        id,
			Currency0:     key.Currency0,
			Currency1:     key.Currency1,
			Fee:           key.Fee,
			InitializedAt: c.now,
		}
		if err := c.state.putPoolAnchor(anchor); err != nil {
			return err
		}
		c.emit(newPoolInitializedEvent(anchor))
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	return id, nil
}

// PoolAnchor returns the pool the engine was anchored to, if any.
func (e *Engine) PoolAnchor() (*PoolAnchor, bool, error) {
	var (
		anchor *PoolAnchor
		ok     bool
	)
	err := e.view(func(s ledgerState, _ *bank.Ledger) error {
		var err error
		anchor, ok, err = s.poolAnchor()
		return err
	})
	return anchor, ok, err
}
