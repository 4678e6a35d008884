package common

import (
	"context"
	"errors"
)

var (
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when an entry point is invoked from inside
	// an external call made by another entry point of the same module.
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

type reentrancyKey struct{ module string }

// Enter marks ctx as executing inside module. It fails with ErrReentrantCall
// when ctx already carries the mark, so callbacks that thread the returned
// context back into the module are rejected.
func Enter(ctx context.Context, module string) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(reentrancyKey{module}) != nil {
		return ctx, ErrReentrantCall
	}
	return context.WithValue(ctx, reentrancyKey{module}, true), nil
}
