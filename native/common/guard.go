package common

import "errors"

// ErrReentrantCall is returned when a guarded scope is entered while a prior
// entry is still active.
var ErrReentrantCall = errors.New("reentrant call")

// Latch rejects nested re-entry into named scopes. Engines that perform
// value-bearing external calls hold the latch for the duration of the
// operation so a callback cannot re-enter the same code path mid-settlement.
//
// Operations execute serially against shared state, so the latch needs no
// internal locking.
type Latch struct {
	held map[string]struct{}
}

// NewLatch returns an empty latch.
func NewLatch() *Latch {
	return &Latch{held: make(map[string]struct{})}
}

// Enter claims the scope, failing with ErrReentrantCall when it is already
// held.
func (l *Latch) Enter(scope string) error {
	if l == nil {
		return nil
	}
	if l.held == nil {
		l.held = make(map[string]struct{})
	}
	if _, ok := l.held[scope]; ok {
		return ErrReentrantCall
	}
	l.held[scope] = struct{}{}
	return nil
}

// Exit releases the scope. Exiting an unheld scope is a no-op.
func (l *Latch) Exit(scope string) {
	if l == nil || l.held == nil {
		return
	}
	delete(l.held, scope)
}
