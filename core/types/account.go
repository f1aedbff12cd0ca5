package types

import "math/big"

// Account is the ledger record tracked per address. Delegate is empty until
// the owner explicitly delegates; callers treat an empty delegate as
// self-delegation.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	Balance     *big.Int `json:"balance"`
	LockedUntil uint64   `json:"lockedUntil"`
	Delegate    []byte   `json:"delegate,omitempty"`
}

// EnsureDefaults normalises nil big integers so callers can do arithmetic
// without nil checks.
func (a *Account) EnsureDefaults() {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
}
