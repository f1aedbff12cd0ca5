package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"agora/core/events"
	"agora/core/types"
	"agora/native/roles"
)

// BaseDecimals is the fixed decimal scaling applied to every amount. All
// arithmetic happens on base units; the scaling only matters to clients.
const BaseDecimals = 18

const (
	// EventTypeMinted is emitted when new supply is credited to an account.
	EventTypeMinted = "token.minted"
	// EventTypeBurned is emitted when supply is destroyed.
	EventTypeBurned = "token.burned"
	// EventTypeTransfer is emitted on every balance movement.
	EventTypeTransfer = "token.transfer"
	// EventTypeDelegated is emitted when an account changes its delegate.
	EventTypeDelegated = "token.delegated"
	// EventTypeLocked is emitted when a transfer lock is placed.
	EventTypeLocked = "token.locked"
	// EventTypeApproval is emitted when an allowance is set.
	EventTypeApproval = "token.approval"
)

var (
	errStateNotConfigured = errors.New("token: state not configured")

	// ErrNotMinter signals the caller lacks the minter role.
	ErrNotMinter = errors.New("token: caller is not a minter")
	// ErrNotLocker signals the caller lacks the locker role.
	ErrNotLocker = errors.New("token: caller is not a locker")
	// ErrZeroAmount signals a nil, zero, or negative amount.
	ErrZeroAmount = errors.New("token: amount must be positive")
	// ErrTokensLocked signals the sender is under an active transfer lock.
	ErrTokensLocked = errors.New("token: tokens locked")
	// ErrInsufficientBalance signals the sender balance cannot cover the
	// transfer.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance signals the spender allowance cannot cover
	// the transfer.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrVotingPowerUnderflow signals the delegation books went negative,
	// which indicates corrupted state rather than a caller mistake.
	ErrVotingPowerUnderflow = errors.New("token: voting power underflow")
)

type engineState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	TotalSupply() (*big.Int, error)
	SetTotalSupply(supply *big.Int) error
	VotingPower(addr []byte) (*big.Int, error)
	SetVotingPower(addr []byte, power *big.Int) error
	Allowance(owner, spender []byte) (*big.Int, error)
	SetAllowance(owner, spender []byte, amount *big.Int) error
	HasRole(role string, addr []byte) bool
}

// Engine owns balance, allowance, lock, and delegation bookkeeping. Voting
// power is maintained incrementally: every balance mutation routes the moved
// amount between the affected owners' current delegates.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a ledger engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

type tokenEvent struct {
	evt *types.Event
}

func (t tokenEvent) EventType() string {
	if t.evt == nil {
		return ""
	}
	return t.evt.Type
}

func (t tokenEvent) Event() *types.Event { return t.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(tokenEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// delegateOf resolves the account's effective delegate: the explicitly set
// delegate, or the owner itself when none was chosen.
func delegateOf(owner [20]byte, account *types.Account) [20]byte {
	if account != nil && len(account.Delegate) == 20 {
		var out [20]byte
		copy(out[:], account.Delegate)
		return out
	}
	return owner
}

// adjustVotingPower applies a signed delta to the delegate's running total.
func (e *Engine) adjustVotingPower(delegate [20]byte, delta *big.Int) error {
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	power, err := e.state.VotingPower(delegate[:])
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(cloneBigInt(power), delta)
	if updated.Sign() < 0 {
		return ErrVotingPowerUnderflow
	}
	return e.state.SetVotingPower(delegate[:], updated)
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}

// Mint credits newly issued tokens to the recipient and routes the amount
// into the recipient's delegate's voting power. Restricted to the minter
// role.
func (e *Engine) Mint(caller, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if !e.state.HasRole(roles.RoleMinter, caller[:]) {
		return ErrNotMinter
	}
	return e.credit(to, amount, EventTypeMinted)
}

// credit is the shared supply-increasing path used by Mint and by vesting
// releases.
func (e *Engine) credit(to [20]byte, amount *big.Int, eventType string) error {
	account, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	account.EnsureDefaults()
	account.Balance = new(big.Int).Add(account.Balance, amount)
	if err := e.state.PutAccount(to[:], account); err != nil {
		return err
	}

	supply, err := e.state.TotalSupply()
	if err != nil {
		return err
	}
	if err := e.state.SetTotalSupply(new(big.Int).Add(cloneBigInt(supply), amount)); err != nil {
		return err
	}

	if err := e.adjustVotingPower(delegateOf(to, account), cloneBigInt(amount)); err != nil {
		return err
	}

	e.emit(&types.Event{Type: eventType, Attributes: map[string]string{
		"to":     hex.EncodeToString(to[:]),
		"amount": amount.String(),
	}})
	return nil
}

// Burn destroys tokens held by the target account. Restricted to the minter
// role.
func (e *Engine) Burn(caller, from [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if !e.state.HasRole(roles.RoleMinter, caller[:]) {
		return ErrNotMinter
	}
	account, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	account.EnsureDefaults()
	if account.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	account.Balance = new(big.Int).Sub(account.Balance, amount)
	if err := e.state.PutAccount(from[:], account); err != nil {
		return err
	}

	supply, err := e.state.TotalSupply()
	if err != nil {
		return err
	}
	if err := e.state.SetTotalSupply(new(big.Int).Sub(cloneBigInt(supply), amount)); err != nil {
		return err
	}

	if err := e.adjustVotingPower(delegateOf(from, account), new(big.Int).Neg(amount)); err != nil {
		return err
	}

	e.emit(&types.Event{Type: EventTypeBurned, Attributes: map[string]string{
		"from":   hex.EncodeToString(from[:]),
		"amount": amount.String(),
	}})
	return nil
}

// Transfer moves tokens between accounts and re-routes the amount between
// the parties' current delegates. Outbound transfers from a locked account
// fail with ErrTokensLocked.
func (e *Engine) Transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := validAmount(amount); err != nil {
		return err
	}

	sender, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	sender.EnsureDefaults()
	if now := e.now(); now >= 0 && uint64(now) < sender.LockedUntil {
		return fmt.Errorf("%w: until %d", ErrTokensLocked, sender.LockedUntil)
	}
	if sender.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}

	receiver, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	receiver.EnsureDefaults()

	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	receiver.Balance = new(big.Int).Add(receiver.Balance, amount)
	if err := e.state.PutAccount(from[:], sender); err != nil {
		return err
	}
	if err := e.state.PutAccount(to[:], receiver); err != nil {
		return err
	}

	fromDelegate := delegateOf(from, sender)
	toDelegate := delegateOf(to, receiver)
	if fromDelegate != toDelegate {
		if err := e.adjustVotingPower(fromDelegate, new(big.Int).Neg(amount)); err != nil {
			return err
		}
		if err := e.adjustVotingPower(toDelegate, cloneBigInt(amount)); err != nil {
			return err
		}
	}

	e.emit(&types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"from":   hex.EncodeToString(from[:]),
		"to":     hex.EncodeToString(to[:]),
		"amount": amount.String(),
	}})
	return nil
}

// Approve sets the allowance the spender may transfer on the owner's behalf.
func (e *Engine) Approve(owner, spender [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if err := e.state.SetAllowance(owner[:], spender[:], cloneBigInt(amount)); err != nil {
		return err
	}
	e.emit(&types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"owner":   hex.EncodeToString(owner[:]),
		"spender": hex.EncodeToString(spender[:]),
		"amount":  amount.String(),
	}})
	return nil
}

// TransferFrom spends the owner's allowance to move tokens. The transfer
// itself honors the same lock and balance rules as Transfer.
func (e *Engine) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	allowance, err := e.state.Allowance(from[:], spender[:])
	if err != nil {
		return err
	}
	allowance = cloneBigInt(allowance)
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := e.Transfer(from, to, amount); err != nil {
		return err
	}
	return e.state.SetAllowance(from[:], spender[:], new(big.Int).Sub(allowance, amount))
}

// Delegate moves the caller's full balance, in voting-power terms, from the
// previous delegate to the new one. Delegation changes are not retroactive:
// only the balance held at call time moves.
func (e *Engine) Delegate(caller, to [20]byte) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	account, err := e.state.GetAccount(caller[:])
	if err != nil {
		return err
	}
	account.EnsureDefaults()

	previous := delegateOf(caller, account)
	account.Delegate = append([]byte(nil), to[:]...)
	if err := e.state.PutAccount(caller[:], account); err != nil {
		return err
	}

	if previous != to && account.Balance.Sign() > 0 {
		if err := e.adjustVotingPower(previous, new(big.Int).Neg(account.Balance)); err != nil {
			return err
		}
		if err := e.adjustVotingPower(to, cloneBigInt(account.Balance)); err != nil {
			return err
		}
	}

	e.emit(&types.Event{Type: EventTypeDelegated, Attributes: map[string]string{
		"account":  hex.EncodeToString(caller[:]),
		"delegate": hex.EncodeToString(to[:]),
	}})
	return nil
}

// Lock places a transfer lock on the account until now+duration. Restricted
// to the locker role.
func (e *Engine) Lock(caller, account [20]byte, durationSeconds uint64) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if !e.state.HasRole(roles.RoleLocker, caller[:]) {
		return ErrNotLocker
	}
	now := e.now()
	until := uint64(now) + durationSeconds
	return e.lockUntil(account, until)
}

func (e *Engine) lockUntil(addr [20]byte, until uint64) error {
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.EnsureDefaults()
	if until > account.LockedUntil {
		account.LockedUntil = until
	}
	if err := e.state.PutAccount(addr[:], account); err != nil {
		return err
	}
	e.emit(&types.Event{Type: EventTypeLocked, Attributes: map[string]string{
		"account": hex.EncodeToString(addr[:]),
		"until":   fmt.Sprintf("%d", account.LockedUntil),
	}})
	return nil
}

// CreditReleased mints released vesting tokens into the beneficiary balance.
// The vesting engine performs its own authorisation; this path is module
// wiring, not a user-facing entry point.
func (e *Engine) CreditReleased(beneficiary [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	return e.credit(beneficiary, amount, EventTypeMinted)
}

// SetTransferLock extends the account's transfer lock to the given unix
// timestamp. Used by the vesting engine for cliff windows.
func (e *Engine) SetTransferLock(account [20]byte, until uint64) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	return e.lockUntil(account, until)
}

// --- Reads ---

// BalanceOf returns the account balance.
func (e *Engine) BalanceOf(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	account.EnsureDefaults()
	return cloneBigInt(account.Balance), nil
}

// TotalSupply returns the current total supply.
func (e *Engine) TotalSupply() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	supply, err := e.state.TotalSupply()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(supply), nil
}

// GetVotes returns the live voting power delegated to the account.
func (e *Engine) GetVotes(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	power, err := e.state.VotingPower(addr[:])
	if err != nil {
		return nil, err
	}
	return cloneBigInt(power), nil
}

// Allowance returns the spender's remaining allowance from the owner.
func (e *Engine) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	allowance, err := e.state.Allowance(owner[:], spender[:])
	if err != nil {
		return nil, err
	}
	return cloneBigInt(allowance), nil
}

// DelegateOf returns the account's effective delegate.
func (e *Engine) DelegateOf(addr [20]byte) ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, errStateNotConfigured
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return [20]byte{}, err
	}
	return delegateOf(addr, account), nil
}

// LockedUntil returns the unix timestamp the account's transfer lock expires
// at, zero when unlocked.
func (e *Engine) LockedUntil(addr [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return 0, err
	}
	return account.LockedUntil, nil
}
