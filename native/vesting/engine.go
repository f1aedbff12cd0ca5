package vesting

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"time"

	"agora/core/events"
	"agora/core/types"
	"agora/native/roles"
)

const (
	// EventTypeCreated is emitted when a vesting schedule is stored.
	EventTypeCreated = "vesting.created"
	// EventTypeReleased is emitted when vested tokens are claimed.
	EventTypeReleased = "vesting.released"
	// EventTypeRevoked is emitted when a schedule is revoked.
	EventTypeRevoked = "vesting.revoked"
)

var (
	errStateNotConfigured  = errors.New("vesting: state not configured")
	errLedgerNotConfigured = errors.New("vesting: ledger not configured")

	// ErrNotVester signals the caller lacks the vester role.
	ErrNotVester = errors.New("vesting: caller is not a vester")
	// ErrZeroAmount signals a nil, zero, or negative vesting amount.
	ErrZeroAmount = errors.New("vesting: amount must be positive")
	// ErrZeroDuration signals a zero total duration.
	ErrZeroDuration = errors.New("vesting: duration must be positive")
	// ErrInvalidCliffDuration signals a cliff longer than the duration.
	ErrInvalidCliffDuration = errors.New("vesting: cliff exceeds duration")
	// ErrAlreadyVesting signals an active schedule already exists for the
	// beneficiary.
	ErrAlreadyVesting = errors.New("vesting: schedule already active")
	// ErrNoVestingSchedule signals no schedule exists for the beneficiary.
	ErrNoVestingSchedule = errors.New("vesting: no schedule")
	// ErrVestingRevoked signals the schedule was revoked.
	ErrVestingRevoked = errors.New("vesting: schedule revoked")
	// ErrNoTokensToRelease signals nothing has vested beyond what was
	// already released.
	ErrNoTokensToRelease = errors.New("vesting: nothing to release")
	// ErrNotRevocable signals revocation of an irrevocable schedule.
	ErrNotRevocable = errors.New("vesting: schedule not revocable")
	// ErrAlreadyRevoked signals the schedule is already revoked.
	ErrAlreadyRevoked = errors.New("vesting: schedule already revoked")
)

// Schedule is the stored per-beneficiary vesting record. At most one
// schedule is active per beneficiary; a revoked schedule may be replaced.
type Schedule struct {
	Beneficiary   [20]byte `json:"beneficiary"`
	TotalAmount   *big.Int `json:"totalAmount"`
	Released      *big.Int `json:"released"`
	Start         uint64   `json:"start"`
	CliffDuration uint64   `json:"cliffDuration"`
	TotalDuration uint64   `json:"totalDuration"`
	Revocable     bool     `json:"revocable"`
	Revoked       bool     `json:"revoked"`
}

func (s *Schedule) ensureDefaults() {
	if s.TotalAmount == nil {
		s.TotalAmount = big.NewInt(0)
	}
	if s.Released == nil {
		s.Released = big.NewInt(0)
	}
}

// VestedAt returns the amount vested at the given unix timestamp: zero
// before the cliff, the full amount at or after the end, linear in between.
// A revoked schedule is frozen at its (rewritten) total.
func (s *Schedule) VestedAt(now uint64) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	s.ensureDefaults()
	if s.Revoked {
		return new(big.Int).Set(s.TotalAmount)
	}
	if now < s.Start+s.CliffDuration {
		return big.NewInt(0)
	}
	if now >= s.Start+s.TotalDuration {
		return new(big.Int).Set(s.TotalAmount)
	}
	elapsed := new(big.Int).SetUint64(now - s.Start)
	vested := new(big.Int).Mul(s.TotalAmount, elapsed)
	return vested.Div(vested, new(big.Int).SetUint64(s.TotalDuration))
}

type engineState interface {
	VestingGet(beneficiary []byte) (*Schedule, bool, error)
	VestingPut(beneficiary []byte, schedule *Schedule) error
	HasRole(role string, addr []byte) bool
}

// Ledger is the slice of the token engine the vesting engine needs: minting
// released tokens (which routes voting power to the beneficiary's delegate)
// and extending transfer locks for cliff windows.
type Ledger interface {
	CreditReleased(beneficiary [20]byte, amount *big.Int) error
	SetTransferLock(account [20]byte, until uint64) error
}

// Engine owns vesting schedule lifecycle and release arithmetic.
type Engine struct {
	state   engineState
	ledger  Ledger
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a vesting engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the token ledger used for releases and cliff locks.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

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

type vestingEvent struct {
	evt *types.Event
}

func (v vestingEvent) EventType() string {
	if v.evt == nil {
		return ""
	}
	return v.evt.Type
}

func (v vestingEvent) Event() *types.Event { return v.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vestingEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// Create stores a new schedule for the beneficiary. A prior schedule blocks
// creation unless it was revoked. When the schedule has a cliff, the
// beneficiary's transfers are locked until the cliff passes so pre-existing
// balance cannot move during the window.
func (e *Engine) Create(caller, beneficiary [20]byte, amount *big.Int, start, cliff, duration uint64, revocable bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.ledger == nil {
		return errLedgerNotConfigured
	}
	if !e.state.HasRole(roles.RoleVester, caller[:]) {
		return ErrNotVester
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if duration == 0 {
		return ErrZeroDuration
	}
	if cliff > duration {
		return ErrInvalidCliffDuration
	}
	existing, ok, err := e.state.VestingGet(beneficiary[:])
	if err != nil {
		return err
	}
	if ok && existing != nil && !existing.Revoked {
		return ErrAlreadyVesting
	}

	schedule := &Schedule{
		Beneficiary:   beneficiary,
		TotalAmount:   new(big.Int).Set(amount),
		Released:      big.NewInt(0),
		Start:         start,
		CliffDuration: cliff,
		TotalDuration: duration,
		Revocable:     revocable,
	}
	if err := e.state.VestingPut(beneficiary[:], schedule); err != nil {
		return err
	}
	if cliff > 0 {
		if err := e.ledger.SetTransferLock(beneficiary, start+cliff); err != nil {
			return err
		}
	}

	e.emit(&types.Event{Type: EventTypeCreated, Attributes: map[string]string{
		"beneficiary": hex.EncodeToString(beneficiary[:]),
		"amount":      amount.String(),
		"start":       strconv.FormatUint(start, 10),
		"cliff":       strconv.FormatUint(cliff, 10),
		"duration":    strconv.FormatUint(duration, 10),
		"revocable":   strconv.FormatBool(revocable),
	}})
	return nil
}

// Release claims everything vested beyond what was already released, minting
// it into the beneficiary's balance.
func (e *Engine) Release(beneficiary [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if e.ledger == nil {
		return nil, errLedgerNotConfigured
	}
	schedule, ok, err := e.state.VestingGet(beneficiary[:])
	if err != nil {
		return nil, err
	}
	if !ok || schedule == nil {
		return nil, ErrNoVestingSchedule
	}
	if schedule.Revoked {
		return nil, ErrVestingRevoked
	}
	schedule.ensureDefaults()

	unreleased := new(big.Int).Sub(schedule.VestedAt(e.now()), schedule.Released)
	if unreleased.Sign() <= 0 {
		return nil, ErrNoTokensToRelease
	}

	schedule.Released = new(big.Int).Add(schedule.Released, unreleased)
	if err := e.state.VestingPut(beneficiary[:], schedule); err != nil {
		return nil, err
	}
	if err := e.ledger.CreditReleased(beneficiary, unreleased); err != nil {
		return nil, err
	}

	e.emit(&types.Event{Type: EventTypeReleased, Attributes: map[string]string{
		"beneficiary": hex.EncodeToString(beneficiary[:]),
		"amount":      unreleased.String(),
	}})
	return unreleased, nil
}

// Revoke latches the schedule as revoked. The amount linearly accrued up to
// the revocation instant is paid out to the beneficiary first, and the
// schedule total is frozen there; no further accrual occurs and later
// Release calls fail ErrVestingRevoked.
func (e *Engine) Revoke(caller, beneficiary [20]byte) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.ledger == nil {
		return errLedgerNotConfigured
	}
	if !e.state.HasRole(roles.RoleVester, caller[:]) {
		return ErrNotVester
	}
	schedule, ok, err := e.state.VestingGet(beneficiary[:])
	if err != nil {
		return err
	}
	if !ok || schedule == nil {
		return ErrNoVestingSchedule
	}
	if !schedule.Revocable {
		return ErrNotRevocable
	}
	if schedule.Revoked {
		return ErrAlreadyRevoked
	}
	schedule.ensureDefaults()

	accrued := schedule.VestedAt(e.now())
	unreleased := new(big.Int).Sub(accrued, schedule.Released)

	schedule.TotalAmount = accrued
	schedule.Released = new(big.Int).Set(accrued)
	schedule.Revoked = true
	if err := e.state.VestingPut(beneficiary[:], schedule); err != nil {
		return err
	}
	if unreleased.Sign() > 0 {
		if err := e.ledger.CreditReleased(beneficiary, unreleased); err != nil {
			return err
		}
	}

	e.emit(&types.Event{Type: EventTypeRevoked, Attributes: map[string]string{
		"beneficiary": hex.EncodeToString(beneficiary[:]),
		"accrued":     accrued.String(),
		"paidOut":     unreleased.String(),
	}})
	return nil
}

// Get returns the beneficiary's schedule when one exists.
func (e *Engine) Get(beneficiary [20]byte) (*Schedule, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	return e.state.VestingGet(beneficiary[:])
}
