package vesting

import (
	"errors"
	"math/big"
	"testing"

	"agora/native/roles"
)

type mockState struct {
	schedules map[[20]byte]*Schedule
	vesters   map[[20]byte]bool
}

func newMockState() *mockState {
	return &mockState{
		schedules: make(map[[20]byte]*Schedule),
		vesters:   make(map[[20]byte]bool),
	}
}

func key20(addr []byte) [20]byte {
	var out [20]byte
	copy(out[:], addr)
	return out
}

func (m *mockState) VestingGet(beneficiary []byte) (*Schedule, bool, error) {
	schedule, ok := m.schedules[key20(beneficiary)]
	if !ok {
		return nil, false, nil
	}
	clone := *schedule
	clone.TotalAmount = new(big.Int).Set(schedule.TotalAmount)
	clone.Released = new(big.Int).Set(schedule.Released)
	return &clone, true, nil
}

func (m *mockState) VestingPut(beneficiary []byte, schedule *Schedule) error {
	clone := *schedule
	clone.TotalAmount = new(big.Int).Set(schedule.TotalAmount)
	clone.Released = new(big.Int).Set(schedule.Released)
	m.schedules[key20(beneficiary)] = &clone
	return nil
}

func (m *mockState) HasRole(role string, addr []byte) bool {
	return role == roles.RoleVester && m.vesters[key20(addr)]
}

type mockLedger struct {
	credited map[[20]byte]*big.Int
	locks    map[[20]byte]uint64
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		credited: make(map[[20]byte]*big.Int),
		locks:    make(map[[20]byte]uint64),
	}
}

func (m *mockLedger) CreditReleased(beneficiary [20]byte, amount *big.Int) error {
	total, ok := m.credited[beneficiary]
	if !ok {
		total = big.NewInt(0)
	}
	m.credited[beneficiary] = new(big.Int).Add(total, amount)
	return nil
}

func (m *mockLedger) SetTransferLock(account [20]byte, until uint64) error {
	if until > m.locks[account] {
		m.locks[account] = until
	}
	return nil
}

var (
	vester = [20]byte{0x01}
	bene   = [20]byte{0x02}
)

func newTestEngine(state *mockState, ledger *mockLedger, now int64) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetNowFunc(func() int64 { return now })
	return engine
}

func TestCreateValidation(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger, 0)

	if err := engine.Create(bene, bene, big.NewInt(100), 0, 10, 100, false); !errors.Is(err, ErrNotVester) {
		t.Fatalf("expected ErrNotVester, got %v", err)
	}

	state.vesters[vester] = true
	if err := engine.Create(vester, bene, big.NewInt(0), 0, 10, 100, false); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := engine.Create(vester, bene, big.NewInt(100), 0, 10, 0, false); !errors.Is(err, ErrZeroDuration) {
		t.Fatalf("expected ErrZeroDuration, got %v", err)
	}
	if err := engine.Create(vester, bene, big.NewInt(100), 0, 101, 100, false); !errors.Is(err, ErrInvalidCliffDuration) {
		t.Fatalf("expected ErrInvalidCliffDuration, got %v", err)
	}

	if err := engine.Create(vester, bene, big.NewInt(100), 0, 10, 100, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Create(vester, bene, big.NewInt(100), 0, 10, 100, false); !errors.Is(err, ErrAlreadyVesting) {
		t.Fatalf("expected ErrAlreadyVesting, got %v", err)
	}
}

func TestCliffLocksBeneficiaryTransfers(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger, 0)
	state.vesters[vester] = true

	if err := engine.Create(vester, bene, big.NewInt(1000), 500, 100, 400, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ledger.locks[bene] != 600 {
		t.Fatalf("cliff lock should end at start+cliff, got %d", ledger.locks[bene])
	}
}

func TestReleaseBeforeCliffFails(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger, 50)
	state.vesters[vester] = true

	if err := engine.Create(vester, bene, big.NewInt(1000), 0, 100, 400, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Release(bene); !errors.Is(err, ErrNoTokensToRelease) {
		t.Fatalf("expected ErrNoTokensToRelease, got %v", err)
	}
}

func TestLinearReleaseAccrual(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger, 200)
	state.vesters[vester] = true

	if err := engine.Create(vester, bene, big.NewInt(1000), 0, 100, 400, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Halfway through: 200/400 of 1000.
	released, err := engine.Release(bene)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500 released, got %s", released)
	}

	// Nothing new accrued at the same instant.
	if _, err := engine.Release(bene); !errors.Is(err, ErrNoTokensToRelease) {
		t.Fatalf("expected ErrNoTokensToRelease, got %v", err)
	}

	// At the end the remainder is claimable.
	engine.SetNowFunc(func() int64 { return 400 })
	released, err = engine.Release(bene)
	if err != nil {
		t.Fatalf("final release: %v", err)
	}
	if released.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected remaining 500, got %s", released)
	}
	if ledger.credited[bene].Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("total credited should be 1000, got %s", ledger.credited[bene])
	}

	// Fully drained.
	engine.SetNowFunc(func() int64 { return 1000 })
	if _, err := engine.Release(bene); !errors.Is(err, ErrNoTokensToRelease) {
		t.Fatalf("expected ErrNoTokensToRelease after drain, got %v", err)
	}
}

func TestReleaseWithoutSchedule(t *testing.T) {
	engine := newTestEngine(newMockState(), newMockLedger(), 100)
	if _, err := engine.Release(bene); !errors.Is(err, ErrNoVestingSchedule) {
		t.Fatalf("expected ErrNoVestingSchedule, got %v", err)
	}
}

func TestRevokePaysOutAccruedAndFreezes(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger, 200)
	state.vesters[vester] = true

	if err := engine.Create(vester, bene, big.NewInt(1000), 0, 100, 400, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Revoke(vester, bene); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// The accrued half is paid out at revocation time.
	if ledger.credited[bene].Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500 paid out, got %s", ledger.credited[bene])
	}

	schedule, ok, err := engine.Get(bene)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !schedule.Revoked {
		t.Fatal("schedule should be revoked")
	}
	if schedule.TotalAmount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("total should freeze at accrued 500, got %s", schedule.TotalAmount)
	}

	// No further releases, even past the original end.
	engine.SetNowFunc(func() int64 { return 1000 })
	if _, err := engine.Release(bene); !errors.Is(err, ErrVestingRevoked) {
		t.Fatalf("expected ErrVestingRevoked, got %v", err)
	}
}

func TestRevokeGuards(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger, 200)
	state.vesters[vester] = true

	if err := engine.Revoke(vester, bene); !errors.Is(err, ErrNoVestingSchedule) {
		t.Fatalf("expected ErrNoVestingSchedule, got %v", err)
	}

	if err := engine.Create(vester, bene, big.NewInt(1000), 0, 0, 400, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Revoke(vester, bene); !errors.Is(err, ErrNotRevocable) {
		t.Fatalf("expected ErrNotRevocable, got %v", err)
	}
}

func TestRevokedScheduleCanBeReplaced(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger, 200)
	state.vesters[vester] = true

	if err := engine.Create(vester, bene, big.NewInt(1000), 0, 0, 400, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Revoke(vester, bene); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := engine.Revoke(vester, bene); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}
	if err := engine.Create(vester, bene, big.NewInt(500), 300, 0, 100, false); err != nil {
		t.Fatalf("replacement create: %v", err)
	}
}

func TestVestedAtBoundaries(t *testing.T) {
	schedule := &Schedule{
		TotalAmount:   big.NewInt(400),
		Start:         100,
		CliffDuration: 50,
		TotalDuration: 200,
	}

	if got := schedule.VestedAt(99); got.Sign() != 0 {
		t.Fatalf("before start: %s", got)
	}
	if got := schedule.VestedAt(149); got.Sign() != 0 {
		t.Fatalf("inside cliff: %s", got)
	}
	// At the cliff boundary the full elapsed time counts.
	if got := schedule.VestedAt(150); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("at cliff: %s", got)
	}
	if got := schedule.VestedAt(300); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("at end: %s", got)
	}
	if got := schedule.VestedAt(10_000); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("past end: %s", got)
	}
}
