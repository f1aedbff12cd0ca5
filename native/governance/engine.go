package governance

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"agora/core/events"
	"agora/core/types"
	"agora/native/common"
	"agora/native/roles"
)

const (
	// EventTypeProposed is emitted when a new proposal is accepted.
	EventTypeProposed = "gov.proposed"
	// EventTypeVoteCast is emitted when a voter records a ballot.
	EventTypeVoteCast = "gov.vote"
	// EventTypeQueued marks proposals that entered the timelock.
	EventTypeQueued = "gov.queued"
	// EventTypeExecuted marks proposals whose call has been performed.
	EventTypeExecuted = "gov.executed"
	// EventTypeCancelled marks proposals blocked before execution.
	EventTypeCancelled = "gov.cancelled"
)

const (
	// DefaultVotingPeriodSeconds is the 7-day voting window.
	DefaultVotingPeriodSeconds = 7 * 24 * 60 * 60
	// DefaultExecutionDelaySeconds is the 1-day queue-to-execute timelock.
	DefaultExecutionDelaySeconds = 24 * 60 * 60
)

// Default quorum percentages per category.
const (
	DefaultQuorumGeneral  = 5
	DefaultQuorumTreasury = 10
	DefaultQuorumUpgrade  = 20
)

const executeScope = "governance.execute"

var (
	errStateNotConfigured = errors.New("governance: state not configured")

	// ErrProposalNotFound signals an unknown proposal id.
	ErrProposalNotFound = errors.New("governance: proposal not found")
	// ErrProposalFinalized signals the proposal reached a terminal state.
	ErrProposalFinalized = errors.New("governance: proposal finalized")
	// ErrProposalExpired signals the voting window has closed.
	ErrProposalExpired = errors.New("governance: proposal expired")
	// ErrAlreadyVoted signals the voter has already cast a ballot.
	ErrAlreadyVoted = errors.New("governance: already voted")
	// ErrNoVotingPower signals the voter holds zero delegated power.
	ErrNoVotingPower = errors.New("governance: no voting power")
	// ErrNotAdmin signals the caller lacks the admin role.
	ErrNotAdmin = errors.New("governance: caller is not an admin")
	// ErrDidNotPass signals votesFor did not exceed votesAgainst, or the
	// queue window was missed.
	ErrDidNotPass = errors.New("governance: proposal did not pass")
	// ErrNotEnoughVotes signals combined turnout below the category quorum.
	ErrNotEnoughVotes = errors.New("governance: not enough votes")
	// ErrTimelockNotExpired signals execution before the delay elapsed.
	ErrTimelockNotExpired = errors.New("governance: timelock not expired")
	// ErrUpgradeRequiresAdmin signals a non-admin attempted to execute an
	// Upgrade proposal. Sweeps report it distinctly from other failures.
	ErrUpgradeRequiresAdmin = errors.New("governance: upgrade execution requires admin")
	// ErrExecutionFailed signals the target call errored; the underlying
	// cause is wrapped.
	ErrExecutionFailed = errors.New("governance: execution failed")
	// ErrNotAuthorizedToCancel signals the caller is neither the proposer
	// nor an admin.
	ErrNotAuthorizedToCancel = errors.New("governance: not authorized to cancel")
	// ErrInvalidCategory signals an unsupported proposal category.
	ErrInvalidCategory = errors.New("governance: invalid category")
	// ErrExecutorNotConfigured signals execution without a wired executor.
	ErrExecutorNotConfigured = errors.New("governance: executor not configured")
)

type engineState interface {
	GovernanceNextProposalID() (uint64, error)
	GovernanceProposalCount() (uint64, error)
	GovernancePutProposal(p *Proposal) error
	GovernanceGetProposal(id uint64) (*Proposal, bool, error)
	GovernanceHasVoted(id uint64, voter []byte) (bool, error)
	GovernanceMarkVoted(id uint64, voter []byte) error
	GovernanceProposerQuota(addr []byte) (common.QuotaNow, error)
	GovernanceSetProposerQuota(addr []byte, q common.QuotaNow) error
	VotingPower(addr []byte) (*big.Int, error)
	TotalSupply() (*big.Int, error)
	HasRole(role string, addr []byte) bool
}

// Executor performs the external call a passed proposal carries.
type Executor interface {
	Call(target [20]byte, value *big.Int, payload []byte) error
}

// Policy captures the runtime knobs governing the proposal lifecycle. Zero
// values fall back to the package defaults.
type Policy struct {
	VotingPeriodSeconds   uint64
	ExecutionDelaySeconds uint64
	QuorumPercents        map[Category]uint64
	ProposerQuota         common.Quota
}

// Engine orchestrates the proposal state machine: creation, voting,
// two-phase queue/timelock execution, sweeps, and cancellation.
type Engine struct {
	state          engineState
	executor       Executor
	emitter        events.Emitter
	latch          *common.Latch
	nowFn          func() int64
	votingPeriod   uint64
	executionDelay uint64
	quorumPercents map[Category]uint64
	proposerQuota  common.Quota
}

// NewEngine constructs a governance engine with default policy and no-op
// dependencies.
func NewEngine() *Engine {
	e := &Engine{
		emitter: events.NoopEmitter{},
		latch:   common.NewLatch(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	e.SetPolicy(Policy{})
	return e
}

// SetState wires the engine to the state backend providing persistence.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetExecutor wires the call dispatcher used by the execute phase.
func (e *Engine) SetExecutor(executor Executor) { e.executor = executor }

// SetLatch replaces the reentrancy latch, letting the node share one latch
// across every engine that performs external calls. Nil restores a private
// latch.
func (e *Engine) SetLatch(latch *common.Latch) {
	if latch == nil {
		e.latch = common.NewLatch()
		return
	}
	e.latch = latch
}

// SetNowFunc overrides the time source used to stamp proposals. Nil restores
// the default clock.
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

// SetPolicy updates the runtime policy. Unset fields keep their defaults.
func (e *Engine) SetPolicy(policy Policy) {
	if e == nil {
		return
	}
	e.votingPeriod = policy.VotingPeriodSeconds
	if e.votingPeriod == 0 {
		e.votingPeriod = DefaultVotingPeriodSeconds
	}
	e.executionDelay = policy.ExecutionDelaySeconds
	if e.executionDelay == 0 {
		e.executionDelay = DefaultExecutionDelaySeconds
	}
	e.quorumPercents = map[Category]uint64{
		CategoryGeneral:  DefaultQuorumGeneral,
		CategoryTreasury: DefaultQuorumTreasury,
		CategoryUpgrade:  DefaultQuorumUpgrade,
	}
	for category, pct := range policy.QuorumPercents {
		if category.Valid() {
			e.quorumPercents[category] = pct
		}
	}
	e.proposerQuota = policy.ProposerQuota
}

type governanceEvent struct {
	evt *types.Event
}

func (g governanceEvent) EventType() string {
	if g.evt == nil {
		return ""
	}
	return g.evt.Type
}

func (g governanceEvent) Event() *types.Event { return g.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(governanceEvent{evt: event})
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

// Propose admits a new proposal. Anyone may propose; voting power is only
// required to vote. The per-address submission quota guards against spam.
func (e *Engine) Propose(proposer, target [20]byte, value *big.Int, payload []byte, category Category, descriptionRef string) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	if !category.Valid() {
		return 0, ErrInvalidCategory
	}
	now := e.now()

	if e.proposerQuota.Enabled() {
		epoch := now / uint64(e.proposerQuota.EpochSeconds)
		usage, err := e.state.GovernanceProposerQuota(proposer[:])
		if err != nil {
			return 0, err
		}
		updated, err := common.CheckQuota(e.proposerQuota, epoch, usage, 1)
		if err != nil {
			return 0, err
		}
		if err := e.state.GovernanceSetProposerQuota(proposer[:], updated); err != nil {
			return 0, err
		}
	}

	id, err := e.state.GovernanceNextProposalID()
	if err != nil {
		return 0, err
	}
	proposal := &Proposal{
		ID:             id,
		Proposer:       proposer,
		Target:         target,
		Value:          cloneBigInt(value),
		Payload:        append([]byte(nil), payload...),
		Category:       category,
		DescriptionRef: descriptionRef,
		VotesFor:       big.NewInt(0),
		VotesAgainst:   big.NewInt(0),
		Status:         StatusOpen,
		CreatedAt:      now,
		Expiration:     now + e.votingPeriod,
	}
	if err := e.state.GovernancePutProposal(proposal); err != nil {
		return 0, err
	}

	e.emit(&types.Event{Type: EventTypeProposed, Attributes: map[string]string{
		"id":         strconv.FormatUint(id, 10),
		"proposer":   hex.EncodeToString(proposer[:]),
		"category":   category.String(),
		"expiration": strconv.FormatUint(proposal.Expiration, 10),
	}})
	return id, nil
}

// Vote adds the voter's full live voting power to the chosen side. Each
// account may vote once per proposal while it remains open.
func (e *Engine) Vote(voter [20]byte, id uint64, support bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	power, err := e.state.VotingPower(voter[:])
	if err != nil {
		return err
	}
	if power == nil || power.Sign() <= 0 {
		return ErrNoVotingPower
	}

	proposal, ok, err := e.state.GovernanceGetProposal(id)
	if err != nil {
		return err
	}
	if !ok || proposal == nil {
		return ErrProposalNotFound
	}
	if proposal.Status.Terminal() {
		return ErrProposalFinalized
	}
	if e.now() > proposal.Expiration {
		return ErrProposalExpired
	}
	voted, err := e.state.GovernanceHasVoted(id, voter[:])
	if err != nil {
		return err
	}
	if voted {
		return ErrAlreadyVoted
	}

	proposal.EnsureDefaults()
	if support {
		proposal.VotesFor = new(big.Int).Add(proposal.VotesFor, power)
	} else {
		proposal.VotesAgainst = new(big.Int).Add(proposal.VotesAgainst, power)
	}
	if err := e.state.GovernanceMarkVoted(id, voter[:]); err != nil {
		return err
	}
	if err := e.state.GovernancePutProposal(proposal); err != nil {
		return err
	}

	e.emit(&types.Event{Type: EventTypeVoteCast, Attributes: map[string]string{
		"id":      strconv.FormatUint(id, 10),
		"voter":   hex.EncodeToString(voter[:]),
		"support": strconv.FormatBool(support),
		"power":   power.String(),
	}})
	return nil
}

// Execute drives the shared two-phase execution path. Restricted to the
// admin role; AutoExecute is the permissionless entry point.
func (e *Engine) Execute(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if !e.state.HasRole(roles.RoleAdmin, caller[:]) {
		return ErrNotAdmin
	}
	_, err := e.execute(caller, id)
	return err
}

// execute advances the proposal one phase: the first successful call queues
// it, a later call past the timelock performs the target call. The returned
// outcome distinguishes the two for sweep reporting.
func (e *Engine) execute(caller [20]byte, id uint64) (SweepOutcome, error) {
	proposal, ok, err := e.state.GovernanceGetProposal(id)
	if err != nil {
		return SweepFailed, err
	}
	if !ok || proposal == nil {
		return SweepFailed, ErrProposalNotFound
	}
	if proposal.Status.Terminal() {
		return SweepFailed, ErrProposalFinalized
	}
	proposal.EnsureDefaults()

	if proposal.VotesFor.Cmp(proposal.VotesAgainst) <= 0 {
		return SweepFailed, ErrDidNotPass
	}

	supply, err := e.state.TotalSupply()
	if err != nil {
		return SweepFailed, err
	}
	required := new(big.Int).Mul(cloneBigInt(supply), new(big.Int).SetUint64(e.quorumPercents[proposal.Category]))
	required.Div(required, big.NewInt(100))
	turnout := new(big.Int).Add(proposal.VotesFor, proposal.VotesAgainst)
	if turnout.Cmp(required) < 0 {
		return SweepFailed, fmt.Errorf("%w: turnout %s below required %s", ErrNotEnoughVotes, turnout, required)
	}

	now := e.now()

	// Queue phase: the first passing execution attempt only records the
	// queue timestamp. The timelock measures from here, never from the
	// creation or expiration timestamps.
	if proposal.QueuedAt == 0 {
		if now > proposal.Expiration+e.executionDelay {
			return SweepFailed, fmt.Errorf("%w: queue window missed", ErrDidNotPass)
		}
		proposal.QueuedAt = now
		proposal.Status = StatusQueued
		if err := e.state.GovernancePutProposal(proposal); err != nil {
			return SweepFailed, err
		}
		e.emit(&types.Event{Type: EventTypeQueued, Attributes: map[string]string{
			"id":       strconv.FormatUint(id, 10),
			"queuedAt": strconv.FormatUint(now, 10),
		}})
		return SweepQueued, nil
	}

	// Execute phase.
	if now < proposal.QueuedAt+e.executionDelay {
		return SweepFailed, ErrTimelockNotExpired
	}
	if proposal.Category == CategoryUpgrade && !e.state.HasRole(roles.RoleAdmin, caller[:]) {
		return SweepBlocked, ErrUpgradeRequiresAdmin
	}
	if e.executor == nil {
		return SweepFailed, ErrExecutorNotConfigured
	}

	if err := e.latch.Enter(executeScope); err != nil {
		return SweepFailed, err
	}
	defer e.latch.Exit(executeScope)

	// Mark executed before calling out so a reentrant path observes the
	// terminal state; roll back if the target rejects the call.
	proposal.Status = StatusExecuted
	if err := e.state.GovernancePutProposal(proposal); err != nil {
		return SweepFailed, err
	}
	if err := e.executor.Call(proposal.Target, cloneBigInt(proposal.Value), proposal.Payload); err != nil {
		proposal.Status = StatusQueued
		if putErr := e.state.GovernancePutProposal(proposal); putErr != nil {
			return SweepFailed, putErr
		}
		return SweepFailed, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	e.emit(&types.Event{Type: EventTypeExecuted, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"caller": hex.EncodeToString(caller[:]),
	}})
	return SweepExecuted, nil
}

// AutoExecute sweeps every proposal, attempting execution for each expired,
// passing, non-terminal one. Failures are captured per proposal so one bad
// proposal never aborts the sweep; Upgrade proposals blocked on a non-admin
// caller are reported distinctly.
func (e *Engine) AutoExecute(caller [20]byte) ([]SweepResult, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	count, err := e.state.GovernanceProposalCount()
	if err != nil {
		return nil, err
	}
	now := e.now()

	results := make([]SweepResult, 0)
	for id := uint64(1); id <= count; id++ {
		proposal, ok, err := e.state.GovernanceGetProposal(id)
		if err != nil {
			results = append(results, SweepResult{ProposalID: id, Outcome: SweepFailed, Err: err.Error()})
			continue
		}
		if !ok || proposal == nil || proposal.Status.Terminal() {
			continue
		}
		proposal.EnsureDefaults()
		if now <= proposal.Expiration {
			continue
		}
		if proposal.VotesFor.Cmp(proposal.VotesAgainst) <= 0 {
			continue
		}

		outcome, err := e.execute(caller, id)
		result := SweepResult{ProposalID: id, Outcome: outcome}
		if err != nil {
			result.Err = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

// Cancel blocks a proposal before execution. Only the original proposer or
// an admin may cancel; the proposal becomes terminal without its call ever
// running.
func (e *Engine) Cancel(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	proposal, ok, err := e.state.GovernanceGetProposal(id)
	if err != nil {
		return err
	}
	if !ok || proposal == nil {
		return ErrProposalNotFound
	}
	if proposal.Status.Terminal() {
		return ErrProposalFinalized
	}
	if proposal.Proposer != caller && !e.state.HasRole(roles.RoleAdmin, caller[:]) {
		return ErrNotAuthorizedToCancel
	}

	proposal.Status = StatusCancelled
	if err := e.state.GovernancePutProposal(proposal); err != nil {
		return err
	}

	e.emit(&types.Event{Type: EventTypeCancelled, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"caller": hex.EncodeToString(caller[:]),
	}})
	return nil
}

// GetProposal returns the proposal when it exists.
func (e *Engine) GetProposal(id uint64) (*Proposal, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	return e.state.GovernanceGetProposal(id)
}

// GetProposals returns every proposal in sequential id order.
func (e *Engine) GetProposals() ([]*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	count, err := e.state.GovernanceProposalCount()
	if err != nil {
		return nil, err
	}
	proposals := make([]*Proposal, 0, count)
	for id := uint64(1); id <= count; id++ {
		proposal, ok, err := e.state.GovernanceGetProposal(id)
		if err != nil {
			return nil, err
		}
		if ok && proposal != nil {
			proposals = append(proposals, proposal)
		}
	}
	return proposals, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
