package governance

import (
	"math/big"
)

// Category classifies a proposal and selects its quorum threshold. Upgrade
// proposals additionally require an admin caller at execution time.
type Category uint8

const (
	// CategoryGeneral covers routine proposals (5% quorum by default).
	CategoryGeneral Category = iota
	// CategoryTreasury covers spending proposals (10% quorum by default).
	CategoryTreasury
	// CategoryUpgrade covers platform upgrade proposals (20% quorum by
	// default, admin-only execution).
	CategoryUpgrade
)

// Valid reports whether the category is a supported classification.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryTreasury, CategoryUpgrade:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for logging and event emission.
func (c Category) String() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategoryTreasury:
		return "treasury"
	case CategoryUpgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// ProposalStatus is the tagged lifecycle state of a proposal. Executed and
// Cancelled are terminal; a queued Upgrade proposal blocked by a non-admin
// sweep stays Queued and remains admin-executable.
type ProposalStatus uint8

const (
	// StatusOpen identifies proposals accepting votes until expiration.
	StatusOpen ProposalStatus = iota
	// StatusQueued identifies passed proposals waiting out the timelock.
	StatusQueued
	// StatusExecuted indicates the proposal's call ran successfully.
	StatusExecuted
	// StatusCancelled indicates the proposal was blocked before execution.
	StatusCancelled
)

// Terminal reports whether the status admits no further transitions.
func (s ProposalStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// String implements fmt.Stringer for logging and event emission.
func (s ProposalStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusQueued:
		return "queued"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Proposal captures the metadata, tallies, and state transitions of a
// governance proposal. IDs are sequential from 1.
type Proposal struct {
	ID             uint64         `json:"id"`
	Proposer       [20]byte       `json:"proposer"`
	Target         [20]byte       `json:"target"`
	Value          *big.Int       `json:"value"`
	Payload        []byte         `json:"payload"`
	Category       Category       `json:"category"`
	DescriptionRef string         `json:"descriptionRef"`
	VotesFor       *big.Int       `json:"votesFor"`
	VotesAgainst   *big.Int       `json:"votesAgainst"`
	Status         ProposalStatus `json:"status"`
	CreatedAt      uint64         `json:"createdAt"`
	Expiration     uint64         `json:"expiration"`
	QueuedAt       uint64         `json:"queuedAt"`
}

// EnsureDefaults normalises nil big integers so callers can do arithmetic
// without nil checks.
func (p *Proposal) EnsureDefaults() {
	if p.Value == nil {
		p.Value = big.NewInt(0)
	}
	if p.VotesFor == nil {
		p.VotesFor = big.NewInt(0)
	}
	if p.VotesAgainst == nil {
		p.VotesAgainst = big.NewInt(0)
	}
}

// SweepOutcome classifies the result of one proposal inside an auto-execute
// sweep.
type SweepOutcome uint8

const (
	// SweepExecuted means the proposal's call ran during the sweep.
	SweepExecuted SweepOutcome = iota
	// SweepQueued means the sweep advanced the proposal into the timelock.
	SweepQueued
	// SweepBlocked means an Upgrade proposal refused a non-admin sweep
	// caller; the proposal remains queued for an admin.
	SweepBlocked
	// SweepFailed means the execution attempt errored.
	SweepFailed
)

// String implements fmt.Stringer for logging and event emission.
func (o SweepOutcome) String() string {
	switch o {
	case SweepExecuted:
		return "executed"
	case SweepQueued:
		return "queued"
	case SweepBlocked:
		return "blocked"
	case SweepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SweepResult reports one proposal's outcome from AutoExecute. Err carries
// the failure text when Outcome is SweepFailed or SweepBlocked.
type SweepResult struct {
	ProposalID uint64
	Outcome    SweepOutcome
	Err        string
}
