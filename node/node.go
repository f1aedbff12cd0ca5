package node

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"time"

	"agora/config"
	"agora/core/events"
	"agora/core/state"
	"agora/crypto"
	"agora/native/common"
	"agora/native/governance"
	"agora/native/marketplace"
	"agora/native/roles"
	"agora/native/token"
	"agora/native/vesting"
	"agora/observability"
	"agora/storage"
)

// Node wires the storage layer, the state manager, and every module engine
// behind one facade. All module operations run through it.
type Node struct {
	cfg    *config.Config
	log    *slog.Logger
	db     storage.Database
	state  *state.Manager
	events *events.Recorder

	token      *token.Engine
	vesting    *vesting.Engine
	governance *governance.Engine
	market     *marketplace.Engine
	roles      *roles.Registry
}

// router dispatches executed proposal payloads to module handlers keyed by
// target address.
type router struct {
	handlers map[[20]byte]func(value *big.Int, payload []byte) error
}

func (r *router) register(target [20]byte, handler func(value *big.Int, payload []byte) error) {
	r.handlers[target] = handler
}

// Call implements governance.Executor.
func (r *router) Call(target [20]byte, value *big.Int, payload []byte) error {
	handler, ok := r.handlers[target]
	if !ok {
		return fmt.Errorf("node: no execution handler for target %x", target)
	}
	return handler(value, payload)
}

// feePolicyPayload is the JSON body of a fee policy proposal.
type feePolicyPayload struct {
	FeeBps   uint32 `json:"feeBps"`
	Treasury string `json:"treasury"`
}

// New opens the database named by the configuration, assembles the state
// manager, and wires every engine. The admin address is seeded with the
// default admin and admin roles on first boot.
func New(cfg *config.Config, admin crypto.Address) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "node")

	var (
		db  storage.Database
		err error
	)
	if cfg.DataDir == "" {
		db = storage.NewMemDB()
	} else {
		db, err = storage.NewLevelDB(filepath.Join(cfg.DataDir, "agora"))
		if err != nil {
			return nil, fmt.Errorf("node: open database: %w", err)
		}
	}

	manager := state.NewManager(db)
	recorder := events.NewRecorder()
	latch := common.NewLatch()
	nowFn := func() int64 { return time.Now().Unix() }

	tokenEngine := token.NewEngine()
	tokenEngine.SetState(manager)
	tokenEngine.SetEmitter(recorder)
	tokenEngine.SetNowFunc(nowFn)

	vestingEngine := vesting.NewEngine()
	vestingEngine.SetState(manager)
	vestingEngine.SetLedger(tokenEngine)
	vestingEngine.SetEmitter(recorder)
	vestingEngine.SetNowFunc(nowFn)

	registry := roles.NewRegistry()
	registry.SetState(manager)
	registry.SetEmitter(recorder)

	marketEngine := marketplace.NewEngine()
	marketEngine.SetState(manager)
	marketEngine.SetLedger(tokenEngine)
	marketEngine.SetRoleChecker(registry)
	marketEngine.SetLatch(latch)
	marketEngine.SetEmitter(recorder)
	marketEngine.SetNowFunc(nowFn)

	govEngine := governance.NewEngine()
	govEngine.SetState(manager)
	govEngine.SetLatch(latch)
	govEngine.SetEmitter(recorder)
	govEngine.SetNowFunc(nowFn)
	govEngine.SetPolicy(governance.Policy{
		VotingPeriodSeconds:   cfg.Governance.VotingPeriodSeconds,
		ExecutionDelaySeconds: cfg.Governance.ExecutionDelaySeconds,
		QuorumPercents: map[governance.Category]uint64{
			governance.CategoryGeneral:  cfg.Governance.QuorumPercentGeneral,
			governance.CategoryTreasury: cfg.Governance.QuorumPercentTreasury,
			governance.CategoryUpgrade:  cfg.Governance.QuorumPercentUpgrade,
		},
		ProposerQuota: common.Quota{
			MaxPerEpoch:  cfg.Governance.MaxProposalsPerEpoch,
			EpochSeconds: cfg.Governance.QuotaEpochSeconds,
		},
	})

	exec := &router{handlers: map[[20]byte]func(*big.Int, []byte) error{}}
	exec.register(marketplace.PolicyTarget, func(_ *big.Int, payload []byte) error {
		var body feePolicyPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("node: decode fee policy payload: %w", err)
		}
		treasury, err := crypto.DecodeAddress(body.Treasury)
		if err != nil {
			return fmt.Errorf("node: decode fee treasury: %w", err)
		}
		return marketEngine.ApplyFeePolicy(body.FeeBps, treasury.Raw())
	})
	govEngine.SetExecutor(exec)

	n := &Node{
		cfg:        cfg,
		log:        logger,
		db:         db,
		state:      manager,
		events:     recorder,
		token:      tokenEngine,
		vesting:    vestingEngine,
		governance: govEngine,
		market:     marketEngine,
		roles:      registry,
	}
	if err := n.seedGenesis(admin); err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

// seedGenesis grants the bootstrap admin the platform roles on first boot.
func (n *Node) seedGenesis(admin crypto.Address) error {
	raw := admin.Bytes()
	if len(raw) == 0 {
		return fmt.Errorf("node: genesis admin must be set")
	}
	if n.state.HasRole(roles.RoleDefaultAdmin, raw) {
		return nil
	}
	for _, role := range []string{roles.RoleDefaultAdmin, roles.RoleAdmin, roles.RoleMarketAdmin} {
		if err := n.state.SetRole(role, raw); err != nil {
			return fmt.Errorf("node: seed role %s: %w", role, err)
		}
	}
	if n.cfg.Market.FeeTreasury != "" {
		treasury, err := crypto.DecodeAddress(n.cfg.Market.FeeTreasury)
		if err != nil {
			return fmt.Errorf("node: decode fee treasury: %w", err)
		}
		if err := n.market.ApplyFeePolicy(n.cfg.Market.FeeBps, treasury.Raw()); err != nil {
			return fmt.Errorf("node: seed fee policy: %w", err)
		}
	}
	n.log.Info("genesis seeded", "admin", admin.String())
	return nil
}

// SetNowFunc overrides the clock on every engine. Nil restores wall time.
func (n *Node) SetNowFunc(now func() int64) {
	n.token.SetNowFunc(now)
	n.vesting.SetNowFunc(now)
	n.governance.SetNowFunc(now)
	n.market.SetNowFunc(now)
}

// Close releases the underlying database.
func (n *Node) Close() {
	n.db.Close()
}

// Events returns every event emitted since the last drain and clears the
// buffer.
func (n *Node) Events() []events.Event {
	captured := n.events.Events()
	n.events.Reset()
	return captured
}

// --- Token ---

func (n *Node) MintTokens(caller, to crypto.Address, amount *big.Int) error {
	return n.token.Mint(caller.Raw(), to.Raw(), amount)
}

func (n *Node) BurnTokens(caller, from crypto.Address, amount *big.Int) error {
	return n.token.Burn(caller.Raw(), from.Raw(), amount)
}

func (n *Node) Transfer(from, to crypto.Address, amount *big.Int) error {
	return n.token.Transfer(from.Raw(), to.Raw(), amount)
}

func (n *Node) Approve(owner, spender crypto.Address, amount *big.Int) error {
	return n.token.Approve(owner.Raw(), spender.Raw(), amount)
}

func (n *Node) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	return n.token.TransferFrom(spender.Raw(), from.Raw(), to.Raw(), amount)
}

func (n *Node) DelegateVotingPower(caller, to crypto.Address) error {
	return n.token.Delegate(caller.Raw(), to.Raw())
}

func (n *Node) LockTokens(caller, account crypto.Address, durationSeconds uint64) error {
	return n.token.Lock(caller.Raw(), account.Raw(), durationSeconds)
}

func (n *Node) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return n.token.BalanceOf(addr.Raw())
}

func (n *Node) TotalSupply() (*big.Int, error) {
	return n.token.TotalSupply()
}

func (n *Node) GetVotes(addr crypto.Address) (*big.Int, error) {
	return n.token.GetVotes(addr.Raw())
}

// --- Vesting ---

func (n *Node) VestTokens(caller, beneficiary crypto.Address, amount *big.Int, start, cliff, duration uint64, revocable bool) error {
	return n.vesting.Create(caller.Raw(), beneficiary.Raw(), amount, start, cliff, duration, revocable)
}

func (n *Node) ReleaseVestedTokens(beneficiary crypto.Address) (*big.Int, error) {
	return n.vesting.Release(beneficiary.Raw())
}

func (n *Node) RevokeVesting(caller, beneficiary crypto.Address) error {
	return n.vesting.Revoke(caller.Raw(), beneficiary.Raw())
}

func (n *Node) GetVestingSchedule(beneficiary crypto.Address) (*vesting.Schedule, bool, error) {
	return n.vesting.Get(beneficiary.Raw())
}

// --- Governance ---

func (n *Node) CreateProposal(proposer, target crypto.Address, value *big.Int, payload []byte, category governance.Category, descriptionRef string) (uint64, error) {
	id, err := n.governance.Propose(proposer.Raw(), target.Raw(), value, payload, category, descriptionRef)
	if err != nil {
		return 0, err
	}
	observability.Governance().Proposals.Inc()
	return id, nil
}

// CreateFeePolicyProposal wraps CreateProposal with the marketplace policy
// target and a JSON payload the execution router understands.
func (n *Node) CreateFeePolicyProposal(proposer crypto.Address, feeBps uint32, treasury crypto.Address, descriptionRef string) (uint64, error) {
	payload, err := json.Marshal(feePolicyPayload{FeeBps: feeBps, Treasury: treasury.String()})
	if err != nil {
		return 0, err
	}
	target := crypto.MustAddress(marketplace.PolicyTarget)
	return n.CreateProposal(proposer, target, big.NewInt(0), payload, governance.CategoryTreasury, descriptionRef)
}

func (n *Node) VoteOnProposal(voter crypto.Address, id uint64, support bool) error {
	if err := n.governance.Vote(voter.Raw(), id, support); err != nil {
		return err
	}
	observability.Governance().Votes.Inc()
	return nil
}

func (n *Node) ExecuteProposal(caller crypto.Address, id uint64) error {
	return n.governance.Execute(caller.Raw(), id)
}

// AutoExecuteProposals sweeps every proposal past its voting window and
// reports the per-proposal outcomes.
func (n *Node) AutoExecuteProposals(caller crypto.Address) ([]governance.SweepResult, error) {
	results, err := n.governance.AutoExecute(caller.Raw())
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		observability.Governance().SweepOutcomes.WithLabelValues(result.Outcome.String()).Inc()
		if result.Err != "" {
			n.log.Warn("proposal sweep", "proposal", result.ProposalID, "outcome", result.Outcome.String(), "error", result.Err)
		}
	}
	return results, nil
}

func (n *Node) CancelProposal(caller crypto.Address, id uint64) error {
	return n.governance.Cancel(caller.Raw(), id)
}

func (n *Node) GetProposal(id uint64) (*governance.Proposal, bool, error) {
	return n.governance.GetProposal(id)
}

func (n *Node) GetProposals() ([]*governance.Proposal, error) {
	return n.governance.GetProposals()
}

// --- Roles ---

func (n *Node) GrantRole(caller crypto.Address, role string, addr crypto.Address) error {
	return n.roles.Grant(caller.Raw(), role, addr.Bytes())
}

func (n *Node) RevokeRole(caller crypto.Address, role string, addr crypto.Address) error {
	return n.roles.Revoke(caller.Raw(), role, addr.Bytes())
}

func (n *Node) SetRoleAdmin(caller crypto.Address, role, adminRole string) error {
	return n.roles.SetAdminRole(caller.Raw(), role, adminRole)
}

func (n *Node) TransferAdmin(caller, newAdmin crypto.Address) error {
	return n.roles.TransferAdmin(caller.Raw(), newAdmin.Raw())
}

func (n *Node) HasRole(role string, addr crypto.Address) bool {
	return n.roles.HasRole(role, addr.Bytes())
}

func (n *Node) RoleMembers(role string) ([][]byte, error) {
	return n.roles.Members(role)
}

// --- Marketplace ---

func (n *Node) ListItem(seller crypto.Address, collection string, tokenID uint64, price *big.Int, royaltyBps uint32, royaltyReceiver crypto.Address) ([16]byte, error) {
	id, err := n.market.List(seller.Raw(), collection, tokenID, price, royaltyBps, royaltyReceiver.Raw())
	if err != nil {
		return [16]byte{}, err
	}
	observability.Market().Listings.Inc()
	return id, nil
}

func (n *Node) PlaceBid(bidder crypto.Address, id [16]byte, amount *big.Int) error {
	return n.market.PlaceBid(bidder.Raw(), id, amount)
}

func (n *Node) AcceptBid(seller crypto.Address, id [16]byte) error {
	if err := n.market.Accept(seller.Raw(), id); err != nil {
		return err
	}
	observability.Market().Settlements.Inc()
	return nil
}

func (n *Node) CancelListing(seller crypto.Address, id [16]byte) error {
	return n.market.Cancel(seller.Raw(), id)
}

func (n *Node) SetMarketFeePolicy(caller crypto.Address, feeBps uint32, treasury crypto.Address) error {
	return n.market.SetFeePolicy(caller.Raw(), feeBps, treasury.Raw())
}

func (n *Node) GetListing(id [16]byte) (*marketplace.Listing, bool, error) {
	return n.market.GetListing(id)
}

func (n *Node) GetListings() ([]*marketplace.Listing, error) {
	return n.market.GetListings()
}

func (n *Node) MarketFeePolicy() (*marketplace.FeePolicy, error) {
	return n.market.FeePolicyView()
}

// StateManager exposes the underlying state manager for read-only tooling.
func (n *Node) StateManager() *state.Manager {
	return n.state
}
