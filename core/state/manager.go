package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"agora/core/types"
	"agora/native/common"
	"agora/native/governance"
	"agora/native/marketplace"
	"agora/native/vesting"
	"agora/storage"
)

var (
	accountPrefix     = []byte("acct:")
	votingPowerPrefix = []byte("votes:")
	allowancePrefix   = []byte("allow:")
	vestingPrefix     = []byte("vest:")
	proposalPrefix    = []byte("prop:")
	voteMarkerPrefix  = []byte("voted:")
	rolePrefix        = []byte("role:")
	roleAdminPrefix   = []byte("roleadm:")
	quotaPrefix       = []byte("propquota:")
	listingPrefix     = []byte("listing:")
	totalSupplyKey    = []byte("token:supply")
	proposalSeqKey    = []byte("gov:seq")
	listingIndexKey   = []byte("market:index")
	marketPolicyKey   = []byte("market:policy")
)

// Manager persists every module's records in one key-value store using RLP
// encoding. It implements the narrow state interfaces each engine declares.
type Manager struct {
	db storage.Database
}

// NewManager wraps the database with the platform state schema.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	key := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			key = append(key, ':')
		}
		key = append(key, part...)
	}
	return key
}

// get loads and RLP-decodes the value at key into out, reporting whether the
// key existed.
func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, data)
}

func (m *Manager) getBigInt(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.get(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// --- Accounts & ledger ---

// GetAccount loads the account record, returning a zeroed account for
// unknown addresses.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	account := new(types.Account)
	ok, err := m.get(prefixedKey(accountPrefix, addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		account = &types.Account{}
	}
	account.EnsureDefaults()
	return account, nil
}

// PutAccount stores the account record.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	account.EnsureDefaults()
	return m.put(prefixedKey(accountPrefix, addr), account)
}

// TotalSupply returns the tracked token supply.
func (m *Manager) TotalSupply() (*big.Int, error) {
	return m.getBigInt(totalSupplyKey)
}

// SetTotalSupply stores the token supply.
func (m *Manager) SetTotalSupply(supply *big.Int) error {
	if supply == nil {
		supply = big.NewInt(0)
	}
	return m.put(totalSupplyKey, supply)
}

// VotingPower returns the delegated power tracked for the address.
func (m *Manager) VotingPower(addr []byte) (*big.Int, error) {
	return m.getBigInt(prefixedKey(votingPowerPrefix, addr))
}

// SetVotingPower stores the delegated power for the address.
func (m *Manager) SetVotingPower(addr []byte, power *big.Int) error {
	if power == nil {
		power = big.NewInt(0)
	}
	return m.put(prefixedKey(votingPowerPrefix, addr), power)
}

// Allowance returns the spender's allowance from the owner.
func (m *Manager) Allowance(owner, spender []byte) (*big.Int, error) {
	return m.getBigInt(prefixedKey(allowancePrefix, owner, spender))
}

// SetAllowance stores the spender's allowance from the owner.
func (m *Manager) SetAllowance(owner, spender []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return m.put(prefixedKey(allowancePrefix, owner, spender), amount)
}

// --- Roles ---

func roleKey(role string) []byte {
	return prefixedKey(rolePrefix, []byte(role))
}

// SetRole adds the address to the role's member list. Adding an existing
// member is a no-op.
func (m *Manager) SetRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	return m.put(roleKey(trimmed), members)
}

// RemoveRole deletes the address from the role's member list. Removing a
// non-member is a no-op.
func (m *Manager) RemoveRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	filtered := make([][]byte, 0, len(members))
	for _, existing := range members {
		if !bytes.Equal(existing, addr) {
			filtered = append(filtered, existing)
		}
	}
	return m.put(roleKey(trimmed), filtered)
}

// RoleMembers lists the addresses holding the role.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	var members [][]byte
	if _, err := m.get(roleKey(strings.TrimSpace(role)), &members); err != nil {
		return nil, err
	}
	if members == nil {
		members = [][]byte{}
	}
	return members, nil
}

// HasRole reports whether the provided address is associated with the
// specified role. Errors while reading the underlying state result in a
// false return, matching the best-effort semantics required by the callers.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

// RoleAdmin returns the role configured to administer the given role.
func (m *Manager) RoleAdmin(role string) (string, bool, error) {
	var admin string
	ok, err := m.get(prefixedKey(roleAdminPrefix, []byte(strings.TrimSpace(role))), &admin)
	if err != nil {
		return "", false, err
	}
	return admin, ok, nil
}

// SetRoleAdmin stores the admin role for the given role.
func (m *Manager) SetRoleAdmin(role string, admin string) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	return m.put(prefixedKey(roleAdminPrefix, []byte(trimmed)), strings.TrimSpace(admin))
}

// --- Vesting ---

// VestingGet loads the beneficiary's schedule when present.
func (m *Manager) VestingGet(beneficiary []byte) (*vesting.Schedule, bool, error) {
	schedule := new(vesting.Schedule)
	ok, err := m.get(prefixedKey(vestingPrefix, beneficiary), schedule)
	if err != nil || !ok {
		return nil, false, err
	}
	return schedule, true, nil
}

// VestingPut stores the beneficiary's schedule.
func (m *Manager) VestingPut(beneficiary []byte, schedule *vesting.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("state: schedule must not be nil")
	}
	return m.put(prefixedKey(vestingPrefix, beneficiary), schedule)
}

// --- Governance ---

func proposalKey(id uint64) []byte {
	return prefixedKey(proposalPrefix, []byte(fmt.Sprintf("%d", id)))
}

// GovernanceNextProposalID allocates the next sequential proposal id,
// starting from 1.
func (m *Manager) GovernanceNextProposalID() (uint64, error) {
	var seq uint64
	if _, err := m.get(proposalSeqKey, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := m.put(proposalSeqKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// GovernanceProposalCount returns the highest allocated proposal id.
func (m *Manager) GovernanceProposalCount() (uint64, error) {
	var seq uint64
	if _, err := m.get(proposalSeqKey, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// GovernancePutProposal stores the proposal.
func (m *Manager) GovernancePutProposal(p *governance.Proposal) error {
	if p == nil {
		return fmt.Errorf("state: proposal must not be nil")
	}
	p.EnsureDefaults()
	return m.put(proposalKey(p.ID), p)
}

// GovernanceGetProposal loads the proposal when present.
func (m *Manager) GovernanceGetProposal(id uint64) (*governance.Proposal, bool, error) {
	proposal := new(governance.Proposal)
	ok, err := m.get(proposalKey(id), proposal)
	if err != nil || !ok {
		return nil, false, err
	}
	proposal.EnsureDefaults()
	return proposal, true, nil
}

func voteMarkerKey(id uint64, voter []byte) []byte {
	return prefixedKey(voteMarkerPrefix, []byte(fmt.Sprintf("%d", id)), voter)
}

// GovernanceHasVoted reports whether the voter already cast a ballot on the
// proposal.
func (m *Manager) GovernanceHasVoted(id uint64, voter []byte) (bool, error) {
	return m.db.Has(voteMarkerKey(id, voter))
}

// GovernanceMarkVoted records that the voter cast a ballot on the proposal.
func (m *Manager) GovernanceMarkVoted(id uint64, voter []byte) error {
	return m.db.Put(voteMarkerKey(id, voter), []byte{1})
}

// GovernanceProposerQuota returns the proposer's submission counters.
func (m *Manager) GovernanceProposerQuota(addr []byte) (common.QuotaNow, error) {
	var usage common.QuotaNow
	if _, err := m.get(prefixedKey(quotaPrefix, addr), &usage); err != nil {
		return common.QuotaNow{}, err
	}
	return usage, nil
}

// GovernanceSetProposerQuota stores the proposer's submission counters.
func (m *Manager) GovernanceSetProposerQuota(addr []byte, usage common.QuotaNow) error {
	return m.put(prefixedKey(quotaPrefix, addr), usage)
}

// --- Marketplace ---

// MarketGetListing loads the listing when present.
func (m *Manager) MarketGetListing(id [16]byte) (*marketplace.Listing, bool, error) {
	listing := new(marketplace.Listing)
	ok, err := m.get(prefixedKey(listingPrefix, id[:]), listing)
	if err != nil || !ok {
		return nil, false, err
	}
	return listing, true, nil
}

// MarketPutListing stores the listing, appending it to the creation-order
// index on first write.
func (m *Manager) MarketPutListing(listing *marketplace.Listing) error {
	if listing == nil {
		return fmt.Errorf("state: listing must not be nil")
	}
	key := prefixedKey(listingPrefix, listing.ID[:])
	known, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if err := m.put(key, listing); err != nil {
		return err
	}
	if known {
		return nil
	}
	ids, err := m.MarketListingIDs()
	if err != nil {
		return err
	}
	ids = append(ids, listing.ID)
	return m.put(listingIndexKey, ids)
}

// MarketListingIDs returns every listing id in creation order.
func (m *Manager) MarketListingIDs() ([][16]byte, error) {
	var ids [][16]byte
	if _, err := m.get(listingIndexKey, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = [][16]byte{}
	}
	return ids, nil
}

// MarketPolicy returns the stored fee policy, nil when unset.
func (m *Manager) MarketPolicy() (*marketplace.FeePolicy, error) {
	policy := new(marketplace.FeePolicy)
	ok, err := m.get(marketPolicyKey, policy)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return policy, nil
}

// MarketSetPolicy stores the fee policy.
func (m *Manager) MarketSetPolicy(policy *marketplace.FeePolicy) error {
	if policy == nil {
		return fmt.Errorf("state: policy must not be nil")
	}
	return m.put(marketPolicyKey, policy)
}
