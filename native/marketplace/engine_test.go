package marketplace

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockState struct {
	listings map[[16]byte]*Listing
	order    [][16]byte
	policy   *FeePolicy
}

func newMockState() *mockState {
	return &mockState{listings: make(map[[16]byte]*Listing)}
}

func (m *mockState) MarketGetListing(id [16]byte) (*Listing, bool, error) {
	listing, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	clone := *listing
	clone.Price = new(big.Int).Set(listing.Price)
	clone.BestBid = new(big.Int).Set(listing.BestBid)
	return &clone, true, nil
}

func (m *mockState) MarketPutListing(listing *Listing) error {
	if _, ok := m.listings[listing.ID]; !ok {
		m.order = append(m.order, listing.ID)
	}
	clone := *listing
	clone.Price = new(big.Int).Set(listing.Price)
	clone.BestBid = new(big.Int).Set(listing.BestBid)
	m.listings[listing.ID] = &clone
	return nil
}

func (m *mockState) MarketListingIDs() ([][16]byte, error) {
	return m.order, nil
}

func (m *mockState) MarketPolicy() (*FeePolicy, error) {
	return m.policy, nil
}

func (m *mockState) MarketSetPolicy(policy *FeePolicy) error {
	clone := *policy
	m.policy = &clone
	return nil
}

// mockLedger tracks balances keyed by address so settlement splits can be
// asserted precisely.
type mockLedger struct {
	balances map[[20]byte]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[[20]byte]*big.Int)}
}

func (m *mockLedger) balance(addr [20]byte) *big.Int {
	if balance, ok := m.balances[addr]; ok {
		return balance
	}
	return big.NewInt(0)
}

func (m *mockLedger) fund(addr [20]byte, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	m.balances[from] = new(big.Int).Sub(m.balance(from), amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

type mockRoles struct {
	admins map[[20]byte]bool
}

func (m *mockRoles) HasRole(role string, addr []byte) bool {
	var key [20]byte
	copy(key[:], addr)
	return role == m.AdminRole() && m.admins[key]
}

func (m *mockRoles) AdminRole() string { return "role.marketAdmin" }

var (
	seller   = [20]byte{0x01}
	bidder   = [20]byte{0x02}
	outbid   = [20]byte{0x03}
	artist   = [20]byte{0x04}
	treasury = [20]byte{0x05}
	marketer = [20]byte{0x06}
)

func newTestEngine(state *mockState, ledger *mockLedger) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetRoleChecker(&mockRoles{admins: map[[20]byte]bool{marketer: true}})
	engine.SetNowFunc(func() int64 { return 1_000 })
	return engine
}

func TestListValidatesPriceAndRoyalty(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, newMockLedger())

	_, err := engine.List(seller, "c", 1, big.NewInt(0), 0, artist)
	require.ErrorIs(t, err, ErrZeroPrice)

	state.policy = &FeePolicy{FeeBps: 500, Treasury: treasury}
	_, err = engine.List(seller, "c", 1, big.NewInt(100), 9_600, artist)
	require.ErrorIs(t, err, ErrRoyaltyTooHigh)

	id, err := engine.List(seller, "c", 1, big.NewInt(100), 9_500, artist)
	require.NoError(t, err)

	listing, ok, err := engine.GetListing(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, seller, listing.Seller)
	require.False(t, listing.Closed)
}

func TestListingIDsAreDeterministic(t *testing.T) {
	a := listingID(seller, "genesis", 7, 1_000)
	b := listingID(seller, "genesis", 7, 1_000)
	c := listingID(seller, "genesis", 8, 1_000)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestPlaceBidEscrowsAndRefundsDisplacedBidder(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger)
	ledger.fund(bidder, 1_000)
	ledger.fund(outbid, 1_000)

	id, err := engine.List(seller, "c", 1, big.NewInt(100), 0, artist)
	require.NoError(t, err)

	require.ErrorIs(t, engine.PlaceBid(outbid, id, big.NewInt(99)), ErrBidBelowPrice)
	require.NoError(t, engine.PlaceBid(outbid, id, big.NewInt(100)))
	require.Equal(t, big.NewInt(900), ledger.balance(outbid))
	require.Equal(t, big.NewInt(100), ledger.balance(VaultAddress))

	// Matching the standing bid is not enough.
	require.ErrorIs(t, engine.PlaceBid(bidder, id, big.NewInt(100)), ErrBidTooLow)

	// A higher bid displaces and refunds the previous one.
	require.NoError(t, engine.PlaceBid(bidder, id, big.NewInt(150)))
	require.Equal(t, big.NewInt(1_000), ledger.balance(outbid))
	require.Equal(t, big.NewInt(850), ledger.balance(bidder))
	require.Equal(t, big.NewInt(150), ledger.balance(VaultAddress))
}

func TestAcceptSplitsFeeRoyaltyProceeds(t *testing.T) {
	state := newMockState()
	state.policy = &FeePolicy{FeeBps: 250, Treasury: treasury}
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger)
	ledger.fund(bidder, 10_000)

	id, err := engine.List(seller, "c", 1, big.NewInt(10_000), 1_000, artist)
	require.NoError(t, err)
	require.NoError(t, engine.PlaceBid(bidder, id, big.NewInt(10_000)))

	require.ErrorIs(t, engine.Accept(bidder, id), ErrNotSeller)
	require.NoError(t, engine.Accept(seller, id))

	// 2.5% fee, 10% royalty, remainder to the seller.
	require.Equal(t, big.NewInt(250), ledger.balance(treasury))
	require.Equal(t, big.NewInt(1_000), ledger.balance(artist))
	require.Equal(t, big.NewInt(8_750), ledger.balance(seller))
	require.Zero(t, big.NewInt(0).Cmp(ledger.balance(VaultAddress)))

	listing, ok, err := engine.GetListing(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, listing.Closed)

	require.ErrorIs(t, engine.Accept(seller, id), ErrListingClosed)
	require.ErrorIs(t, engine.PlaceBid(bidder, id, big.NewInt(20_000)), ErrListingClosed)
}

func TestAcceptWithoutBidFails(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, newMockLedger())

	id, err := engine.List(seller, "c", 1, big.NewInt(100), 0, artist)
	require.NoError(t, err)
	require.ErrorIs(t, engine.Accept(seller, id), ErrNoBid)
}

func TestCancelRefundsStandingBid(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	engine := newTestEngine(state, ledger)
	ledger.fund(bidder, 500)

	id, err := engine.List(seller, "c", 1, big.NewInt(100), 0, artist)
	require.NoError(t, err)
	require.NoError(t, engine.PlaceBid(bidder, id, big.NewInt(200)))

	require.ErrorIs(t, engine.Cancel(bidder, id), ErrNotSeller)
	require.NoError(t, engine.Cancel(seller, id))

	require.Equal(t, big.NewInt(500), ledger.balance(bidder))
	require.Zero(t, big.NewInt(0).Cmp(ledger.balance(VaultAddress)))

	listing, ok, err := engine.GetListing(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, listing.Closed)
}

func TestSetFeePolicyRequiresMarketAdmin(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, newMockLedger())

	require.ErrorIs(t, engine.SetFeePolicy(seller, 100, treasury), ErrNotMarketAdmin)
	require.NoError(t, engine.SetFeePolicy(marketer, 100, treasury))

	policy, err := engine.FeePolicyView()
	require.NoError(t, err)
	require.Equal(t, uint32(100), policy.FeeBps)
	require.Equal(t, treasury, policy.Treasury)

	require.ErrorIs(t, engine.SetFeePolicy(marketer, 10_001, treasury), ErrInvalidFee)
}

func TestApplyFeePolicySkipsRoleCheck(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, newMockLedger())
	engine.SetRoleChecker(nil)

	require.NoError(t, engine.ApplyFeePolicy(42, treasury))
	policy, err := engine.FeePolicyView()
	require.NoError(t, err)
	require.Equal(t, uint32(42), policy.FeeBps)
}

func TestGetListingsPreservesCreationOrder(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, newMockLedger())

	first, err := engine.List(seller, "c", 1, big.NewInt(100), 0, artist)
	require.NoError(t, err)
	second, err := engine.List(seller, "c", 2, big.NewInt(100), 0, artist)
	require.NoError(t, err)

	listings, err := engine.GetListings()
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, first, listings[0].ID)
	require.Equal(t, second, listings[1].ID)
}
