package marketplace

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"agora/core/events"
	"agora/core/types"
	"agora/native/common"
)

const (
	// EventTypeListed is emitted when an item is listed for sale.
	EventTypeListed = "market.listed"
	// EventTypeBid is emitted when a bid is escrowed.
	EventTypeBid = "market.bid"
	// EventTypeSold is emitted when a listing settles.
	EventTypeSold = "market.sold"
	// EventTypeCancelled is emitted when a listing is withdrawn.
	EventTypeCancelled = "market.cancelled"
	// EventTypePolicyUpdated is emitted when the fee policy changes.
	EventTypePolicyUpdated = "market.policyUpdated"
)

const (
	bpsDenominator = 10_000
	settleScope    = "marketplace.settle"
)

var (
	errStateNotConfigured  = errors.New("marketplace: state not configured")
	errLedgerNotConfigured = errors.New("marketplace: ledger not configured")
	errRolesNotConfigured  = errors.New("marketplace: role checker not configured")

	// ErrZeroPrice signals a listing without a positive asking price.
	ErrZeroPrice = errors.New("marketplace: price must be positive")
	// ErrRoyaltyTooHigh signals royalty plus protocol fee above 100%.
	ErrRoyaltyTooHigh = errors.New("marketplace: royalty plus fee exceeds 100%")
	// ErrListingNotFound signals an unknown listing id.
	ErrListingNotFound = errors.New("marketplace: listing not found")
	// ErrListingClosed signals the listing already settled or was
	// withdrawn.
	ErrListingClosed = errors.New("marketplace: listing closed")
	// ErrNotSeller signals a caller other than the listing's seller.
	ErrNotSeller = errors.New("marketplace: caller is not the seller")
	// ErrBidBelowPrice signals a bid under the asking price.
	ErrBidBelowPrice = errors.New("marketplace: bid below asking price")
	// ErrBidTooLow signals a bid not exceeding the standing best bid.
	ErrBidTooLow = errors.New("marketplace: bid does not beat standing bid")
	// ErrNoBid signals settlement of a listing without any bid.
	ErrNoBid = errors.New("marketplace: no standing bid")
	// ErrNotMarketAdmin signals a policy update by a caller without the
	// marketplace admin role.
	ErrNotMarketAdmin = errors.New("marketplace: caller is not a market admin")
	// ErrInvalidFee signals a protocol fee above 100%.
	ErrInvalidFee = errors.New("marketplace: fee exceeds 100%")
)

// listingNamespace seeds deterministic listing identifiers.
var listingNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("agora.marketplace.listing"))

// VaultAddress is the module account bids are escrowed under.
var VaultAddress = moduleAddress("marketplace.vault")

// PolicyTarget is the module account governance proposals address when
// updating the fee policy through the execution router.
var PolicyTarget = moduleAddress("marketplace.policy")

func moduleAddress(name string) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte(name))[12:])
	return out
}

// Listing is a stored sale offer together with its best standing bid.
type Listing struct {
	ID              [16]byte `json:"id"`
	Seller          [20]byte `json:"seller"`
	Collection      string   `json:"collection"`
	TokenID         uint64   `json:"tokenId"`
	Price           *big.Int `json:"price"`
	RoyaltyBps      uint32   `json:"royaltyBps"`
	RoyaltyReceiver [20]byte `json:"royaltyReceiver"`
	BestBidder      [20]byte `json:"bestBidder"`
	BestBid         *big.Int `json:"bestBid"`
	HasBid          bool     `json:"hasBid"`
	Closed          bool     `json:"closed"`
	CreatedAt       uint64   `json:"createdAt"`
}

func (l *Listing) ensureDefaults() {
	if l.Price == nil {
		l.Price = big.NewInt(0)
	}
	if l.BestBid == nil {
		l.BestBid = big.NewInt(0)
	}
}

// FeePolicy is the protocol fee applied at settlement.
type FeePolicy struct {
	FeeBps   uint32   `json:"feeBps"`
	Treasury [20]byte `json:"treasury"`
}

type engineState interface {
	MarketGetListing(id [16]byte) (*Listing, bool, error)
	MarketPutListing(listing *Listing) error
	MarketListingIDs() ([][16]byte, error)
	MarketPolicy() (*FeePolicy, error)
	MarketSetPolicy(policy *FeePolicy) error
}

// Ledger is the slice of the token engine the marketplace needs: moving
// escrowed funds between bidders, the vault, and payout recipients.
type Ledger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// RoleChecker is the single governance surface the marketplace consumes.
type RoleChecker interface {
	HasRole(role string, addr []byte) bool
	AdminRole() string
}

// Engine owns listing, bidding, and settlement bookkeeping.
type Engine struct {
	state   engineState
	ledger  Ledger
	roles   RoleChecker
	emitter events.Emitter
	latch   *common.Latch
	nowFn   func() int64
}

// NewEngine creates a marketplace engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		latch:   common.NewLatch(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the token ledger used for escrow and payouts.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetRoleChecker wires the governance role registry consulted for policy
// updates.
func (e *Engine) SetRoleChecker(roles RoleChecker) { e.roles = roles }

// SetLatch replaces the reentrancy latch. Nil restores a private latch.
func (e *Engine) SetLatch(latch *common.Latch) {
	if latch == nil {
		e.latch = common.NewLatch()
		return
	}
	e.latch = latch
}

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

type marketEvent struct {
	evt *types.Event
}

func (m marketEvent) EventType() string {
	if m.evt == nil {
		return ""
	}
	return m.evt.Type
}

func (m marketEvent) Event() *types.Event { return m.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
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

func (e *Engine) policy() (*FeePolicy, error) {
	policy, err := e.state.MarketPolicy()
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = &FeePolicy{}
	}
	return policy, nil
}

// listingID derives a deterministic identifier from the listing's seed
// fields so replays of the same operation sequence produce identical ids.
func listingID(seller [20]byte, collection string, tokenID, createdAt uint64) [16]byte {
	seed := make([]byte, 0, len(collection)+36)
	seed = append(seed, seller[:]...)
	seed = append(seed, collection...)
	seed = binary.BigEndian.AppendUint64(seed, tokenID)
	seed = binary.BigEndian.AppendUint64(seed, createdAt)
	return [16]byte(uuid.NewSHA1(listingNamespace, seed))
}

// List stores a new sale offer and returns its identifier.
func (e *Engine) List(seller [20]byte, collection string, tokenID uint64, price *big.Int, royaltyBps uint32, royaltyReceiver [20]byte) ([16]byte, error) {
	var id [16]byte
	if e == nil || e.state == nil {
		return id, errStateNotConfigured
	}
	if price == nil || price.Sign() <= 0 {
		return id, ErrZeroPrice
	}
	policy, err := e.policy()
	if err != nil {
		return id, err
	}
	if uint64(royaltyBps)+uint64(policy.FeeBps) > bpsDenominator {
		return id, ErrRoyaltyTooHigh
	}

	now := e.now()
	id = listingID(seller, collection, tokenID, now)
	listing := &Listing{
		ID:              id,
		Seller:          seller,
		Collection:      collection,
		TokenID:         tokenID,
		Price:           new(big.Int).Set(price),
		RoyaltyBps:      royaltyBps,
		RoyaltyReceiver: royaltyReceiver,
		BestBid:         big.NewInt(0),
		CreatedAt:       now,
	}
	if err := e.state.MarketPutListing(listing); err != nil {
		return id, err
	}

	e.emit(&types.Event{Type: EventTypeListed, Attributes: map[string]string{
		"id":         hex.EncodeToString(id[:]),
		"seller":     hex.EncodeToString(seller[:]),
		"collection": collection,
		"tokenId":    strconv.FormatUint(tokenID, 10),
		"price":      price.String(),
	}})
	return id, nil
}

// PlaceBid escrows the bidder's funds in the marketplace vault and refunds
// the displaced bidder. A bid must meet the asking price and beat the
// standing best bid.
func (e *Engine) PlaceBid(bidder [20]byte, id [16]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.ledger == nil {
		return errLedgerNotConfigured
	}
	listing, ok, err := e.state.MarketGetListing(id)
	if err != nil {
		return err
	}
	if !ok || listing == nil {
		return ErrListingNotFound
	}
	if listing.Closed {
		return ErrListingClosed
	}
	listing.ensureDefaults()
	if amount == nil || amount.Cmp(listing.Price) < 0 {
		return ErrBidBelowPrice
	}
	if listing.HasBid && amount.Cmp(listing.BestBid) <= 0 {
		return ErrBidTooLow
	}

	if err := e.ledger.Transfer(bidder, VaultAddress, amount); err != nil {
		return err
	}
	if listing.HasBid && listing.BestBid.Sign() > 0 {
		if err := e.ledger.Transfer(VaultAddress, listing.BestBidder, listing.BestBid); err != nil {
			return err
		}
	}

	listing.BestBidder = bidder
	listing.BestBid = new(big.Int).Set(amount)
	listing.HasBid = true
	if err := e.state.MarketPutListing(listing); err != nil {
		return err
	}

	e.emit(&types.Event{Type: EventTypeBid, Attributes: map[string]string{
		"id":     hex.EncodeToString(id[:]),
		"bidder": hex.EncodeToString(bidder[:]),
		"amount": amount.String(),
	}})
	return nil
}

// Accept settles the best bid: protocol fee to the treasury, royalty to the
// receiver, remainder to the seller. The listing is closed before funds
// leave the vault and the settlement path is latched against re-entry.
func (e *Engine) Accept(seller [20]byte, id [16]byte) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.ledger == nil {
		return errLedgerNotConfigured
	}
	listing, ok, err := e.state.MarketGetListing(id)
	if err != nil {
		return err
	}
	if !ok || listing == nil {
		return ErrListingNotFound
	}
	if listing.Closed {
		return ErrListingClosed
	}
	if listing.Seller != seller {
		return ErrNotSeller
	}
	listing.ensureDefaults()
	if !listing.HasBid || listing.BestBid.Sign() <= 0 {
		return ErrNoBid
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}

	if err := e.latch.Enter(settleScope); err != nil {
		return err
	}
	defer e.latch.Exit(settleScope)

	bid := new(big.Int).Set(listing.BestBid)
	fee := new(big.Int).Mul(bid, new(big.Int).SetUint64(uint64(policy.FeeBps)))
	fee.Div(fee, big.NewInt(bpsDenominator))
	royalty := new(big.Int).Mul(bid, new(big.Int).SetUint64(uint64(listing.RoyaltyBps)))
	royalty.Div(royalty, big.NewInt(bpsDenominator))
	proceeds := new(big.Int).Sub(bid, fee)
	proceeds.Sub(proceeds, royalty)

	listing.Closed = true
	if err := e.state.MarketPutListing(listing); err != nil {
		return err
	}

	if fee.Sign() > 0 {
		if err := e.ledger.Transfer(VaultAddress, policy.Treasury, fee); err != nil {
			return err
		}
	}
	if royalty.Sign() > 0 {
		if err := e.ledger.Transfer(VaultAddress, listing.RoyaltyReceiver, royalty); err != nil {
			return err
		}
	}
	if proceeds.Sign() > 0 {
		if err := e.ledger.Transfer(VaultAddress, listing.Seller, proceeds); err != nil {
			return err
		}
	}

	e.emit(&types.Event{Type: EventTypeSold, Attributes: map[string]string{
		"id":       hex.EncodeToString(id[:]),
		"buyer":    hex.EncodeToString(listing.BestBidder[:]),
		"amount":   bid.String(),
		"fee":      fee.String(),
		"royalty":  royalty.String(),
		"proceeds": proceeds.String(),
	}})
	return nil
}

// Cancel withdraws the listing and refunds the standing bid.
func (e *Engine) Cancel(seller [20]byte, id [16]byte) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.ledger == nil {
		return errLedgerNotConfigured
	}
	listing, ok, err := e.state.MarketGetListing(id)
	if err != nil {
		return err
	}
	if !ok || listing == nil {
		return ErrListingNotFound
	}
	if listing.Closed {
		return ErrListingClosed
	}
	if listing.Seller != seller {
		return ErrNotSeller
	}
	listing.ensureDefaults()

	listing.Closed = true
	if err := e.state.MarketPutListing(listing); err != nil {
		return err
	}
	if listing.HasBid && listing.BestBid.Sign() > 0 {
		if err := e.ledger.Transfer(VaultAddress, listing.BestBidder, listing.BestBid); err != nil {
			return err
		}
	}

	e.emit(&types.Event{Type: EventTypeCancelled, Attributes: map[string]string{
		"id": hex.EncodeToString(id[:]),
	}})
	return nil
}

// SetFeePolicy updates the protocol fee and treasury. The caller must hold
// the marketplace admin role on the governance registry.
func (e *Engine) SetFeePolicy(caller [20]byte, feeBps uint32, treasury [20]byte) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.roles == nil {
		return errRolesNotConfigured
	}
	if !e.roles.HasRole(e.roles.AdminRole(), caller[:]) {
		return ErrNotMarketAdmin
	}
	return e.applyFeePolicy(feeBps, treasury)
}

// ApplyFeePolicy installs the policy without a caller role check. It backs
// governance-executed policy updates, where authorisation already happened
// in the proposal pipeline.
func (e *Engine) ApplyFeePolicy(feeBps uint32, treasury [20]byte) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	return e.applyFeePolicy(feeBps, treasury)
}

func (e *Engine) applyFeePolicy(feeBps uint32, treasury [20]byte) error {
	if feeBps > bpsDenominator {
		return ErrInvalidFee
	}
	if err := e.state.MarketSetPolicy(&FeePolicy{FeeBps: feeBps, Treasury: treasury}); err != nil {
		return err
	}
	e.emit(&types.Event{Type: EventTypePolicyUpdated, Attributes: map[string]string{
		"feeBps":   strconv.FormatUint(uint64(feeBps), 10),
		"treasury": hex.EncodeToString(treasury[:]),
	}})
	return nil
}

// GetListing returns the listing when it exists.
func (e *Engine) GetListing(id [16]byte) (*Listing, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errStateNotConfigured
	}
	return e.state.MarketGetListing(id)
}

// GetListings returns every listing in creation order.
func (e *Engine) GetListings() ([]*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	ids, err := e.state.MarketListingIDs()
	if err != nil {
		return nil, err
	}
	listings := make([]*Listing, 0, len(ids))
	for _, id := range ids {
		listing, ok, err := e.state.MarketGetListing(id)
		if err != nil {
			return nil, err
		}
		if ok && listing != nil {
			listings = append(listings, listing)
		}
	}
	return listings, nil
}

// FeePolicyView returns the current fee policy.
func (e *Engine) FeePolicyView() (*FeePolicy, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	return e.policy()
}
