package market

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"kisx/core/events"
	"kisx/core/types"
	nativecommon "kisx/native/common"
)

var errListingNilState = errors.New("listing engine: state not configured")

// listingState is the persistence surface of the standalone flavor. Listings
// are deleted on cancel and sale, so the pending index here is simply the set
// of existing records.
type listingState interface {
	ListingPut(*Listing) error
	ListingGet(id uint64) (*Listing, bool)
	ListingDelete(id uint64) error
	ListingIDs() ([]uint64, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// ListingEngine implements the standalone flavor: a priced offer referencing
// an asset that already exists in the external registry. Sale proceeds are
// credited directly to the seller; there is no pooled balance.
//
// Listing an asset requires the owner to have approved the settlement
// identity in the registry beforehand, otherwise the later transfer could
// never succeed.
type ListingEngine struct {
	state    listingState
	registry AssetRegistry
	emitter  events.Emitter
	admin    [20]byte
	operator [20]byte
	pauses   nativecommon.PauseView
	nowFn    func() int64

	locks [lockStripes]sync.Mutex

	settleMu sync.Mutex
	settling map[uint64]bool
}

// NewListingEngine creates a standalone listing engine with a no-op emitter.
func NewListingEngine() *ListingEngine {
	return &ListingEngine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		settling: make(map[uint64]bool),
	}
}

// SetState configures the state backend used by the engine.
func (e *ListingEngine) SetState(state listingState) { e.state = state }

// SetRegistry configures the asset registry collaborator.
func (e *ListingEngine) SetRegistry(reg AssetRegistry) { e.registry = reg }

// SetAdmin configures the administrator identity (cancel-only privilege).
func (e *ListingEngine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetOperator configures the settlement identity whose registry approval
// gates listing creation.
func (e *ListingEngine) SetOperator(addr [20]byte) { e.operator = addr }

// SetPauses wires the administrative pause switch.
func (e *ListingEngine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter; nil resets to a no-op.
func (e *ListingEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *ListingEngine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *ListingEngine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *ListingEngine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *ListingEngine) lockFor(id uint64) *sync.Mutex {
	return &e.locks[id%lockStripes]
}

// Assets whose sale is between the local commit and the registry transfer are
// marked settling; ListItem refuses them so a fresh listing cannot appear
// while ownership is in flight.
func (e *ListingEngine) beginSettlement(id uint64) {
	e.settleMu.Lock()
	e.settling[id] = true
	e.settleMu.Unlock()
}

func (e *ListingEngine) endSettlement(id uint64) {
	e.settleMu.Lock()
	delete(e.settling, id)
	e.settleMu.Unlock()
}

func (e *ListingEngine) inSettlement(id uint64) bool {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()
	return e.settling[id]
}

func (e *ListingEngine) ready() error {
	if e == nil || e.state == nil {
		return errListingNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	return nil
}

func (e *ListingEngine) debitAccount(addr [20]byte, amount *big.Int) error {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.Ensure()
	if acc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, amount)
	return e.state.PutAccount(addr[:], acc)
}

func (e *ListingEngine) creditAccount(addr [20]byte, amount *big.Int) error {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.Ensure()
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return e.state.PutAccount(addr[:], acc)
}

// ListItem creates a listing for an asset the caller owns. The settlement
// identity must already hold registry approval for the asset.
func (e *ListingEngine) ListItem(caller [20]byte, assetID uint64, price *big.Int) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	mu := e.lockFor(assetID)
	mu.Lock()
	defer mu.Unlock()
	if e.inSettlement(assetID) {
		return nil, ErrSettlementInProgress
	}

	if _, ok := e.state.ListingGet(assetID); ok {
		return nil, ErrAlreadyListed
	}
	owner, err := e.registry.OwnerOf(assetID)
	if err != nil {
		return nil, fmt.Errorf("market: owner lookup: %w", err)
	}
	if owner != caller {
		return nil, ErrNotOwner
	}
	approved, err := e.registry.IsApprovedFor(e.operator, assetID)
	if err != nil {
		return nil, fmt.Errorf("market: approval lookup: %w", err)
	}
	if !approved {
		return nil, ErrNotApproved
	}
	listing := &Listing{
		AssetID:   assetID,
		Price:     amount,
		Seller:    caller,
		CreatedAt: e.now(),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewItemListedEvent(listing))
	return listing.Clone(), nil
}

// CancelListing deletes the listing. Seller or administrator only.
func (e *ListingEngine) CancelListing(caller [20]byte, assetID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	mu := e.lockFor(assetID)
	mu.Lock()
	defer mu.Unlock()

	listing, ok := e.state.ListingGet(assetID)
	if !ok {
		return ErrListingNotFound
	}
	if caller != listing.Seller && caller != e.admin {
		return ErrNotOwner
	}
	if err := e.state.ListingDelete(assetID); err != nil {
		return err
	}
	e.emit(NewItemCancelledEvent(listing))
	return nil
}

// UpdateListing replaces the asking price. Seller only. A price change
// re-announces the listing through the listed event.
func (e *ListingEngine) UpdateListing(caller [20]byte, assetID uint64, price *big.Int) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	mu := e.lockFor(assetID)
	mu.Lock()
	defer mu.Unlock()

	listing, ok := e.state.ListingGet(assetID)
	if !ok {
		return nil, ErrListingNotFound
	}
	if caller != listing.Seller {
		return nil, ErrNotOwner
	}
	listing.Price = amount
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewItemListedEvent(listing))
	return listing.Clone(), nil
}

// BuyItem settles a standalone purchase. The full local settlement — buyer
// debit, direct seller credit, listing deletion — is persisted before the
// registry transfer runs. A transfer failure reverses all three.
func (e *ListingEngine) BuyItem(buyer [20]byte, assetID uint64, paid *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	mu := e.lockFor(assetID)
	mu.Lock()

	listing, ok := e.state.ListingGet(assetID)
	if !ok {
		mu.Unlock()
		return ErrNotForSale
	}
	if buyer == listing.Seller {
		mu.Unlock()
		return ErrSelfPurchase
	}
	price := cloneBigInt(listing.Price)
	if cloneBigInt(paid).Cmp(price) != 0 {
		mu.Unlock()
		return ErrPriceMismatch
	}
	if err := e.debitAccount(buyer, price); err != nil {
		mu.Unlock()
		return err
	}
	if err := e.creditAccount(listing.Seller, price); err != nil {
		if crErr := e.creditAccount(buyer, price); crErr != nil {
			mu.Unlock()
			return fmt.Errorf("market: seller credit failed (%v), refund failed: %w", err, crErr)
		}
		mu.Unlock()
		return err
	}
	if err := e.state.ListingDelete(assetID); err != nil {
		if dbErr := e.debitAccount(listing.Seller, price); dbErr != nil {
			mu.Unlock()
			return fmt.Errorf("market: listing delete failed (%v), rollback failed: %w", err, dbErr)
		}
		if crErr := e.creditAccount(buyer, price); crErr != nil {
			mu.Unlock()
			return fmt.Errorf("market: listing delete failed (%v), refund failed: %w", err, crErr)
		}
		mu.Unlock()
		return err
	}
	e.beginSettlement(assetID)
	mu.Unlock()

	if err := e.registry.TransferFrom(listing.Seller, buyer, assetID); err != nil {
		mu.Lock()
		defer func() {
			e.endSettlement(assetID)
			mu.Unlock()
		}()
		if dbErr := e.debitAccount(listing.Seller, price); dbErr != nil {
			return fmt.Errorf("market: transfer failed (%v), rollback failed: %w", err, dbErr)
		}
		if crErr := e.creditAccount(buyer, price); crErr != nil {
			return fmt.Errorf("market: transfer failed (%v), refund failed: %w", err, crErr)
		}
		if putErr := e.state.ListingPut(listing); putErr != nil {
			return fmt.Errorf("market: transfer failed (%v), rollback failed: %w", err, putErr)
		}
		return fmt.Errorf("market: transfer ownership: %w", err)
	}
	e.endSettlement(assetID)
	e.emit(NewItemBoughtEvent(listing, buyer))
	return nil
}

// GetListing returns the stored listing, or a zero-value listing when the
// asset is not listed. Callers distinguish the two by the zero price.
func (e *ListingEngine) GetListing(assetID uint64) *Listing {
	if e == nil || e.state == nil {
		return &Listing{AssetID: assetID, Price: big.NewInt(0)}
	}
	listing, ok := e.state.ListingGet(assetID)
	if !ok {
		return &Listing{AssetID: assetID, Price: big.NewInt(0)}
	}
	return listing.Clone()
}

// ListedIDs returns a snapshot of all listed asset ids in ascending order.
func (e *ListingEngine) ListedIDs() ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errListingNilState
	}
	ids, err := e.state.ListingIDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
