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

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	errNilState    = errors.New("market engine: state not configured")
	errNilRegistry = errors.New("market engine: asset registry not configured")
)

const (
	marketModuleName = "market"
	lockStripes      = 64
)

// ModuleAddress derives the settlement operator identity the engines act
// under when moving assets through the registry.
func ModuleAddress() [20]byte {
	hash := ethcrypto.Keccak256([]byte("kisx/native/market/operator"))
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}

// engineState is the persistence surface the lot engine requires. The state
// manager in core/state implements it over a key-value store; tests provide a
// map-backed mock.
type engineState interface {
	LotPut(*Lot) error
	LotGet(id uint64) (*Lot, bool)
	PendingAdd(id uint64) error
	PendingRemove(id uint64) error
	PendingIDs() ([]uint64, error)
	SellerLotAdd(seller [20]byte, id uint64) error
	SellerLots(seller [20]byte) ([]uint64, error)
	MintPrice() (*big.Int, error)
	SetMintPrice(*big.Int) error
	PoolBalance() (*big.Int, error)
	PoolCredit(*big.Int) error
	PoolDebit(*big.Int) error
	PoolDrain() (*big.Int, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// AssetRegistry is the external system of record for asset ownership. The
// engine only moves ownership through it and never mutates registry state
// directly.
type AssetRegistry interface {
	Mint(owner [20]byte, uri string) (uint64, error)
	OwnerOf(id uint64) ([20]byte, error)
	Approve(owner, operator [20]byte, id uint64) error
	TransferFrom(from, to [20]byte, id uint64) error
	IsApprovedFor(operator [20]byte, id uint64) (bool, error)
}

// Engine implements the integrated lot flavor: asset issuance and listing are
// created together, the issuance fee and sale proceeds accrue into a pooled
// balance withdrawable by the administrator.
//
// Operations on the same lot id are serialized through a striped lock; the
// pooled balance has its own mutex. External registry calls are made only
// after the local state mutation has been persisted, so a reentrant call
// triggered by a transfer observes post-mutation state.
type Engine struct {
	state    engineState
	registry AssetRegistry
	emitter  events.Emitter
	admin    [20]byte
	operator [20]byte
	pauses   nativecommon.PauseView
	nowFn    func() int64

	locks    [lockStripes]sync.Mutex
	createMu sync.Mutex
	poolMu   sync.Mutex

	settleMu sync.Mutex
	settling map[uint64]bool
}

// NewEngine creates a lot engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		settling: make(map[uint64]bool),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the asset registry collaborator.
func (e *Engine) SetRegistry(reg AssetRegistry) { e.registry = reg }

// SetAdmin configures the administrator identity. The administrator may
// cancel any lot, change the mint price and withdraw the pooled balance.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetOperator configures the settlement identity. Issuance escrows transfer
// authority for this identity so the later buy can move ownership.
func (e *Engine) SetOperator(addr [20]byte) { e.operator = addr }

// SetPauses wires the administrative pause switch consulted by every
// mutating operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
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

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) lockFor(id uint64) *sync.Mutex {
	return &e.locks[id%lockStripes]
}

// The settling set marks lots whose sale has been committed locally but whose
// registry transfer is still in flight. Mutations on a settling lot are
// refused so the stored record cannot diverge from the transfer outcome.
func (e *Engine) beginSettlement(id uint64) {
	e.settleMu.Lock()
	e.settling[id] = true
	e.settleMu.Unlock()
}

func (e *Engine) endSettlement(id uint64) {
	e.settleMu.Lock()
	delete(e.settling, id)
	e.settleMu.Unlock()
}

func (e *Engine) inSettlement(id uint64) bool {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()
	return e.settling[id]
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) debitAccount(addr [20]byte, amount *big.Int) error {
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

func (e *Engine) creditAccount(addr [20]byte, amount *big.Int) error {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.Ensure()
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return e.state.PutAccount(addr[:], acc)
}

// CreateLot mints a new asset and stores the for-sale lot in one call. The
// creator pays the configured mint price exactly; the fee accrues into the
// pooled balance. Validation failures abort with no state change.
func (e *Engine) CreateLot(creator [20]byte, title, description, date string, price *big.Int, uri string, lotType LotType, paid *big.Int) (*Lot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if date == "" {
		return nil, ErrEmptyDate
	}
	if description == "" {
		return nil, ErrEmptyDescription
	}
	if uri == "" {
		return nil, ErrEmptyURI
	}
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	if !lotType.Valid() || lotType == LotTypeNone {
		return nil, ErrInvalidLotType
	}
	fee, err := e.state.MintPrice()
	if err != nil {
		return nil, err
	}
	if cloneBigInt(paid).Cmp(fee) != 0 {
		return nil, ErrFeeMismatch
	}

	// Serialize issuance so id assignment and fee accrual stay consistent.
	e.createMu.Lock()
	defer e.createMu.Unlock()

	if fee.Sign() > 0 {
		if err := e.debitAccount(creator, fee); err != nil {
			return nil, err
		}
	}
	id, err := e.registry.Mint(creator, uri)
	if err != nil {
		if fee.Sign() > 0 {
			if crErr := e.creditAccount(creator, fee); crErr != nil {
				return nil, fmt.Errorf("market: mint failed (%v), refund failed: %w", err, crErr)
			}
		}
		return nil, fmt.Errorf("market: mint asset: %w", err)
	}

	// The lot record and its index entries are written under the asset's
	// stripe lock so a racing cancel or buy on the fresh id observes either
	// none or all of them.
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	// The bundled call carries the creator's authority: transfer approval
	// for the settlement identity is granted as part of issuance.
	if err := e.registry.Approve(creator, e.operator, id); err != nil {
		if fee.Sign() > 0 {
			if crErr := e.creditAccount(creator, fee); crErr != nil {
				return nil, fmt.Errorf("market: escrow approval failed (%v), refund failed: %w", err, crErr)
			}
		}
		return nil, fmt.Errorf("market: escrow approval: %w", err)
	}
	if fee.Sign() > 0 {
		e.poolMu.Lock()
		err = e.state.PoolCredit(fee)
		e.poolMu.Unlock()
		if err != nil {
			if crErr := e.creditAccount(creator, fee); crErr != nil {
				return nil, fmt.Errorf("market: fee accrual failed (%v), refund failed: %w", err, crErr)
			}
			return nil, err
		}
	}

	lot := &Lot{
		ID:          id,
		Title:       title,
		Description: description,
		Date:        date,
		MetadataURI: uri,
		Price:       amount,
		Seller:      creator,
		LotType:     lotType,
		Status:      LotForSale,
		CreatedAt:   e.now(),
	}
	if err := e.state.LotPut(lot); err != nil {
		return nil, e.unwindIssuance(err, creator, fee)
	}
	if err := e.state.PendingAdd(id); err != nil {
		lot.Status = LotOffMarket
		if putErr := e.state.LotPut(lot); putErr != nil {
			return nil, fmt.Errorf("market: index write failed (%v), lot unwind failed: %w", err, putErr)
		}
		return nil, e.unwindIssuance(err, creator, fee)
	}
	if err := e.state.SellerLotAdd(creator, id); err != nil {
		lot.Status = LotOffMarket
		if putErr := e.state.LotPut(lot); putErr != nil {
			return nil, fmt.Errorf("market: index write failed (%v), lot unwind failed: %w", err, putErr)
		}
		if remErr := e.state.PendingRemove(id); remErr != nil {
			return nil, fmt.Errorf("market: index write failed (%v), pending unwind failed: %w", err, remErr)
		}
		return nil, e.unwindIssuance(err, creator, fee)
	}
	e.emit(NewLotCreatedEvent(lot))
	return lot.Clone(), nil
}

// unwindIssuance reverses the fee movement of a failed CreateLot: the pool
// credit is taken back and the creator refunded. The cause is returned
// unwrapped so callers keep the original sentinel.
func (e *Engine) unwindIssuance(cause error, creator [20]byte, fee *big.Int) error {
	if fee.Sign() == 0 {
		return cause
	}
	e.poolMu.Lock()
	err := e.state.PoolDebit(fee)
	e.poolMu.Unlock()
	if err != nil {
		return fmt.Errorf("market: issuance failed (%v), pool unwind failed: %w", cause, err)
	}
	if err := e.creditAccount(creator, fee); err != nil {
		return fmt.Errorf("market: issuance failed (%v), refund failed: %w", cause, err)
	}
	return cause
}

// CancelLot takes a for-sale lot off market. The lot seller and the
// administrator are authorized; the seller index keeps the cancelled lot so
// it still shows up in FindMyLots.
func (e *Engine) CancelLot(caller [20]byte, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	lot, ok := e.state.LotGet(id)
	if !ok {
		return ErrLotNotFound
	}
	if caller != lot.Seller && caller != e.admin {
		return ErrNotOwner
	}
	if lot.Status != LotForSale {
		return ErrNotForSale
	}
	lot.Status = LotOffMarket
	if err := e.state.LotPut(lot); err != nil {
		return err
	}
	if err := e.state.PendingRemove(id); err != nil {
		return err
	}
	e.emit(NewLotCancelledEvent(lot))
	return nil
}

// UpdateLot applies a partial update. Only the seller may update; every
// supplied field is validated before anything is written, so an invalid
// discriminant rejects the whole call with no field changed.
func (e *Engine) UpdateLot(caller [20]byte, id uint64, upd *LotUpdate) (*Lot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	if e.inSettlement(id) {
		return nil, ErrSettlementInProgress
	}

	lot, ok := e.state.LotGet(id)
	if !ok {
		return nil, ErrLotNotFound
	}
	if caller != lot.Seller {
		return nil, ErrNotOwner
	}
	if upd.Empty() {
		return lot.Clone(), nil
	}

	// Validate the whole update before applying any field.
	if upd.Title != nil && *upd.Title == "" {
		return nil, ErrEmptyTitle
	}
	if upd.Date != nil && *upd.Date == "" {
		return nil, ErrEmptyDate
	}
	if upd.Description != nil && *upd.Description == "" {
		return nil, ErrEmptyDescription
	}
	if upd.MetadataURI != nil && *upd.MetadataURI == "" {
		return nil, ErrEmptyURI
	}
	if upd.Price != nil && upd.Price.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	if upd.LotType != nil && (!upd.LotType.Valid() || *upd.LotType == LotTypeNone) {
		return nil, ErrInvalidLotType
	}
	if upd.Status != nil && (!upd.Status.Valid() || *upd.Status == LotStatusNone) {
		return nil, ErrInvalidStatus
	}
	if upd.Status != nil && *upd.Status != lot.Status {
		// A sold lot changes hands; it returns to sale only through
		// RelistLot, under the new owner.
		if lot.Status == LotSold {
			return nil, ErrNotForSale
		}
		if *upd.Status == LotForSale {
			owner, err := e.registry.OwnerOf(id)
			if err != nil {
				return nil, fmt.Errorf("market: owner lookup: %w", err)
			}
			if owner != caller {
				return nil, ErrNotOwner
			}
		}
	}

	prevStatus := lot.Status
	changed := make([]string, 0, 7)
	next := lot.Clone()
	if upd.Title != nil && *upd.Title != next.Title {
		next.Title = *upd.Title
		changed = append(changed, "title")
	}
	if upd.Description != nil && *upd.Description != next.Description {
		next.Description = *upd.Description
		changed = append(changed, "description")
	}
	if upd.Date != nil && *upd.Date != next.Date {
		next.Date = *upd.Date
		changed = append(changed, "date")
	}
	if upd.MetadataURI != nil && *upd.MetadataURI != next.MetadataURI {
		next.MetadataURI = *upd.MetadataURI
		changed = append(changed, "metadataUri")
	}
	if upd.Price != nil && upd.Price.Cmp(next.Price) != 0 {
		next.Price = new(big.Int).Set(upd.Price)
		changed = append(changed, "price")
	}
	if upd.LotType != nil && *upd.LotType != next.LotType {
		next.LotType = *upd.LotType
		changed = append(changed, "lotType")
	}
	if upd.Status != nil && *upd.Status != next.Status {
		next.Status = *upd.Status
		changed = append(changed, "status")
	}
	if len(changed) == 0 {
		return lot.Clone(), nil
	}
	if next.Status == LotForSale && next.Price.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	if err := e.state.LotPut(next); err != nil {
		return nil, err
	}
	switch {
	case prevStatus == LotForSale && next.Status != LotForSale:
		if err := e.state.PendingRemove(id); err != nil {
			return nil, err
		}
	case prevStatus != LotForSale && next.Status == LotForSale:
		if err := e.state.PendingAdd(id); err != nil {
			return nil, err
		}
	}
	e.emit(NewLotUpdatedEvent(next, changed))
	return next.Clone(), nil
}

// BuyLot settles the atomic payment-for-ownership exchange. The lot is marked
// sold and removed from the pending index and the buyer is debited before the
// external registry transfer runs; the proceeds accrue into the pooled
// balance only once the transfer succeeded. A transfer failure rolls
// everything back.
func (e *Engine) BuyLot(buyer [20]byte, id uint64, paid *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	mu := e.lockFor(id)
	mu.Lock()

	lot, ok := e.state.LotGet(id)
	if !ok {
		mu.Unlock()
		return ErrLotNotFound
	}
	if lot.Status != LotForSale {
		mu.Unlock()
		return ErrNotForSale
	}
	if buyer == lot.Seller {
		mu.Unlock()
		return ErrSelfPurchase
	}
	price := cloneBigInt(lot.Price)
	if cloneBigInt(paid).Cmp(price) != 0 {
		mu.Unlock()
		return ErrPriceMismatch
	}

	// Effects before interactions: terminal status, index removal and the
	// buyer debit are persisted ahead of the registry call.
	if err := e.debitAccount(buyer, price); err != nil {
		mu.Unlock()
		return err
	}
	seller := lot.Seller
	lot.Status = LotSold
	if err := e.state.LotPut(lot); err != nil {
		if crErr := e.creditAccount(buyer, price); crErr != nil {
			mu.Unlock()
			return fmt.Errorf("market: sale write failed (%v), refund failed: %w", err, crErr)
		}
		mu.Unlock()
		return err
	}
	if err := e.state.PendingRemove(id); err != nil {
		lot.Status = LotForSale
		if putErr := e.state.LotPut(lot); putErr != nil {
			mu.Unlock()
			return fmt.Errorf("market: index write failed (%v), rollback failed: %w", err, putErr)
		}
		if crErr := e.creditAccount(buyer, price); crErr != nil {
			mu.Unlock()
			return fmt.Errorf("market: index write failed (%v), refund failed: %w", err, crErr)
		}
		mu.Unlock()
		return err
	}
	// The lot stays marked as settling across the external call so a relist
	// or update cannot slip in between the local commit and the transfer.
	e.beginSettlement(id)
	mu.Unlock()

	if err := e.registry.TransferFrom(seller, buyer, id); err != nil {
		mu.Lock()
		defer func() {
			e.endSettlement(id)
			mu.Unlock()
		}()
		stored, ok := e.state.LotGet(id)
		if !ok {
			return fmt.Errorf("market: transfer failed (%v), rollback failed: %w", err, ErrLotNotFound)
		}
		stored.Status = LotForSale
		if putErr := e.state.LotPut(stored); putErr != nil {
			return fmt.Errorf("market: transfer failed (%v), rollback failed: %w", err, putErr)
		}
		if addErr := e.state.PendingAdd(id); addErr != nil {
			return fmt.Errorf("market: transfer failed (%v), rollback failed: %w", err, addErr)
		}
		if crErr := e.creditAccount(buyer, price); crErr != nil {
			return fmt.Errorf("market: transfer failed (%v), refund failed: %w", err, crErr)
		}
		return fmt.Errorf("market: transfer ownership: %w", err)
	}
	e.endSettlement(id)

	e.poolMu.Lock()
	err := e.state.PoolCredit(price)
	e.poolMu.Unlock()
	if err != nil {
		return err
	}
	e.emit(NewLotSoldEvent(lot, buyer))
	return nil
}

// RelistLot returns a terminal lot to sale under a new seller, which must be
// the asset's current registry owner. This produces a fresh active listing;
// the sold or cancelled history is unaffected.
func (e *Engine) RelistLot(caller [20]byte, id uint64, price *big.Int) (*Lot, error) {
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
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	if e.inSettlement(id) {
		return nil, ErrSettlementInProgress
	}

	lot, ok := e.state.LotGet(id)
	if !ok {
		return nil, ErrLotNotFound
	}
	if lot.Status == LotForSale {
		return nil, ErrAlreadyListed
	}
	owner, err := e.registry.OwnerOf(id)
	if err != nil {
		return nil, fmt.Errorf("market: owner lookup: %w", err)
	}
	if owner != caller {
		return nil, ErrNotOwner
	}
	if err := e.registry.Approve(caller, e.operator, id); err != nil {
		return nil, fmt.Errorf("market: escrow approval: %w", err)
	}
	lot.Seller = caller
	lot.Price = amount
	lot.Status = LotForSale
	if err := e.state.LotPut(lot); err != nil {
		return nil, err
	}
	if err := e.state.PendingAdd(id); err != nil {
		return nil, err
	}
	if err := e.state.SellerLotAdd(caller, id); err != nil {
		return nil, err
	}
	e.emit(NewLotCreatedEvent(lot))
	return lot.Clone(), nil
}

// FindLot returns the stored lot by id.
func (e *Engine) FindLot(id uint64) (*Lot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lot, ok := e.state.LotGet(id)
	if !ok {
		return nil, ErrLotNotFound
	}
	return lot.Clone(), nil
}

// FindAllPending returns a snapshot of the lots currently for sale in
// ascending id order.
func (e *Engine) FindAllPending() ([]*Lot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.PendingIDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	lots := make([]*Lot, 0, len(ids))
	for _, id := range ids {
		lot, ok := e.state.LotGet(id)
		if !ok {
			return nil, fmt.Errorf("market: pending index references missing lot %d: %w", id, ErrLotNotFound)
		}
		lots = append(lots, lot.Clone())
	}
	return lots, nil
}

// PendingLotCount returns the size of the pending index.
func (e *Engine) PendingLotCount() (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	ids, err := e.state.PendingIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// FindMyLots returns every lot the caller has ever listed, including sold and
// cancelled ones, in ascending id order.
func (e *Engine) FindMyLots(caller [20]byte) ([]*Lot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.SellerLots(caller)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	lots := make([]*Lot, 0, len(ids))
	for _, id := range ids {
		lot, ok := e.state.LotGet(id)
		if !ok {
			return nil, fmt.Errorf("market: seller index references missing lot %d: %w", id, ErrLotNotFound)
		}
		lots = append(lots, lot.Clone())
	}
	return lots, nil
}

// MintPrice returns the current issuance fee.
func (e *Engine) MintPrice() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.MintPrice()
}

// PoolBalance returns the accrued pooled balance.
func (e *Engine) PoolBalance() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return e.state.PoolBalance()
}

// SetMintPrice replaces the issuance fee. Administrator only and
// non-retroactive: already-created lots are unaffected.
func (e *Engine) SetMintPrice(caller [20]byte, fee *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.admin {
		return ErrNotAdmin
	}
	amount := cloneBigInt(fee)
	if amount.Sign() < 0 {
		return ErrZeroPrice
	}
	return e.state.SetMintPrice(amount)
}

// WithdrawBalance drains the pooled balance to the recipient. The pool is
// zeroed before the recipient is credited so a reentrant withdrawal attempt
// finds nothing left to drain.
func (e *Engine) WithdrawBalance(caller [20]byte, recipient [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	if caller != e.admin {
		return nil, ErrNotAdmin
	}
	e.poolMu.Lock()
	amount, err := e.state.PoolDrain()
	e.poolMu.Unlock()
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, ErrNoBalance
	}
	if err := e.creditAccount(recipient, amount); err != nil {
		e.poolMu.Lock()
		defer e.poolMu.Unlock()
		if crErr := e.state.PoolCredit(amount); crErr != nil {
			return nil, fmt.Errorf("market: withdrawal credit failed (%v), restore failed: %w", err, crErr)
		}
		return nil, err
	}
	e.emit(NewBalanceWithdrawnEvent(recipient, amount.String()))
	return amount, nil
}
