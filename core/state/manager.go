package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"kisx/core/types"
	"kisx/native/market"
	"kisx/storage"
)

var (
	lotRecordPrefix     = []byte("market/lot/")
	listingRecordPrefix = []byte("market/listing/")
	accountPrefix       = []byte("market/account/")
	sellerIndexPrefix   = []byte("market/seller/")
	pendingIndexKey     = []byte("market/index/pending")
	listingIndexKey     = []byte("market/index/listed")
	mintPriceKey        = []byte("market/admin/mintprice")
	poolBalanceKey      = []byte("market/admin/pool")
)

// Manager persists market state in a key-value store. It implements the
// state interfaces of both engine flavors. Record keys are keccak hashes of
// a prefix plus the record identifier; values are RLP encoded.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func lotStorageKey(id uint64) []byte {
	buf := make([]byte, len(lotRecordPrefix)+8)
	copy(buf, lotRecordPrefix)
	putUint64(buf[len(lotRecordPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func listingStorageKey(id uint64) []byte {
	buf := make([]byte, len(listingRecordPrefix)+8)
	copy(buf, listingRecordPrefix)
	putUint64(buf[len(listingRecordPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func accountStorageKey(addr []byte) []byte {
	buf := make([]byte, 0, len(accountPrefix)+len(addr))
	buf = append(buf, accountPrefix...)
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func sellerIndexKey(seller [20]byte) []byte {
	buf := make([]byte, 0, len(sellerIndexPrefix)+len(seller))
	buf = append(buf, sellerIndexPrefix...)
	buf = append(buf, seller[:]...)
	return ethcrypto.Keccak256(buf)
}

func putUint64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

// storedLot mirrors market.Lot with RLP-friendly field types.
type storedLot struct {
	ID          uint64
	Title       string
	Description string
	Date        string
	MetadataURI string
	Price       *big.Int
	Seller      [20]byte
	LotType     uint8
	Status      uint8
	CreatedAt   uint64
}

func newStoredLot(l *market.Lot) *storedLot {
	price := big.NewInt(0)
	if l.Price != nil {
		price = new(big.Int).Set(l.Price)
	}
	return &storedLot{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Date:        l.Date,
		MetadataURI: l.MetadataURI,
		Price:       price,
		Seller:      l.Seller,
		LotType:     uint8(l.LotType),
		Status:      uint8(l.Status),
		CreatedAt:   uint64(l.CreatedAt),
	}
}

func (s *storedLot) lot() *market.Lot {
	return &market.Lot{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		Date:        s.Date,
		MetadataURI: s.MetadataURI,
		Price:       new(big.Int).Set(s.Price),
		Seller:      s.Seller,
		LotType:     market.LotType(s.LotType),
		Status:      market.LotStatus(s.Status),
		CreatedAt:   int64(s.CreatedAt),
	}
}

type storedListing struct {
	AssetID   uint64
	Price     *big.Int
	Seller    [20]byte
	CreatedAt uint64
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// LotPut sanitizes and persists the lot record.
func (m *Manager) LotPut(l *market.Lot) error {
	sanitized, err := market.SanitizeLot(l)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredLot(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode lot: %w", err)
	}
	return m.db.Put(lotStorageKey(sanitized.ID), encoded)
}

// LotGet loads a lot record by id.
func (m *Manager) LotGet(id uint64) (*market.Lot, bool) {
	raw, err := m.db.Get(lotStorageKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedLot
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return stored.lot(), true
}

// ListingPut sanitizes and persists a standalone listing, maintaining the
// listed-id index.
func (m *Manager) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	price := new(big.Int).Set(sanitized.Price)
	encoded, err := rlp.EncodeToBytes(&storedListing{
		AssetID:   sanitized.AssetID,
		Price:     price,
		Seller:    sanitized.Seller,
		CreatedAt: uint64(sanitized.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("state: encode listing: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Put(listingStorageKey(sanitized.AssetID), encoded); err != nil {
		return err
	}
	return m.indexAdd(listingIndexKey, sanitized.AssetID)
}

// ListingGet loads a standalone listing.
func (m *Manager) ListingGet(id uint64) (*market.Listing, bool) {
	raw, err := m.db.Get(listingStorageKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedListing
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return &market.Listing{
		AssetID:   stored.AssetID,
		Price:     new(big.Int).Set(stored.Price),
		Seller:    stored.Seller,
		CreatedAt: int64(stored.CreatedAt),
	}, true
}

// ListingDelete removes the listing record and its index entry.
func (m *Manager) ListingDelete(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Delete(listingStorageKey(id)); err != nil {
		return err
	}
	return m.indexRemove(listingIndexKey, id)
}

// ListingIDs returns the ids of all stored listings.
func (m *Manager) ListingIDs() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLoad(listingIndexKey)
}

// PendingAdd inserts the id into the pending index.
func (m *Manager) PendingAdd(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexAdd(pendingIndexKey, id)
}

// PendingRemove drops the id from the pending index.
func (m *Manager) PendingRemove(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexRemove(pendingIndexKey, id)
}

// PendingIDs returns the ids currently marked for sale.
func (m *Manager) PendingIDs() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLoad(pendingIndexKey)
}

// SellerLotAdd records that the seller listed the lot. Ids are kept forever
// so terminal lots still appear when the seller enumerates their lots.
func (m *Manager) SellerLotAdd(seller [20]byte, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexAdd(sellerIndexKey(seller), id)
}

// SellerLots returns every lot id the seller ever listed.
func (m *Manager) SellerLots(seller [20]byte) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLoad(sellerIndexKey(seller))
}

func (m *Manager) indexLoad(key []byte) ([]uint64, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, fmt.Errorf("state: decode index: %w", err)
	}
	return ids, nil
}

func (m *Manager) indexStore(key []byte, ids []uint64) error {
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return fmt.Errorf("state: encode index: %w", err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) indexAdd(key []byte, id uint64) error {
	ids, err := m.indexLoad(key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return m.indexStore(key, append(ids, id))
}

func (m *Manager) indexRemove(key []byte, id uint64) error {
	ids, err := m.indexLoad(key)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return m.indexStore(key, out)
}

// MintPrice returns the configured issuance fee, zero when unset.
func (m *Manager) MintPrice() (*big.Int, error) {
	return m.loadBig(mintPriceKey)
}

// SetMintPrice stores the issuance fee.
func (m *Manager) SetMintPrice(fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return fmt.Errorf("state: mint price must be non-negative")
	}
	return m.storeBig(mintPriceKey, fee)
}

// PoolBalance returns the accrued pooled balance.
func (m *Manager) PoolBalance() (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadBig(poolBalanceKey)
}

// PoolCredit adds the amount to the pooled balance.
func (m *Manager) PoolCredit(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: pool credit must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.loadBig(poolBalanceKey)
	if err != nil {
		return err
	}
	return m.storeBig(poolBalanceKey, new(big.Int).Add(current, amount))
}

// PoolDebit subtracts the amount from the pooled balance.
func (m *Manager) PoolDebit(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: pool debit must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.loadBig(poolBalanceKey)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("state: pool balance underflow")
	}
	return m.storeBig(poolBalanceKey, new(big.Int).Sub(current, amount))
}

// PoolDrain atomically reads and zeroes the pooled balance, returning the
// previous amount.
func (m *Manager) PoolDrain() (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.loadBig(poolBalanceKey)
	if err != nil {
		return nil, err
	}
	if err := m.storeBig(poolBalanceKey, big.NewInt(0)); err != nil {
		return nil, err
	}
	return current, nil
}

func (m *Manager) loadBig(key []byte) (*big.Int, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(raw, value); err != nil {
		return nil, fmt.Errorf("state: decode amount: %w", err)
	}
	return value, nil
}

func (m *Manager) storeBig(key []byte, value *big.Int) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode amount: %w", err)
	}
	return m.db.Put(key, encoded)
}

// GetAccount loads the account for the address, returning a zero-balance
// account when none is stored.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	raw, err := m.db.Get(accountStorageKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: new(big.Int).Set(stored.Balance)}, nil
}

// PutAccount persists the account record.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	account = account.Ensure()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:   account.Nonce,
		Balance: new(big.Int).Set(account.Balance),
	})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountStorageKey(addr), encoded)
}
