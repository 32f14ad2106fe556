package state

import (
	"math/big"
	"testing"

	"kisx/core/types"
	"kisx/native/market"
	"kisx/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestLotRoundTrip(t *testing.T) {
	m := newTestManager()
	lot := &market.Lot{
		ID:          3,
		Title:       "Nocturne",
		Description: "oil on canvas",
		Date:        "2024-03-01",
		MetadataURI: "ipfs://nocturne",
		Price:       big.NewInt(500),
		Seller:      testAddr(0x03),
		LotType:     market.LotTypeArt,
		Status:      market.LotForSale,
		CreatedAt:   1700000000,
	}
	if err := m.LotPut(lot); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := m.LotGet(3)
	if !ok {
		t.Fatalf("lot should exist")
	}
	if loaded.Title != lot.Title || loaded.Price.Cmp(lot.Price) != 0 ||
		loaded.Seller != lot.Seller || loaded.LotType != lot.LotType ||
		loaded.Status != lot.Status || loaded.CreatedAt != lot.CreatedAt {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if _, ok := m.LotGet(99); ok {
		t.Fatalf("unknown lot should not exist")
	}
}

func TestLotPutRejectsInvalid(t *testing.T) {
	m := newTestManager()
	bad := &market.Lot{ID: 1, Title: "t", Price: big.NewInt(10), LotType: market.LotTypeNone, Status: market.LotForSale}
	if err := m.LotPut(bad); err == nil {
		t.Fatalf("sentinel lot type must be rejected")
	}
	if _, ok := m.LotGet(1); ok {
		t.Fatalf("rejected lot must not be stored")
	}
}

func TestListingRoundTripAndIndex(t *testing.T) {
	m := newTestManager()
	listing := &market.Listing{AssetID: 5, Price: big.NewInt(100), Seller: testAddr(0x03), CreatedAt: 1700000000}
	if err := m.ListingPut(listing); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := m.ListingGet(5)
	if !ok || loaded.Price.Cmp(big.NewInt(100)) != 0 || loaded.Seller != listing.Seller {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	ids, err := m.ListingIDs()
	if err != nil || len(ids) != 1 || ids[0] != 5 {
		t.Fatalf("listing index: %v (%v)", ids, err)
	}
	// Re-put does not duplicate the index entry.
	if err := m.ListingPut(listing); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	ids, _ = m.ListingIDs()
	if len(ids) != 1 {
		t.Fatalf("index must deduplicate, got %v", ids)
	}
	if err := m.ListingDelete(5); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.ListingGet(5); ok {
		t.Fatalf("deleted listing should not exist")
	}
	ids, _ = m.ListingIDs()
	if len(ids) != 0 {
		t.Fatalf("delete must clear the index entry, got %v", ids)
	}
}

func TestPendingIndex(t *testing.T) {
	m := newTestManager()
	for _, id := range []uint64{1, 2, 1} {
		if err := m.PendingAdd(id); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	ids, err := m.PendingIDs()
	if err != nil || len(ids) != 2 {
		t.Fatalf("index must deduplicate, got %v (%v)", ids, err)
	}
	if err := m.PendingRemove(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, _ = m.PendingIDs()
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("remove should leave id 2, got %v", ids)
	}
	// Removing an absent id is a no-op.
	if err := m.PendingRemove(42); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
}

func TestSellerIndex(t *testing.T) {
	m := newTestManager()
	seller := testAddr(0x03)
	other := testAddr(0x04)
	for _, id := range []uint64{1, 2} {
		if err := m.SellerLotAdd(seller, id); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	ids, err := m.SellerLots(seller)
	if err != nil || len(ids) != 2 {
		t.Fatalf("seller lots: %v (%v)", ids, err)
	}
	ids, _ = m.SellerLots(other)
	if len(ids) != 0 {
		t.Fatalf("other seller should have no lots, got %v", ids)
	}
}

func TestMintPricePersistence(t *testing.T) {
	m := newTestManager()
	fee, err := m.MintPrice()
	if err != nil || fee.Sign() != 0 {
		t.Fatalf("unset fee should be zero, got %s (%v)", fee, err)
	}
	if err := m.SetMintPrice(big.NewInt(-1)); err == nil {
		t.Fatalf("negative fee must be rejected")
	}
	if err := m.SetMintPrice(big.NewInt(42)); err != nil {
		t.Fatalf("set: %v", err)
	}
	fee, _ = m.MintPrice()
	if fee.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("fee should persist, got %s", fee)
	}
}

func TestPoolAccounting(t *testing.T) {
	m := newTestManager()
	if err := m.PoolCredit(big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.PoolCredit(big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, _ := m.PoolBalance()
	if balance.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("balance should be 150, got %s", balance)
	}
	if err := m.PoolDebit(big.NewInt(200)); err == nil {
		t.Fatalf("underflow debit must be rejected")
	}
	if err := m.PoolDebit(big.NewInt(30)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	drained, err := m.PoolDrain()
	if err != nil || drained.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("drain should return 120, got %s (%v)", drained, err)
	}
	balance, _ = m.PoolBalance()
	if balance.Sign() != 0 {
		t.Fatalf("drained pool should be zero, got %s", balance)
	}
	drained, _ = m.PoolDrain()
	if drained.Sign() != 0 {
		t.Fatalf("second drain should return zero, got %s", drained)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager()
	addr := testAddr(0x04)
	acc, err := m.GetAccount(addr[:])
	if err != nil || acc.Balance.Sign() != 0 {
		t.Fatalf("absent account should be zero-balance, got %+v (%v)", acc, err)
	}
	acc.Nonce = 7
	acc.Balance = big.NewInt(999)
	if err := m.PutAccount(addr[:], acc); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, err := m.GetAccount(addr[:])
	if err != nil || loaded.Nonce != 7 || loaded.Balance.Cmp(big.NewInt(999)) != 0 {
		t.Fatalf("round trip mismatch: %+v (%v)", loaded, err)
	}
	if err := m.PutAccount(addr[:], &types.Account{Balance: big.NewInt(-1)}); err == nil {
		t.Fatalf("negative balance must be rejected")
	}
}

// TestEngineOverManager runs the lot engine against the real persistence
// layer instead of the map mock.
func TestEngineOverManager(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)

	admin := testAddr(0x01)
	operator := testAddr(0x02)
	seller := testAddr(0x03)
	buyer := testAddr(0x04)

	engine := market.NewEngine()
	engine.SetState(m)
	engine.SetRegistry(&memRegistry{owners: map[uint64][20]byte{}, approved: map[uint64][20]byte{}})
	engine.SetAdmin(admin)
	engine.SetOperator(operator)

	if err := m.SetMintPrice(big.NewInt(10)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := m.PutAccount(seller[:], &types.Account{Balance: big.NewInt(100)}); err != nil {
		t.Fatalf("fund seller: %v", err)
	}
	if err := m.PutAccount(buyer[:], &types.Account{Balance: big.NewInt(1000)}); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}

	lot, err := engine.CreateLot(seller, "Nocturne", "oil", "2024", big.NewInt(500), "ipfs://n", market.LotTypeArt, big.NewInt(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.BuyLot(buyer, lot.ID, big.NewInt(500)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	stored, ok := m.LotGet(lot.ID)
	if !ok || stored.Status != market.LotSold {
		t.Fatalf("sold lot should persist, got %+v", stored)
	}
	pool, _ := m.PoolBalance()
	if pool.Cmp(big.NewInt(510)) != 0 {
		t.Fatalf("pool should hold fee+price, got %s", pool)
	}
	amount, err := engine.WithdrawBalance(admin, admin)
	if err != nil || amount.Cmp(big.NewInt(510)) != 0 {
		t.Fatalf("withdraw: %s (%v)", amount, err)
	}
	acc, _ := m.GetAccount(admin[:])
	if acc.Balance.Cmp(big.NewInt(510)) != 0 {
		t.Fatalf("admin should hold the drained pool, got %s", acc.Balance)
	}
}

type memRegistry struct {
	owners   map[uint64][20]byte
	approved map[uint64][20]byte
	next     uint64
}

func (r *memRegistry) Mint(owner [20]byte, uri string) (uint64, error) {
	id := r.next
	r.next++
	r.owners[id] = owner
	return id, nil
}

func (r *memRegistry) OwnerOf(id uint64) ([20]byte, error) {
	return r.owners[id], nil
}

func (r *memRegistry) Approve(owner, operator [20]byte, id uint64) error {
	r.approved[id] = operator
	return nil
}

func (r *memRegistry) TransferFrom(from, to [20]byte, id uint64) error {
	r.owners[id] = to
	delete(r.approved, id)
	return nil
}

func (r *memRegistry) IsApprovedFor(operator [20]byte, id uint64) (bool, error) {
	return r.approved[id] == operator, nil
}
