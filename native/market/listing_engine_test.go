package market

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

func newTestListingEngine(t *testing.T) (*ListingEngine, *mockState, *mockRegistry, *capturingEmitter) {
	t.Helper()
	state := newMockState()
	registry := newMockRegistry()
	emitter := &capturingEmitter{}
	engine := NewListingEngine()
	engine.SetState(state)
	engine.SetRegistry(registry)
	engine.SetAdmin(testAdmin)
	engine.SetOperator(testOperator)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1700000000 })
	return engine, state, registry, emitter
}

// mintApproved mints an asset for the owner and escrows settlement approval,
// the precondition for listing.
func mintApproved(t *testing.T, registry *mockRegistry, owner [20]byte) uint64 {
	t.Helper()
	id, err := registry.Mint(owner, "ipfs://asset")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := registry.Approve(owner, testOperator, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return id
}

func TestListItem(t *testing.T) {
	engine, _, registry, emitter := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)

	if _, err := engine.ListItem(testSeller, id, big.NewInt(0)); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("zero price: expected ErrZeroPrice, got %v", err)
	}
	if _, err := engine.ListItem(testStranger, id, big.NewInt(100)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner: expected ErrNotOwner, got %v", err)
	}

	listing, err := engine.ListItem(testSeller, id, big.NewInt(100))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listing.AssetID != id || listing.Seller != testSeller || listing.Price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	evt := emitter.lastEvent(t)
	if evt.Type != EventTypeItemListed || evt.Attributes["price"] != "100" {
		t.Fatalf("unexpected listed event: %v", evt.Attributes)
	}
	if _, err := engine.ListItem(testSeller, id, big.NewInt(200)); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("duplicate: expected ErrAlreadyListed, got %v", err)
	}
}

func TestListItemRequiresApproval(t *testing.T) {
	engine, _, registry, _ := newTestListingEngine(t)
	id, err := registry.Mint(testSeller, "ipfs://asset")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("unapproved asset: expected ErrNotApproved, got %v", err)
	}
	if err := registry.Approve(testSeller, testOperator, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); err != nil {
		t.Fatalf("list after approval: %v", err)
	}
}

func TestCancelListing(t *testing.T) {
	engine, state, registry, emitter := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := engine.CancelListing(testStranger, id); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger cancel: expected ErrNotOwner, got %v", err)
	}
	if err := engine.CancelListing(testSeller, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := state.listings[id]; ok {
		t.Fatalf("cancelled listing must be deleted")
	}
	if evt := emitter.lastEvent(t); evt.Type != EventTypeItemCancelled {
		t.Fatalf("expected %s event, got %s", EventTypeItemCancelled, evt.Type)
	}
	if err := engine.CancelListing(testSeller, id); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("double cancel: expected ErrListingNotFound, got %v", err)
	}
}

func TestCancelListingByAdmin(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := engine.CancelListing(testAdmin, id); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if _, ok := state.listings[id]; ok {
		t.Fatalf("admin cancel must delete the listing")
	}
}

func TestUpdateListing(t *testing.T) {
	engine, _, registry, emitter := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}

	if _, err := engine.UpdateListing(testStranger, id, big.NewInt(300)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-seller update: expected ErrNotOwner, got %v", err)
	}
	if _, err := engine.UpdateListing(testSeller, id, big.NewInt(0)); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("zero price update: expected ErrZeroPrice, got %v", err)
	}
	if _, err := engine.UpdateListing(testSeller, 99, big.NewInt(300)); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("unknown listing: expected ErrListingNotFound, got %v", err)
	}

	updated, err := engine.UpdateListing(testSeller, id, big.NewInt(300))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Price.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("price should change, got %s", updated.Price)
	}
	// A re-price announces the listing again.
	evt := emitter.lastEvent(t)
	if evt.Type != EventTypeItemListed || evt.Attributes["price"] != "300" {
		t.Fatalf("unexpected re-list event: %v", evt.Attributes)
	}
}

func TestBuyItem(t *testing.T) {
	engine, state, registry, emitter := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	price := big.NewInt(2500)
	if _, err := engine.ListItem(testSeller, id, price); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(3000))

	if err := engine.BuyItem(testBuyer, 99, price); !errors.Is(err, ErrNotForSale) {
		t.Fatalf("unknown asset: expected ErrNotForSale, got %v", err)
	}
	if err := engine.BuyItem(testSeller, id, price); !errors.Is(err, ErrSelfPurchase) {
		t.Fatalf("self purchase: expected ErrSelfPurchase, got %v", err)
	}
	if err := engine.BuyItem(testBuyer, id, big.NewInt(2400)); !errors.Is(err, ErrPriceMismatch) {
		t.Fatalf("underpayment: expected ErrPriceMismatch, got %v", err)
	}

	if err := engine.BuyItem(testBuyer, id, price); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, ok := state.listings[id]; ok {
		t.Fatalf("bought listing must be deleted")
	}
	if state.balance(testBuyer).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("buyer should be debited, balance %s", state.balance(testBuyer))
	}
	// Proceeds go straight to the seller, no pooling.
	if state.balance(testSeller).Cmp(price) != 0 {
		t.Fatalf("seller should be credited the price, balance %s", state.balance(testSeller))
	}
	owner, _ := registry.OwnerOf(id)
	if owner != testBuyer {
		t.Fatalf("ownership should move to the buyer")
	}
	evt := emitter.lastEvent(t)
	if evt.Type != EventTypeItemBought || evt.Attributes["buyer"] == "" {
		t.Fatalf("unexpected bought event: %v", evt.Attributes)
	}
	if err := engine.BuyItem(testStranger, id, price); !errors.Is(err, ErrNotForSale) {
		t.Fatalf("double buy: expected ErrNotForSale, got %v", err)
	}
}

func TestBuyItemInsufficientFunds(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	if _, err := engine.ListItem(testSeller, id, big.NewInt(2500)); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(100))
	if err := engine.BuyItem(testBuyer, id, big.NewInt(2500)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, ok := state.listings[id]; !ok {
		t.Fatalf("failed buy must keep the listing")
	}
}

func TestBuyItemTransferFailureRestores(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	price := big.NewInt(2500)
	if _, err := engine.ListItem(testSeller, id, price); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(3000))
	registry.transferErr = fmt.Errorf("registry offline")

	if err := engine.BuyItem(testBuyer, id, price); err == nil {
		t.Fatalf("transfer failure must surface")
	}
	if _, ok := state.listings[id]; !ok {
		t.Fatalf("rollback should restore the listing")
	}
	if state.balance(testBuyer).Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("rollback should refund the buyer, balance %s", state.balance(testBuyer))
	}
	if state.balance(testSeller).Sign() != 0 {
		t.Fatalf("failed sale must not credit the seller")
	}

	registry.transferErr = nil
	if err := engine.BuyItem(testBuyer, id, price); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestRelistByNewOwner(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	price := big.NewInt(2500)
	if _, err := engine.ListItem(testSeller, id, price); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(3000))
	if err := engine.BuyItem(testBuyer, id, price); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// The transfer cleared the approval, so the new owner re-approves first.
	if _, err := engine.ListItem(testBuyer, id, big.NewInt(4000)); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("relist without approval: expected ErrNotApproved, got %v", err)
	}
	if err := registry.Approve(testBuyer, testOperator, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	listing, err := engine.ListItem(testBuyer, id, big.NewInt(4000))
	if err != nil {
		t.Fatalf("relist: %v", err)
	}
	if listing.Seller != testBuyer || listing.Price.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("unexpected relisting: %+v", listing)
	}
}

func TestGetListingZeroValue(t *testing.T) {
	engine, _, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}

	listing := engine.GetListing(id)
	if listing.Price.Cmp(big.NewInt(100)) != 0 || listing.Seller != testSeller {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	absent := engine.GetListing(999)
	if absent.AssetID != 999 || absent.Price.Sign() != 0 || absent.Seller != ([20]byte{}) {
		t.Fatalf("absent listing should be zero-valued: %+v", absent)
	}
}

func TestListedIDsSorted(t *testing.T) {
	engine, _, registry, _ := newTestListingEngine(t)
	for i := 0; i < 3; i++ {
		id := mintApproved(t, registry, testSeller)
		if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	ids, err := engine.ListedIDs()
	if err != nil {
		t.Fatalf("listed ids: %v", err)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("ids should be ascending, got %v", ids)
	}
}

func TestListingEnginePaused(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	if _, err := engine.ListItem(testSeller, id, big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(1000))
	engine.SetPauses(pauseAll{})

	if _, err := engine.ListItem(testSeller, id, big.NewInt(200)); err == nil {
		t.Fatalf("paused list must fail")
	}
	if err := engine.BuyItem(testBuyer, id, big.NewInt(100)); err == nil {
		t.Fatalf("paused buy must fail")
	}
	if err := engine.CancelListing(testSeller, id); err == nil {
		t.Fatalf("paused cancel must fail")
	}
	if got := engine.GetListing(id); got.Price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("paused read should still work")
	}
}

func TestListItemDuringSettlementRefused(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	price := big.NewInt(2500)
	if _, err := engine.ListItem(testSeller, id, price); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(3000))

	var relistErr error
	registry.onTransfer = func(from, to [20]byte, assetID uint64) {
		_, relistErr = engine.ListItem(testSeller, assetID, big.NewInt(9000))
	}
	if err := engine.BuyItem(testBuyer, id, price); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !errors.Is(relistErr, ErrSettlementInProgress) {
		t.Fatalf("list mid-transfer: expected ErrSettlementInProgress, got %v", relistErr)
	}
	if _, ok := state.listings[id]; ok {
		t.Fatalf("no listing may survive the settlement")
	}
	if owner, _ := registry.OwnerOf(id); owner != testBuyer {
		t.Fatalf("buyer should own the asset")
	}
}

func TestBuyItemSellerCreditedBeforeTransfer(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	price := big.NewInt(2500)
	if _, err := engine.ListItem(testSeller, id, price); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(3000))

	var sellerAt, buyerAt *big.Int
	registry.onTransfer = func(from, to [20]byte, assetID uint64) {
		sellerAt = state.balance(testSeller)
		buyerAt = state.balance(testBuyer)
	}
	if err := engine.BuyItem(testBuyer, id, price); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if sellerAt.Cmp(price) != 0 {
		t.Fatalf("seller must be paid before the transfer, balance %s", sellerAt)
	}
	if buyerAt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("buyer must be debited before the transfer, balance %s", buyerAt)
	}
}

func TestBuyItemDeleteFailureRollsBack(t *testing.T) {
	engine, state, registry, _ := newTestListingEngine(t)
	id := mintApproved(t, registry, testSeller)
	price := big.NewInt(2500)
	if _, err := engine.ListItem(testSeller, id, price); err != nil {
		t.Fatalf("list: %v", err)
	}
	state.fund(testBuyer, big.NewInt(3000))
	state.listingDeleteErr = fmt.Errorf("disk full")

	if err := engine.BuyItem(testBuyer, id, price); err == nil {
		t.Fatalf("delete failure must surface")
	}
	if _, ok := state.listings[id]; !ok {
		t.Fatalf("listing must survive the failed delete")
	}
	if state.balance(testBuyer).Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("buyer must be refunded, balance %s", state.balance(testBuyer))
	}
	if state.balance(testSeller).Sign() != 0 {
		t.Fatalf("seller payment must be reversed, balance %s", state.balance(testSeller))
	}
	if owner, _ := registry.OwnerOf(id); owner != testSeller {
		t.Fatalf("ownership must be unaffected")
	}
	if err := engine.BuyItem(testBuyer, id, price); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}
