package market

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestLotEventAttributes(t *testing.T) {
	lot := &Lot{
		ID:      7,
		Title:   "Nocturne",
		Date:    "2024-03-01",
		Price:   big.NewInt(500),
		Seller:  newTestAddress(0x03),
		LotType: LotTypePhotography,
		Status:  LotForSale,
	}
	evt := NewLotCreatedEvent(lot)
	if evt.Type != EventTypeLotCreated {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	want := map[string]string{
		"lotId":   "7",
		"title":   "Nocturne",
		"seller":  hex.EncodeToString(lot.Seller[:]),
		"price":   "500",
		"lotType": "photography",
		"status":  "forSale",
	}
	for key, value := range want {
		if evt.Attributes[key] != value {
			t.Fatalf("attribute %s: want %q, got %q", key, value, evt.Attributes[key])
		}
	}
	if _, ok := evt.Attributes["changed"]; ok {
		t.Fatalf("created events carry no changed attribute")
	}
}

func TestLotUpdatedEventSortsChanged(t *testing.T) {
	lot := &Lot{ID: 1, Title: "t", Date: "2024", Price: big.NewInt(10), Seller: newTestAddress(0x03), LotType: LotTypeArt, Status: LotForSale}
	evt := NewLotUpdatedEvent(lot, []string{"price", "date", "title"})
	if evt.Attributes["changed"] != "date,price,title" {
		t.Fatalf("changed should be sorted, got %q", evt.Attributes["changed"])
	}
}

func TestLotSoldEventCarriesBuyer(t *testing.T) {
	lot := &Lot{ID: 1, Title: "t", Date: "2024", Price: big.NewInt(10), Seller: newTestAddress(0x03), LotType: LotTypeArt, Status: LotSold}
	buyer := newTestAddress(0x04)
	evt := NewLotSoldEvent(lot, buyer)
	if evt.Attributes["buyer"] != hex.EncodeToString(buyer[:]) {
		t.Fatalf("sold event should carry the buyer, got %v", evt.Attributes)
	}
}

func TestListingEventAttributes(t *testing.T) {
	listing := &Listing{AssetID: 9, Price: big.NewInt(300), Seller: newTestAddress(0x03)}
	evt := NewItemListedEvent(listing)
	if evt.Type != EventTypeItemListed || evt.Attributes["assetId"] != "9" || evt.Attributes["price"] != "300" {
		t.Fatalf("unexpected listed event: %v", evt.Attributes)
	}
	bought := NewItemBoughtEvent(listing, newTestAddress(0x04))
	if bought.Type != EventTypeItemBought || bought.Attributes["buyer"] == "" {
		t.Fatalf("unexpected bought event: %v", bought.Attributes)
	}
}

func TestBalanceWithdrawnEvent(t *testing.T) {
	recipient := newTestAddress(0x01)
	evt := NewBalanceWithdrawnEvent(recipient, "5100")
	if evt.Type != EventTypeBalanceWithdrawn {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["recipient"] != hex.EncodeToString(recipient[:]) || evt.Attributes["amount"] != "5100" {
		t.Fatalf("unexpected attributes: %v", evt.Attributes)
	}
}

func TestMarketEventCarrier(t *testing.T) {
	evt := marketEvent{evt: NewBalanceWithdrawnEvent(newTestAddress(0x01), "1")}
	if evt.EventType() != EventTypeBalanceWithdrawn {
		t.Fatalf("carrier should expose the payload type")
	}
	var empty marketEvent
	if empty.EventType() != "" {
		t.Fatalf("empty carrier should report an empty type")
	}
}
