package market

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"kisx/core/types"
)

const (
	EventTypeLotCreated       = "market.lot.created"
	EventTypeLotCancelled     = "market.lot.cancelled"
	EventTypeLotUpdated       = "market.lot.updated"
	EventTypeLotSold          = "market.lot.sold"
	EventTypeItemListed       = "market.item.listed"
	EventTypeItemCancelled    = "market.item.cancelled"
	EventTypeItemBought       = "market.item.bought"
	EventTypeBalanceWithdrawn = "market.balance.withdrawn"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// NewLotCreatedEvent returns the canonical payload for a freshly minted lot.
func NewLotCreatedEvent(l *Lot) *types.Event { return newLotEvent(EventTypeLotCreated, l, nil) }

// NewLotCancelledEvent returns the payload emitted when a lot is taken off
// market by its seller or the administrator.
func NewLotCancelledEvent(l *Lot) *types.Event { return newLotEvent(EventTypeLotCancelled, l, nil) }

// NewLotUpdatedEvent returns the payload for a partial lot update; changed
// names the fields that were applied.
func NewLotUpdatedEvent(l *Lot, changed []string) *types.Event {
	return newLotEvent(EventTypeLotUpdated, l, changed)
}

// NewLotSoldEvent returns the payload for a settled sale of a lot.
func NewLotSoldEvent(l *Lot, buyer [20]byte) *types.Event {
	evt := newLotEvent(EventTypeLotSold, l, nil)
	evt.Attributes["buyer"] = hex.EncodeToString(buyer[:])
	return evt
}

// NewItemListedEvent returns the payload emitted when a standalone listing is
// created or re-priced.
func NewItemListedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeItemListed, l) }

// NewItemCancelledEvent returns the payload for a deleted standalone listing.
func NewItemCancelledEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeItemCancelled, l)
}

// NewItemBoughtEvent returns the payload for a settled standalone purchase.
func NewItemBoughtEvent(l *Listing, buyer [20]byte) *types.Event {
	evt := newListingEvent(EventTypeItemBought, l)
	evt.Attributes["buyer"] = hex.EncodeToString(buyer[:])
	return evt
}

// NewBalanceWithdrawnEvent returns the payload for an administrator pool
// withdrawal.
func NewBalanceWithdrawnEvent(recipient [20]byte, amount string) *types.Event {
	return &types.Event{Type: EventTypeBalanceWithdrawn, Attributes: map[string]string{
		"recipient": hex.EncodeToString(recipient[:]),
		"amount":    amount,
	}}
}

func newLotEvent(eventType string, l *Lot, changed []string) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeLot(l)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["lotId"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["title"] = sanitized.Title
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["price"] = sanitized.Price.String()
	attrs["lotType"] = sanitized.LotType.String()
	attrs["status"] = sanitized.Status.String()
	if len(changed) > 0 {
		sorted := append([]string(nil), changed...)
		sort.Strings(sorted)
		attrs["changed"] = strings.Join(sorted, ",")
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["assetId"] = strconv.FormatUint(l.AssetID, 10)
	attrs["seller"] = hex.EncodeToString(l.Seller[:])
	if l.Price != nil {
		attrs["price"] = l.Price.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
