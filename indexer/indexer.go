// Package indexer persists the market's event stream into a relational store
// so operators can query sale and withdrawal history without replaying the
// engine state. It consumes the same notifications external indexers receive.
package indexer

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"kisx/core/events"
	"kisx/core/types"
	"kisx/native/market"
)

// Indexer implements events.Emitter and records market events in SQLite.
type Indexer struct {
	db  *gorm.DB
	log *slog.Logger
}

type eventCarrier interface {
	Event() *types.Event
}

// Open creates or opens the index database at path and migrates the schema.
func Open(path string, log *slog.Logger) (*Indexer, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SaleRecord{}, &ListingRecord{}, &WithdrawalRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: db, log: log}, nil
}

// Emit implements events.Emitter. Indexing failures are logged, never
// propagated: the index is derived state and must not block settlement.
func (ix *Indexer) Emit(evt events.Event) {
	if ix == nil || evt == nil {
		return
	}
	carrier, ok := evt.(eventCarrier)
	if !ok || carrier.Event() == nil {
		return
	}
	payload := carrier.Event()
	var err error
	switch payload.Type {
	case market.EventTypeLotSold:
		err = ix.recordSale(payload, "lot")
	case market.EventTypeItemBought:
		err = ix.recordSale(payload, "item")
	case market.EventTypeLotCreated, market.EventTypeLotCancelled, market.EventTypeLotUpdated,
		market.EventTypeItemListed, market.EventTypeItemCancelled:
		err = ix.recordListing(payload)
	case market.EventTypeBalanceWithdrawn:
		err = ix.recordWithdrawal(payload)
	default:
		return
	}
	if err != nil {
		ix.log.Error("index event", "type", payload.Type, "err", err)
	}
}

func attrID(payload *types.Event) uint64 {
	for _, key := range []string{"lotId", "assetId"} {
		if raw, ok := payload.Attributes[key]; ok {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

func (ix *Indexer) recordSale(payload *types.Event, flavor string) error {
	return ix.db.Create(&SaleRecord{
		ID:       uuid.New(),
		AssetID:  attrID(payload),
		Flavor:   flavor,
		Seller:   payload.Attributes["seller"],
		Buyer:    payload.Attributes["buyer"],
		PriceWei: payload.Attributes["price"],
		Title:    payload.Attributes["title"],
	}).Error
}

func (ix *Indexer) recordListing(payload *types.Event) error {
	return ix.db.Create(&ListingRecord{
		ID:        uuid.New(),
		AssetID:   attrID(payload),
		EventType: payload.Type,
		Seller:    payload.Attributes["seller"],
		PriceWei:  payload.Attributes["price"],
	}).Error
}

func (ix *Indexer) recordWithdrawal(payload *types.Event) error {
	return ix.db.Create(&WithdrawalRecord{
		ID:        uuid.New(),
		Recipient: payload.Attributes["recipient"],
		AmountWei: payload.Attributes["amount"],
	}).Error
}

// RecentSales returns the most recent sales, newest first.
func (ix *Indexer) RecentSales(limit int) ([]SaleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []SaleRecord
	err := ix.db.Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// SalesByAsset returns the sale history of one asset.
func (ix *Indexer) SalesByAsset(assetID uint64) ([]SaleRecord, error) {
	var records []SaleRecord
	err := ix.db.Where("asset_id = ?", assetID).Order("created_at asc").Find(&records).Error
	return records, err
}

// Withdrawals returns all recorded pool withdrawals, newest first.
func (ix *Indexer) Withdrawals() ([]WithdrawalRecord, error) {
	var records []WithdrawalRecord
	err := ix.db.Order("created_at desc").Find(&records).Error
	return records, err
}
