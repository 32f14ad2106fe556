package indexer

import (
	"time"

	"github.com/google/uuid"
)

// SaleRecord captures a settled purchase, one row per sold lot or item.
type SaleRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AssetID   uint64    `gorm:"index"`
	Flavor    string    `gorm:"size:16;index"`
	Seller    string    `gorm:"size:42;index"`
	Buyer     string    `gorm:"size:42;index"`
	PriceWei  string    `gorm:"size:80"`
	Title     string    `gorm:"size:256"`
	CreatedAt time.Time
}

// ListingRecord captures listing lifecycle events for audit queries.
type ListingRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AssetID   uint64    `gorm:"index"`
	EventType string    `gorm:"size:64;index"`
	Seller    string    `gorm:"size:42;index"`
	PriceWei  string    `gorm:"size:80"`
	CreatedAt time.Time
}

// WithdrawalRecord captures administrator pool withdrawals.
type WithdrawalRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Recipient string    `gorm:"size:42;index"`
	AmountWei string    `gorm:"size:80"`
	CreatedAt time.Time
}
