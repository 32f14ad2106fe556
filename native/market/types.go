package market

import (
	"fmt"
	"math/big"
	"strings"
)

// LotStatus tracks the lifecycle of an integrated lot. LotStatusNone is a
// reserved discriminant used only as an update sentinel and is never a
// resting state of a stored lot.
type LotStatus uint8

const (
	LotStatusNone LotStatus = iota
	LotForSale
	LotSold
	LotOffMarket
)

// Valid reports whether the status value is within the supported range.
func (s LotStatus) Valid() bool {
	switch s {
	case LotStatusNone, LotForSale, LotSold, LotOffMarket:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends the life of a listing. Terminal
// lots only return to sale through an explicit relist.
func (s LotStatus) Terminal() bool {
	return s == LotSold || s == LotOffMarket
}

func (s LotStatus) String() string {
	switch s {
	case LotStatusNone:
		return "none"
	case LotForSale:
		return "forSale"
	case LotSold:
		return "sold"
	case LotOffMarket:
		return "offMarket"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// LotType categorises the asset bound to an integrated lot. LotTypeNone is
// the update sentinel.
type LotType uint8

const (
	LotTypeNone LotType = iota
	LotTypeArt
	LotTypeCollectible
	LotTypePhotography
	LotTypeMusic
)

// Valid reports whether the type value is within the supported range.
func (t LotType) Valid() bool {
	return t >= LotTypeNone && t <= LotTypeMusic
}

func (t LotType) String() string {
	switch t {
	case LotTypeNone:
		return "none"
	case LotTypeArt:
		return "art"
	case LotTypeCollectible:
		return "collectible"
	case LotTypePhotography:
		return "photography"
	case LotTypeMusic:
		return "music"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Lot is the integrated listing record: asset issuance metadata plus the
// priced offer. The asset id doubles as the lot id.
type Lot struct {
	ID          uint64
	Title       string
	Description string
	Date        string
	MetadataURI string
	Price       *big.Int
	Seller      [20]byte
	LotType     LotType
	Status      LotStatus
	CreatedAt   int64
}

// Clone returns a deep copy of the lot so callers can safely mutate the copy
// without affecting the stored instance.
func (l *Lot) Clone() *Lot {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeLot validates and normalises a lot definition, returning a cloned
// instance with a non-nil price. The original value is not mutated.
func SanitizeLot(l *Lot) (*Lot, error) {
	if l == nil {
		return nil, fmt.Errorf("nil lot")
	}
	clone := l.Clone()
	clone.Title = strings.TrimSpace(clone.Title)
	clone.Date = strings.TrimSpace(clone.Date)
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("lot price must be non-negative")
	}
	if !clone.LotType.Valid() || clone.LotType == LotTypeNone {
		return nil, fmt.Errorf("invalid lot type: %d", clone.LotType)
	}
	if !clone.Status.Valid() || clone.Status == LotStatusNone {
		return nil, fmt.Errorf("invalid lot status: %d", clone.Status)
	}
	if clone.Status == LotForSale && clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("for-sale lot requires a positive price")
	}
	return clone, nil
}

// LotUpdate carries a partial update of a lot. Nil fields are left unchanged;
// there is no in-band sentinel value, so "clear" and "keep" cannot collide.
type LotUpdate struct {
	Title       *string
	Description *string
	Date        *string
	MetadataURI *string
	Price       *big.Int
	LotType     *LotType
	Status      *LotStatus
}

// Empty reports whether the update would change nothing.
func (u *LotUpdate) Empty() bool {
	if u == nil {
		return true
	}
	return u.Title == nil && u.Description == nil && u.Date == nil &&
		u.MetadataURI == nil && u.Price == nil && u.LotType == nil && u.Status == nil
}

// Listing is the standalone flavor: a priced offer for an asset that already
// exists in the external registry. Records are deleted on cancel or sale.
type Listing struct {
	AssetID   uint64
	Price     *big.Int
	Seller    [20]byte
	CreatedAt int64
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates a listing, returning a clone with a non-nil
// price.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("listing price must be positive")
	}
	if clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("listing requires a seller")
	}
	return clone, nil
}
