package market

import "errors"

// Validation failures. Each rejected call leaves the engine state unchanged.
var (
	ErrEmptyTitle       = errors.New("market: title must not be empty")
	ErrEmptyDate        = errors.New("market: date must not be empty")
	ErrEmptyDescription = errors.New("market: description must not be empty")
	ErrEmptyURI         = errors.New("market: metadata uri must not be empty")
	ErrZeroPrice        = errors.New("market: price must be positive")
	ErrInvalidLotType   = errors.New("market: lot type out of range")
	ErrInvalidStatus    = errors.New("market: lot status out of range")
)

// Authorization failures.
var (
	ErrNotOwner    = errors.New("market: caller is not the owner")
	ErrNotAdmin    = errors.New("market: caller is not the administrator")
	ErrNotApproved = errors.New("market: settlement not approved for asset")
)

// State failures.
var (
	ErrLotNotFound     = errors.New("market: lot not found")
	ErrListingNotFound = errors.New("market: listing not found")
	ErrNotForSale      = errors.New("market: not for sale")
	ErrAlreadyListed   = errors.New("market: asset already listed")
	ErrSelfPurchase    = errors.New("market: seller cannot buy own listing")
	ErrNoBalance       = errors.New("market: no accrued balance to withdraw")

	// ErrSettlementInProgress rejects mutations on an asset whose sale is
	// between the local state commit and the registry transfer.
	ErrSettlementInProgress = errors.New("market: settlement in progress")
)

// Payment failures.
var (
	ErrFeeMismatch       = errors.New("market: payment must equal the mint price exactly")
	ErrPriceMismatch     = errors.New("market: payment must equal the asking price exactly")
	ErrInsufficientFunds = errors.New("market: insufficient account balance")
)
