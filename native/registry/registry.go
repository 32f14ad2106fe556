package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"kisx/storage"
)

var (
	ErrAssetNotFound = errors.New("registry: asset not found")
	ErrNotAssetOwner = errors.New("registry: from is not the asset owner")
	ErrNotApproved   = errors.New("registry: settlement operator not approved")
	ErrZeroAddress   = errors.New("registry: zero address")
)

var (
	ownerPrefix    = []byte("registry/owner/")
	uriPrefix      = []byte("registry/uri/")
	approvedPrefix = []byte("registry/approved/")
	nextIDKey      = []byte("registry/nextid")
)

// Registry is the system of record for unique-asset ownership. Asset ids are
// assigned sequentially starting at zero. Ownership only moves through
// TransferFrom, which requires the configured settlement operator to hold an
// approval for the asset.
type Registry struct {
	db       storage.Database
	operator [20]byte
	mu       sync.Mutex
}

// New creates a registry over the supplied database. operator is the
// settlement identity whose approval gates transfers.
func New(db storage.Database, operator [20]byte) *Registry {
	return &Registry{db: db, operator: operator}
}

func idKey(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

// Mint issues a new asset to owner and returns its id.
func (r *Registry) Mint(owner [20]byte, uri string) (uint64, error) {
	if owner == ([20]byte{}) {
		return 0, ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var next uint64
	raw, err := r.db.Get(nextIDKey)
	switch {
	case err == nil:
		next = binary.BigEndian.Uint64(raw)
	case errors.Is(err, storage.ErrKeyNotFound):
		next = 0
	default:
		return 0, err
	}
	if err := r.db.Put(idKey(ownerPrefix, next), owner[:]); err != nil {
		return 0, err
	}
	if uri != "" {
		if err := r.db.Put(idKey(uriPrefix, next), []byte(uri)); err != nil {
			return 0, err
		}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next+1)
	if err := r.db.Put(nextIDKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

// OwnerOf returns the current owner of the asset.
func (r *Registry) OwnerOf(id uint64) ([20]byte, error) {
	raw, err := r.db.Get(idKey(ownerPrefix, id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return [20]byte{}, ErrAssetNotFound
	}
	if err != nil {
		return [20]byte{}, err
	}
	var owner [20]byte
	copy(owner[:], raw)
	return owner, nil
}

// TokenURI returns the metadata URI recorded at mint time.
func (r *Registry) TokenURI(id uint64) (string, error) {
	if _, err := r.OwnerOf(id); err != nil {
		return "", err
	}
	raw, err := r.db.Get(idKey(uriPrefix, id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Approve records operator as approved for the asset. Only the current owner
// may grant approval.
func (r *Registry) Approve(caller, operator [20]byte, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, err := r.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotAssetOwner
	}
	return r.db.Put(idKey(approvedPrefix, id), operator[:])
}

// GetApproved returns the approved operator for the asset, or the zero
// address when none is set.
func (r *Registry) GetApproved(id uint64) ([20]byte, error) {
	if _, err := r.OwnerOf(id); err != nil {
		return [20]byte{}, err
	}
	raw, err := r.db.Get(idKey(approvedPrefix, id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return [20]byte{}, nil
	}
	if err != nil {
		return [20]byte{}, err
	}
	var operator [20]byte
	copy(operator[:], raw)
	return operator, nil
}

// IsApprovedFor reports whether operator holds approval for the asset. The
// owner is implicitly approved for its own assets.
func (r *Registry) IsApprovedFor(operator [20]byte, id uint64) (bool, error) {
	owner, err := r.OwnerOf(id)
	if err != nil {
		return false, err
	}
	if owner == operator {
		return true, nil
	}
	approved, err := r.GetApproved(id)
	if err != nil {
		return false, err
	}
	return approved == operator, nil
}

// TransferFrom moves ownership from the current owner to the recipient. It
// fails when from does not own the asset or when the settlement operator has
// no approval. Any approval is cleared on transfer.
func (r *Registry) TransferFrom(from, to [20]byte, id uint64) error {
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, err := r.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrNotAssetOwner
	}
	ok, err := r.isApprovedLocked(from, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotApproved
	}
	if err := r.db.Put(idKey(ownerPrefix, id), to[:]); err != nil {
		return err
	}
	if err := r.db.Delete(idKey(approvedPrefix, id)); err != nil {
		return fmt.Errorf("registry: clear approval: %w", err)
	}
	return nil
}

func (r *Registry) isApprovedLocked(owner [20]byte, id uint64) (bool, error) {
	if owner == r.operator {
		return true, nil
	}
	raw, err := r.db.Get(idKey(approvedPrefix, id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var approved [20]byte
	copy(approved[:], raw)
	return approved == r.operator, nil
}
