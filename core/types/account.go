package types

import "math/big"

// Account tracks the spendable balance backing market settlement. Buyers are
// debited and sellers credited through these records; the zero value of an
// unknown address is an account with a zero balance.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// NewAccount returns an account with an initialised zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}

// Ensure normalises a possibly nil account into a usable value.
func (a *Account) Ensure() *Account {
	if a == nil {
		return NewAccount()
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
