package types

import "math/big"

// Account tracks the native balance held by a 20-byte address. The ledger has
// a single value unit, so one balance field is all an account carries.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Clone returns a deep copy so callers can mutate freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	out := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		out.Balance = new(big.Int).Set(a.Balance)
	}
	return out
}
