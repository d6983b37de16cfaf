package types

import "math/big"

// Account tracks the ledger balances for a single address. QSD is the
// settlement asset, CLT the issuer-controlled collateral token. Amounts are
// denominated in wei and expressed as big integers to match ledger precision.
type Account struct {
	Nonce      uint64   `json:"nonce"`
	BalanceQSD *big.Int `json:"balanceQSD"`
	BalanceCLT *big.Int `json:"balanceCLT"`
}

// Clone returns a deep copy so callers can stage mutations without touching
// the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceQSD != nil {
		clone.BalanceQSD = new(big.Int).Set(a.BalanceQSD)
	}
	if a.BalanceCLT != nil {
		clone.BalanceCLT = new(big.Int).Set(a.BalanceCLT)
	}
	return clone
}
