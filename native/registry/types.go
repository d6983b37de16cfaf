package registry

import "math/big"

// Position is the per-principal record binding the approval roles, the market
// the principal is locked to, the nonce counters and the credited settlement
// surplus. Created once at registration and never deleted.
type Position struct {
	Principal  [20]byte
	Validator  [20]byte
	Authorizer [20]byte
	// Market is bound on the first supply authorization and immutable
	// afterwards.
	Market [32]byte
	// LoanNonce counts supply authorizations.
	LoanNonce uint64
	// ActionNonce counts borrow, withdraw and claim authorizations.
	ActionNonce uint64
	// Credit is the settlement surplus owed to the principal in QSD.
	Credit *big.Int
	// CollateralCredit is the released collateral held in registry custody
	// for the principal in CLT.
	CollateralCredit *big.Int
}

// Clone returns a deep copy so callers can stage mutations without touching
// the stored instance.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Credit != nil {
		clone.Credit = new(big.Int).Set(p.Credit)
	}
	if p.CollateralCredit != nil {
		clone.CollateralCredit = new(big.Int).Set(p.CollateralCredit)
	}
	return &clone
}
