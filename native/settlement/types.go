package settlement

import (
	"math/big"

	"lukechampine.com/blake3"
)

// Result is the per-call record of how a payment was split.
type Result struct {
	// SeizedCollateral is the CLT taken from the position by liquidation.
	SeizedCollateral *big.Int
	// RemainingCollateral is the CLT released back to registry custody.
	RemainingCollateral *big.Int
	// RepaidDebt is the QSD pulled by the market to settle borrow shares.
	RepaidDebt *big.Int
	// Surplus is the QSD credited to the principal.
	Surplus *big.Int
	// Profit is the QSD forwarded to the protocol fee sink.
	Profit *big.Int
}

// callContext caches the parameters a repayment callback must be validated
// against. It exists only for the duration of one outer call.
type callContext struct {
	market [32]byte
	amount *big.Int
	repaid *big.Int
}

// PositionID derives the deterministic identifier of a principal's position
// within a market.
func PositionID(marketID [32]byte, principal [20]byte) [32]byte {
	buf := make([]byte, 0, len(marketID)+len(principal))
	buf = append(buf, marketID[:]...)
	buf = append(buf, principal[:]...)
	return blake3.Sum256(buf)
}
