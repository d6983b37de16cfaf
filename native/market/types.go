package market

import "math/big"

// Params captures the immutable configuration of a single market instance.
type Params struct {
	// CollateralToken identifies the controlled token accepted as collateral.
	CollateralToken [20]byte
	// LLTVBps is the liquidation loan-to-value limit in basis points.
	LLTVBps uint64
	// RateBps is the annual borrow rate in basis points applied by the
	// linear interest model.
	RateBps uint64
}

// Market captures the global accounting state for one lending market. Amount
// values are denominated in wei and expressed as big integers to match ledger
// precision.
type Market struct {
	ID     [32]byte
	Params Params
	// TotalSupplyAssets is the aggregate QSD liquidity deposited by lenders.
	TotalSupplyAssets *big.Int
	// TotalSupplyShares tracks the lender share supply.
	TotalSupplyShares *big.Int
	// TotalBorrowAssets tracks the outstanding QSD borrowed across accounts.
	TotalBorrowAssets *big.Int
	// TotalBorrowShares tracks the borrower share supply.
	TotalBorrowShares *big.Int
	// Price is the oracle price in quote wei per collateral wei, scaled by
	// PriceScale.
	Price *big.Int
	// LastAccrual records the unix time when interest was last applied.
	LastAccrual int64
}

// Clone returns a deep copy so callers can stage mutations without touching
// the stored instance.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := &Market{ID: m.ID, Params: m.Params, LastAccrual: m.LastAccrual}
	clone.TotalSupplyAssets = cloneBig(m.TotalSupplyAssets)
	clone.TotalSupplyShares = cloneBig(m.TotalSupplyShares)
	clone.TotalBorrowAssets = cloneBig(m.TotalBorrowAssets)
	clone.TotalBorrowShares = cloneBig(m.TotalBorrowShares)
	clone.Price = cloneBig(m.Price)
	return clone
}

// Position maintains the per-account state inside one market.
type Position struct {
	Address [20]byte
	// SupplyShares is the lender share balance.
	SupplyShares *big.Int
	// BorrowShares is the borrow share balance; debt in assets is derived
	// through the market share/asset ratio.
	BorrowShares *big.Int
	// Collateral is the CLT amount pledged against the debt.
	Collateral *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address}
	clone.SupplyShares = cloneBig(p.SupplyShares)
	clone.BorrowShares = cloneBig(p.BorrowShares)
	clone.Collateral = cloneBig(p.Collateral)
	return clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
