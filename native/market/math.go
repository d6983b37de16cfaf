package market

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000")                      // 1e18
	priceScale  = mustBigInt("1000000000000000000000000000000000000")   // 1e36, oracle quote-wei per collateral-wei
	maxLIF      = mustBigInt("1150000000000000000")                     // 1.15 in wad
	lifCursor   = mustBigInt("300000000000000000")                      // 0.3 in wad
	// Virtual shares protect the share price against inflation attacks on
	// empty markets.
	virtualShares = big.NewInt(1_000_000)
	virtualAssets = big.NewInt(1)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func mulDivDown(x, y, d *big.Int) *big.Int {
	if x == nil || y == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(x, y)
	return out.Quo(out, d)
}

func mulDivUp(x, y, d *big.Int) *big.Int {
	if x == nil || y == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(x, y)
	out.Add(out, new(big.Int).Sub(d, big.NewInt(1)))
	return out.Quo(out, d)
}

func wMulDown(x, y *big.Int) *big.Int { return mulDivDown(x, y, wad) }

func wDivDown(x, y *big.Int) *big.Int { return mulDivDown(x, wad, y) }

func wDivUp(x, y *big.Int) *big.Int { return mulDivUp(x, wad, y) }

func toSharesDown(assets, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivDown(assets, new(big.Int).Add(totalShares, virtualShares), new(big.Int).Add(totalAssets, virtualAssets))
}

func toSharesUp(assets, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivUp(assets, new(big.Int).Add(totalShares, virtualShares), new(big.Int).Add(totalAssets, virtualAssets))
}

func toAssetsDown(shares, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivDown(shares, new(big.Int).Add(totalAssets, virtualAssets), new(big.Int).Add(totalShares, virtualShares))
}

func toAssetsUp(shares, totalAssets, totalShares *big.Int) *big.Int {
	return mulDivUp(shares, new(big.Int).Add(totalAssets, virtualAssets), new(big.Int).Add(totalShares, virtualShares))
}

// LiquidationIncentiveFactor derives the wad-scaled seizure bonus from the
// market's loan-to-value limit, bounded by the protocol maximum:
// min(maxLIF, 1 / (1 - cursor * (1 - lltv))).
func LiquidationIncentiveFactor(lltvBps uint64) *big.Int {
	lltv := new(big.Int).Mul(new(big.Int).SetUint64(lltvBps), new(big.Int).Quo(wad, basisPoints))
	gap := new(big.Int).Sub(wad, lltv)
	if gap.Sign() < 0 {
		gap = big.NewInt(0)
	}
	denom := new(big.Int).Sub(wad, wMulDown(lifCursor, gap))
	if denom.Sign() <= 0 {
		return new(big.Int).Set(maxLIF)
	}
	lif := wDivDown(wad, denom)
	if lif.Cmp(maxLIF) > 0 {
		return new(big.Int).Set(maxLIF)
	}
	return lif
}

// CollateralToQuote values a collateral amount in settlement-asset units at
// the supplied oracle price.
func CollateralToQuote(collateral, price *big.Int) *big.Int {
	return mulDivDown(collateral, price, priceScale)
}

// QuoteToCollateral converts a settlement-asset value back into collateral
// units at the supplied oracle price.
func QuoteToCollateral(quote, price *big.Int) *big.Int {
	return mulDivDown(quote, priceScale, price)
}

// PriceScale exposes the oracle price scaling constant.
func PriceScale() *big.Int { return new(big.Int).Set(priceScale) }

// SharesToAssetsUp converts borrow shares to assets at the supplied totals,
// rounding in favour of the market.
func SharesToAssetsUp(shares, totalAssets, totalShares *big.Int) *big.Int {
	return toAssetsUp(shares, totalAssets, totalShares)
}

// WMulDown multiplies two wad-scaled values, rounding down.
func WMulDown(x, y *big.Int) *big.Int { return wMulDown(x, y) }

// MulDivDown computes x*y/d rounding down.
func MulDivDown(x, y, d *big.Int) *big.Int { return mulDivDown(x, y, d) }

func computeInterest(totalBorrowed *big.Int, rateBps uint64, elapsed int64) *big.Int {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 || rateBps == 0 || elapsed <= 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(totalBorrowed, new(big.Int).SetUint64(rateBps))
	interest.Mul(interest, big.NewInt(elapsed))
	interest.Quo(interest, basisPoints)
	interest.Quo(interest, big.NewInt(secondsPerYear))
	return interest
}
