package market

import (
	"math/big"
	"testing"
)

func TestLiquidationIncentiveFactor(t *testing.T) {
	cases := []struct {
		lltvBps uint64
		want    string
	}{
		{10_000, "1000000000000000000"},
		{8_000, "1063829787234042553"},
		{7_000, "1098901098901098901"},
		// Low loan-to-value limits hit the protocol maximum.
		{0, "1150000000000000000"},
		{1_000, "1150000000000000000"},
	}
	for _, tc := range cases {
		want := mustBigInt(tc.want)
		if got := LiquidationIncentiveFactor(tc.lltvBps); got.Cmp(want) != 0 {
			t.Fatalf("lltv %d: got %s want %s", tc.lltvBps, got, want)
		}
	}
}

func TestShareConversionRounding(t *testing.T) {
	totalAssets := big.NewInt(1_000)
	totalShares := big.NewInt(3_000_000_000)

	assets := big.NewInt(7)
	down := toSharesDown(assets, totalAssets, totalShares)
	up := toSharesUp(assets, totalAssets, totalShares)
	if down.Cmp(up) > 0 {
		t.Fatalf("down %s exceeds up %s", down, up)
	}
	diff := new(big.Int).Sub(up, down)
	if diff.Cmp(big.NewInt(1)) > 0 {
		t.Fatalf("rounding gap %s exceeds one share", diff)
	}

	// Converting shares back must not credit more assets than put in.
	back := toAssetsDown(down, totalAssets, totalShares)
	if back.Cmp(assets) > 0 {
		t.Fatalf("round trip credited %s for %s supplied", back, assets)
	}
}

func TestEmptyMarketUsesVirtualOffsets(t *testing.T) {
	shares := toSharesUp(big.NewInt(100), big.NewInt(0), big.NewInt(0))
	want := new(big.Int).Mul(big.NewInt(100), virtualShares)
	if shares.Cmp(want) != 0 {
		t.Fatalf("empty market minted %s shares, want %s", shares, want)
	}
}

func TestPriceConversionRoundTrip(t *testing.T) {
	// 1e8 collateral units valued at 100,000 quote units.
	price := mulDivDown(big.NewInt(100_000), priceScale, big.NewInt(100_000_000))
	quote := CollateralToQuote(big.NewInt(100_000_000), price)
	if quote.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("collateral valuation %s, want 100000", quote)
	}
	collateral := QuoteToCollateral(big.NewInt(65_000), price)
	if collateral.Cmp(big.NewInt(65_000_000)) != 0 {
		t.Fatalf("quote conversion %s, want 65000000", collateral)
	}
}

func TestComputeInterestLinear(t *testing.T) {
	// 10% annual rate over half a year on 1,000,000.
	interest := computeInterest(big.NewInt(1_000_000), 1_000, secondsPerYear/2)
	if interest.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("interest %s, want 50000", interest)
	}
	if computeInterest(nil, 1_000, 100).Sign() != 0 {
		t.Fatalf("nil principal accrued interest")
	}
	if computeInterest(big.NewInt(100), 0, 100).Sign() != 0 {
		t.Fatalf("zero rate accrued interest")
	}
}
