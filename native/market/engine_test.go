package market

import (
	"errors"
	"math/big"
	"testing"

	"lendgate/core/types"
	"lendgate/native/token"
)

type mockEngineState struct {
	markets   map[[32]byte]*Market
	positions map[[32]byte]map[[20]byte]*Position
	accounts  map[[20]byte]*types.Account
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		markets:   make(map[[32]byte]*Market),
		positions: make(map[[32]byte]map[[20]byte]*Position),
		accounts:  make(map[[20]byte]*types.Account),
	}
}

func (m *mockEngineState) GetMarket(id [32]byte) (*Market, error) {
	return m.markets[id], nil
}

func (m *mockEngineState) PutMarket(id [32]byte, market *Market) error {
	m.markets[id] = market
	return nil
}

func (m *mockEngineState) GetUserPosition(id [32]byte, addr [20]byte) (*Position, error) {
	if byAddr, ok := m.positions[id]; ok {
		return byAddr[addr], nil
	}
	return nil, nil
}

func (m *mockEngineState) PutUserPosition(id [32]byte, pos *Position) error {
	if pos == nil {
		return nil
	}
	byAddr, ok := m.positions[id]
	if !ok {
		byAddr = make(map[[20]byte]*Position)
		m.positions[id] = byAddr
	}
	byAddr[pos.Address] = pos
	return nil
}

func (m *mockEngineState) GetAccount(addr [20]byte) (*types.Account, error) {
	return m.accounts[addr], nil
}

func (m *mockEngineState) PutAccount(addr [20]byte, account *types.Account) error {
	m.accounts[addr] = account
	return nil
}

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[19] = suffix
	return addr
}

func makeMarketID(suffix byte) [32]byte {
	var id [32]byte
	id[31] = suffix
	return id
}

var (
	issuerAddr = makeAddress(0xE0)
	sinkAddr   = makeAddress(0xE1)
	moduleAddr = makeAddress(0xE2)
)

// 1e8 collateral units valued at 100,000 quote units.
func quotePrice(valuation int64) *big.Int {
	return mulDivDown(big.NewInt(valuation), priceScale, big.NewInt(100_000_000))
}

func newTestEngine(t *testing.T, lltvBps uint64, price *big.Int) (*Engine, *mockEngineState, *token.Ledger, [32]byte) {
	t.Helper()
	state := newMockEngineState()
	ledger := token.NewLedger(issuerAddr, sinkAddr)
	ledger.SetState(state)
	engine := NewEngine(moduleAddr, ledger)
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_000 })

	id := makeMarketID(0x01)
	params := Params{CollateralToken: issuerAddr, LLTVBps: lltvBps}
	if err := engine.CreateMarket(id, params, price); err != nil {
		t.Fatalf("create market: %v", err)
	}
	return engine, state, ledger, id
}

func fundQSD(state *mockEngineState, addr [20]byte, amount int64) {
	state.accounts[addr] = &types.Account{BalanceQSD: big.NewInt(amount)}
}

func pledgeCollateral(t *testing.T, engine *Engine, ledger *token.Ledger, id [32]byte, owner [20]byte, amount int64) {
	t.Helper()
	ledger.GrantRecipient(owner)
	if err := ledger.AllocateTo(owner, big.NewInt(amount)); err != nil {
		t.Fatalf("allocate collateral: %v", err)
	}
	ledger.GrantRecipient(engine.ModuleAddress())
	if err := engine.SupplyCollateral(id, owner, owner, big.NewInt(amount)); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
}

func TestCreateMarketOnce(t *testing.T) {
	engine, _, _, id := newTestEngine(t, 8_000, quotePrice(100_000))
	if err := engine.CreateMarket(id, Params{}, nil); err != errMarketExists {
		t.Fatalf("expected market exists error, got %v", err)
	}
}

func TestBorrowAgainstCollateral(t *testing.T) {
	engine, state, ledger, id := newTestEngine(t, 8_000, quotePrice(100_000))
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)

	fundQSD(state, supplier, 100_000)
	if _, err := engine.Supply(supplier, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	pledgeCollateral(t, engine, ledger, id, borrower, 100_000_000)

	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(50_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	borrowerAcc := state.accounts[borrower]
	if borrowerAcc.BalanceQSD.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected borrower balance %s", borrowerAcc.BalanceQSD)
	}

	// 1e8 collateral at 100,000 valuation with lltv 0.8 caps debt at 80,000.
	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(40_000)); err != errHealthCheckFailed {
		t.Fatalf("expected health check failure, got %v", err)
	}
}

func TestFullRepayByShares(t *testing.T) {
	engine, state, ledger, id := newTestEngine(t, 8_000, quotePrice(100_000))
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)

	fundQSD(state, supplier, 100_000)
	if _, err := engine.Supply(supplier, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	pledgeCollateral(t, engine, ledger, id, borrower, 100_000_000)
	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(50_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	pos, err := engine.Position(id, borrower)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	before := new(big.Int).Set(state.accounts[borrower].BalanceQSD)

	repaid, _, err := engine.Repay(id, borrower, borrower, nil, pos.BorrowShares, nil, nil)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected repaid amount %s", repaid)
	}
	after := state.accounts[borrower].BalanceQSD
	if new(big.Int).Sub(before, after).Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("borrower balance changed by %s, want 50000", new(big.Int).Sub(before, after))
	}
	pos, _ = engine.Position(id, borrower)
	if pos.BorrowShares.Sign() != 0 {
		t.Fatalf("expected borrow shares to clear, got %s", pos.BorrowShares)
	}
}

func TestRepayCallbackBeforePull(t *testing.T) {
	engine, state, ledger, id := newTestEngine(t, 8_000, quotePrice(100_000))
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)

	fundQSD(state, supplier, 100_000)
	if _, err := engine.Supply(supplier, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	pledgeCollateral(t, engine, ledger, id, borrower, 100_000_000)
	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(50_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	pos, _ := engine.Position(id, borrower)
	balanceBefore := new(big.Int).Set(state.accounts[borrower].BalanceQSD)

	handler := &recordingHandler{fail: true}
	if _, _, err := engine.Repay(id, borrower, borrower, nil, pos.BorrowShares, handler, []byte("ctx")); err == nil {
		t.Fatalf("expected handler failure to abort repay")
	}
	if state.accounts[borrower].BalanceQSD.Cmp(balanceBefore) != 0 {
		t.Fatalf("funds pulled despite rejected callback")
	}

	handler = &recordingHandler{}
	repaid, _, err := engine.Repay(id, borrower, borrower, nil, pos.BorrowShares, handler, []byte("ctx"))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if handler.repaid == nil || handler.repaid.Cmp(repaid) != 0 {
		t.Fatalf("callback reported %s, pulled %s", handler.repaid, repaid)
	}
	if string(handler.data) != "ctx" {
		t.Fatalf("callback context mangled: %q", handler.data)
	}
}

type recordingHandler struct {
	fail   bool
	repaid *big.Int
	data   []byte
}

func (h *recordingHandler) OnRepay(repaidAssets *big.Int, data []byte) error {
	if h.fail {
		return errors.New("rejected")
	}
	h.repaid = new(big.Int).Set(repaidAssets)
	h.data = data
	return nil
}

func TestWithdrawCollateralHealthGate(t *testing.T) {
	engine, state, ledger, id := newTestEngine(t, 8_000, quotePrice(100_000))
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)

	fundQSD(state, supplier, 100_000)
	if _, err := engine.Supply(supplier, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	pledgeCollateral(t, engine, ledger, id, borrower, 100_000_000)
	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(50_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	ledger.GrantRecipient(borrower)
	err := engine.WithdrawCollateral(id, borrower, borrower, big.NewInt(90_000_000))
	if err != errHealthCheckFailed {
		t.Fatalf("expected health check failure, got %v", err)
	}
	ledger.GrantRecipient(borrower)
	if err := engine.WithdrawCollateral(id, borrower, borrower, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("withdraw within limit: %v", err)
	}
}

func TestLiquidateRequiresUnhealthyPosition(t *testing.T) {
	engine, state, ledger, id := newTestEngine(t, 8_000, quotePrice(100_000))
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)
	liquidator := makeAddress(0x12)

	fundQSD(state, supplier, 100_000)
	if _, err := engine.Supply(supplier, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	pledgeCollateral(t, engine, ledger, id, borrower, 100_000_000)
	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(50_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	fundQSD(state, liquidator, 100_000)

	pos, _ := engine.Position(id, borrower)
	_, _, err := engine.Liquidate(id, liquidator, borrower, nil, pos.BorrowShares, nil, nil)
	if err != errNotLiquidatable {
		t.Fatalf("expected not liquidatable, got %v", err)
	}
}

func TestLiquidateBadDebtWriteoff(t *testing.T) {
	engine, state, ledger, id := newTestEngine(t, 8_000, quotePrice(100_000))
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)
	liquidator := makeAddress(0x12)

	fundQSD(state, supplier, 100_000)
	if _, err := engine.Supply(supplier, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	pledgeCollateral(t, engine, ledger, id, borrower, 100_000_000)
	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(60_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Collateral collapses well below the outstanding debt.
	if err := engine.SetPrice(id, quotePrice(30_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	fundQSD(state, liquidator, 100_000)

	ledger.GrantRecipient(liquidator)
	seized, repaid, err := engine.Liquidate(id, liquidator, borrower, big.NewInt(100_000_000), nil, nil, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected seizure %s", seized)
	}
	if repaid.Cmp(big.NewInt(60_000)) >= 0 {
		t.Fatalf("repaid %s should not cover the full debt", repaid)
	}

	pos, _ := engine.Position(id, borrower)
	if pos.Collateral.Sign() != 0 || pos.BorrowShares.Sign() != 0 {
		t.Fatalf("expected emptied position, got collateral=%s shares=%s", pos.Collateral, pos.BorrowShares)
	}
	m := state.markets[id]
	if m.TotalBorrowShares.Sign() != 0 {
		t.Fatalf("expected residual debt written off, got %s shares", m.TotalBorrowShares)
	}
	// Suppliers absorb the written-off debt.
	if m.TotalSupplyAssets.Cmp(big.NewInt(100_000)) >= 0 {
		t.Fatalf("expected supplier haircut, total supply %s", m.TotalSupplyAssets)
	}
	balance, _ := ledger.BalanceOf(liquidator)
	if balance.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("liquidator holds %s collateral, want full seizure", balance)
	}
}

func TestAccrualAddsLinearInterest(t *testing.T) {
	engine, state, ledger, id := newTestEngine(t, 8_000, quotePrice(100_000))
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)

	m := state.markets[id]
	m.Params.RateBps = 1_000
	supplierBal := int64(100_000)
	fundQSD(state, supplier, supplierBal)
	if _, err := engine.Supply(supplier, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	pledgeCollateral(t, engine, ledger, id, borrower, 100_000_000)
	if _, err := engine.Borrow(id, borrower, borrower, big.NewInt(50_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	engine.SetNowFunc(func() int64 { return 1_000 + secondsPerYear })
	if err := engine.AccrueInterest(id); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	m = state.markets[id]
	// 10% on 50,000 over one year.
	if m.TotalBorrowAssets.Cmp(big.NewInt(55_000)) != 0 {
		t.Fatalf("unexpected borrow total %s", m.TotalBorrowAssets)
	}
	if m.TotalSupplyAssets.Cmp(big.NewInt(105_000)) != 0 {
		t.Fatalf("unexpected supply total %s", m.TotalSupplyAssets)
	}
}
