package market

import (
	"errors"
	"math/big"
	"time"

	"lendgate/core/events"
	"lendgate/core/types"
	nativecommon "lendgate/native/common"
	"lendgate/native/token"
)

var (
	errNilState               = errors.New("market engine: state not configured")
	errNilToken               = errors.New("market engine: collateral ledger not configured")
	errNilMarket              = errors.New("market engine: market not initialised")
	errMarketExists           = errors.New("market engine: market already initialised")
	errInvalidAmount          = errors.New("market engine: amount must be positive")
	errInconsistentInput      = errors.New("market engine: exactly one of assets and shares must be set")
	errInvalidPrice           = errors.New("market engine: oracle price not configured")
	errInsufficientBalance    = errors.New("market engine: insufficient balance")
	errInsufficientLiquidity  = errors.New("market engine: insufficient liquidity")
	errInsufficientCollateral = errors.New("market engine: insufficient collateral")
	errHealthCheckFailed      = errors.New("market engine: position would become unhealthy")
	errNoDebtToRepay          = errors.New("market engine: no outstanding debt to repay")
	errNotLiquidatable        = errors.New("market engine: borrower not eligible for liquidation")
)

const moduleName = "market"

// RepaymentHandler receives the repayment callback invoked mid-operation,
// before the market pulls settlement funds from the caller. Implementations
// must authorize exactly the reported amount.
type RepaymentHandler interface {
	OnRepay(repaidAssets *big.Int, data []byte) error
}

type engineState interface {
	GetMarket(id [32]byte) (*Market, error)
	PutMarket(id [32]byte, m *Market) error
	GetUserPosition(id [32]byte, addr [20]byte) (*Position, error)
	PutUserPosition(id [32]byte, p *Position) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine orchestrates the state transitions of the share-accounted money
// market consumed by the gateway and the settlement core.
type Engine struct {
	state         engineState
	moduleAddress [20]byte
	collateral    *token.Ledger
	pauses        nativecommon.PauseView
	emitter       events.Emitter
	nowFn         func() int64
}

// NewEngine constructs a market engine with the module treasury address and
// the controlled collateral ledger.
func NewEngine(moduleAddr [20]byte, collateral *token.Ledger) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		collateral:    collateral,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// ModuleAddress returns the QSD custody address of the market.
func (e *Engine) ModuleAddress() [20]byte { return e.moduleAddress }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// CreateMarket initialises a market record. Re-initialisation always fails.
func (e *Engine) CreateMarket(id [32]byte, params Params, price *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	existing, err := e.state.GetMarket(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return errMarketExists
	}
	m := &Market{
		ID:                id,
		Params:            params,
		TotalSupplyAssets: big.NewInt(0),
		TotalSupplyShares: big.NewInt(0),
		TotalBorrowAssets: big.NewInt(0),
		TotalBorrowShares: big.NewInt(0),
		LastAccrual:       e.now(),
	}
	if price != nil {
		m.Price = new(big.Int).Set(price)
	}
	return e.state.PutMarket(id, m)
}

// SetPrice records a fresh oracle observation for the market.
func (e *Engine) SetPrice(id [32]byte, price *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if price == nil || price.Sign() <= 0 {
		return errInvalidPrice
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return err
	}
	m.Price = new(big.Int).Set(price)
	return e.state.PutMarket(id, m)
}

// AccrueInterest applies the linear interest model up to the current time.
func (e *Engine) AccrueInterest(id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return err
	}
	e.accrue(m)
	return e.state.PutMarket(id, m)
}

func (e *Engine) accrue(m *Market) {
	now := e.now()
	elapsed := now - m.LastAccrual
	if elapsed <= 0 {
		return
	}
	interest := computeInterest(m.TotalBorrowAssets, m.Params.RateBps, elapsed)
	if interest.Sign() > 0 {
		m.TotalBorrowAssets = new(big.Int).Add(m.TotalBorrowAssets, interest)
		m.TotalSupplyAssets = new(big.Int).Add(m.TotalSupplyAssets, interest)
	}
	m.LastAccrual = now
}

// Supply deposits QSD liquidity and mints lender shares.
func (e *Engine) Supply(supplier [20]byte, id [32]byte, assets *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return nil, err
	}
	e.accrue(m)

	supplierAcc, err := e.loadAccount(supplier)
	if err != nil {
		return nil, err
	}
	if supplierAcc.BalanceQSD.Cmp(assets) < 0 {
		return nil, errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	shares := toSharesDown(assets, m.TotalSupplyAssets, m.TotalSupplyShares)

	supplierAcc.BalanceQSD = new(big.Int).Sub(supplierAcc.BalanceQSD, assets)
	moduleAcc.BalanceQSD = new(big.Int).Add(moduleAcc.BalanceQSD, assets)

	pos, err := e.ensurePosition(id, supplier)
	if err != nil {
		return nil, err
	}
	pos.SupplyShares = new(big.Int).Add(pos.SupplyShares, shares)
	m.TotalSupplyAssets = new(big.Int).Add(m.TotalSupplyAssets, assets)
	m.TotalSupplyShares = new(big.Int).Add(m.TotalSupplyShares, shares)

	if err := e.persistAccount(supplier, supplierAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutUserPosition(id, pos); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(id, m); err != nil {
		return nil, err
	}
	return shares, nil
}

// WithdrawSupply burns lender shares and releases the underlying QSD.
func (e *Engine) WithdrawSupply(supplier [20]byte, id [32]byte, shares *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return nil, err
	}
	e.accrue(m)

	pos, err := e.ensurePosition(id, supplier)
	if err != nil {
		return nil, err
	}
	if pos.SupplyShares.Cmp(shares) < 0 {
		return nil, errInsufficientBalance
	}
	assets := toAssetsDown(shares, m.TotalSupplyAssets, m.TotalSupplyShares)
	if e.availableLiquidity(m).Cmp(assets) < 0 {
		return nil, errInsufficientLiquidity
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.BalanceQSD.Cmp(assets) < 0 {
		return nil, errInsufficientLiquidity
	}
	supplierAcc, err := e.loadAccount(supplier)
	if err != nil {
		return nil, err
	}

	moduleAcc.BalanceQSD = new(big.Int).Sub(moduleAcc.BalanceQSD, assets)
	supplierAcc.BalanceQSD = new(big.Int).Add(supplierAcc.BalanceQSD, assets)
	pos.SupplyShares = new(big.Int).Sub(pos.SupplyShares, shares)
	m.TotalSupplyAssets = new(big.Int).Sub(m.TotalSupplyAssets, assets)
	m.TotalSupplyShares = new(big.Int).Sub(m.TotalSupplyShares, shares)

	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(supplier, supplierAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutUserPosition(id, pos); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(id, m); err != nil {
		return nil, err
	}
	return assets, nil
}

// SupplyCollateral locks CLT collateral for the position owner. The market
// module must hold a standing recipient capability on the collateral ledger.
func (e *Engine) SupplyCollateral(id [32]byte, caller, onBehalf [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil {
		return errNilToken
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return err
	}
	pos, err := e.ensurePosition(id, onBehalf)
	if err != nil {
		return err
	}
	if err := e.collateral.Transfer(caller, e.moduleAddress, amount); err != nil {
		return err
	}
	pos.Collateral = new(big.Int).Add(pos.Collateral, amount)
	if err := e.state.PutUserPosition(id, pos); err != nil {
		return err
	}
	return e.state.PutMarket(id, m)
}

// WithdrawCollateral releases CLT collateral to the receiver while ensuring
// the position stays healthy.
func (e *Engine) WithdrawCollateral(id [32]byte, onBehalf, receiver [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil {
		return errNilToken
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return err
	}
	e.accrue(m)
	pos, err := e.ensurePosition(id, onBehalf)
	if err != nil {
		return err
	}
	if pos.Collateral.Cmp(amount) < 0 {
		return errInsufficientCollateral
	}
	remaining := new(big.Int).Sub(pos.Collateral, amount)
	if !e.healthy(m, remaining, pos.BorrowShares) {
		return errHealthCheckFailed
	}
	pos.Collateral = remaining
	if err := e.state.PutUserPosition(id, pos); err != nil {
		return err
	}
	if err := e.state.PutMarket(id, m); err != nil {
		return err
	}
	return e.collateral.Transfer(e.moduleAddress, receiver, amount)
}

// Borrow draws QSD against pledged collateral, minting borrow shares.
func (e *Engine) Borrow(id [32]byte, onBehalf, receiver [20]byte, assets *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return nil, err
	}
	e.accrue(m)
	if e.availableLiquidity(m).Cmp(assets) < 0 {
		return nil, errInsufficientLiquidity
	}

	pos, err := e.ensurePosition(id, onBehalf)
	if err != nil {
		return nil, err
	}
	shares := toSharesUp(assets, m.TotalBorrowAssets, m.TotalBorrowShares)
	projected := new(big.Int).Add(pos.BorrowShares, shares)
	projectedTotalAssets := new(big.Int).Add(m.TotalBorrowAssets, assets)
	projectedTotalShares := new(big.Int).Add(m.TotalBorrowShares, shares)
	debt := toAssetsUp(projected, projectedTotalAssets, projectedTotalShares)
	if !e.collateralCovers(m, pos.Collateral, debt) {
		return nil, errHealthCheckFailed
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.BalanceQSD.Cmp(assets) < 0 {
		return nil, errInsufficientLiquidity
	}
	receiverAcc, err := e.loadAccount(receiver)
	if err != nil {
		return nil, err
	}

	moduleAcc.BalanceQSD = new(big.Int).Sub(moduleAcc.BalanceQSD, assets)
	receiverAcc.BalanceQSD = new(big.Int).Add(receiverAcc.BalanceQSD, assets)
	pos.BorrowShares = projected
	m.TotalBorrowAssets = projectedTotalAssets
	m.TotalBorrowShares = projectedTotalShares

	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(receiver, receiverAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutUserPosition(id, pos); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(id, m); err != nil {
		return nil, err
	}
	return shares, nil
}

// Repay settles borrow shares on behalf of a position. Exactly one of assets
// and shares must be set. The handler is invoked with the exact repaid amount
// before the funds are pulled from the caller.
func (e *Engine) Repay(id [32]byte, caller, onBehalf [20]byte, assets, shares *big.Int, handler RepaymentHandler, data []byte) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if !exactlyOne(assets, shares) {
		return nil, nil, errInconsistentInput
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return nil, nil, err
	}
	e.accrue(m)
	pos, err := e.ensurePosition(id, onBehalf)
	if err != nil {
		return nil, nil, err
	}
	if pos.BorrowShares.Sign() == 0 {
		return nil, nil, errNoDebtToRepay
	}

	repaidShares := new(big.Int)
	if shares != nil {
		repaidShares.Set(shares)
	} else {
		repaidShares = toSharesDown(assets, m.TotalBorrowAssets, m.TotalBorrowShares)
	}
	if repaidShares.Cmp(pos.BorrowShares) > 0 {
		repaidShares = new(big.Int).Set(pos.BorrowShares)
	}
	repaidAssets := toAssetsUp(repaidShares, m.TotalBorrowAssets, m.TotalBorrowShares)

	if handler != nil {
		if err := handler.OnRepay(repaidAssets, data); err != nil {
			return nil, nil, err
		}
	}

	callerAcc, err := e.loadAccount(caller)
	if err != nil {
		return nil, nil, err
	}
	if callerAcc.BalanceQSD.Cmp(repaidAssets) < 0 {
		return nil, nil, errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, nil, err
	}

	callerAcc.BalanceQSD = new(big.Int).Sub(callerAcc.BalanceQSD, repaidAssets)
	moduleAcc.BalanceQSD = new(big.Int).Add(moduleAcc.BalanceQSD, repaidAssets)
	pos.BorrowShares = new(big.Int).Sub(pos.BorrowShares, repaidShares)
	m.TotalBorrowAssets = clampZero(new(big.Int).Sub(m.TotalBorrowAssets, repaidAssets))
	m.TotalBorrowShares = clampZero(new(big.Int).Sub(m.TotalBorrowShares, repaidShares))

	if err := e.persistAccount(caller, callerAcc); err != nil {
		return nil, nil, err
	}
	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutUserPosition(id, pos); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutMarket(id, m); err != nil {
		return nil, nil, err
	}
	e.emit(Repaid{MarketID: id, OnBehalf: onBehalf, Assets: repaidAssets, Shares: repaidShares})
	return repaidAssets, repaidShares, nil
}

// Liquidate seizes collateral from an unhealthy position in exchange for debt
// repayment. Exactly one of seizedCollateral and repaidShares must be set.
// Seized collateral is transferred to the caller, who must hold a recipient
// capability on the collateral ledger. When the seizure empties the
// collateral, the residual debt is written off against supplier liquidity.
func (e *Engine) Liquidate(id [32]byte, caller, borrower [20]byte, seizedCollateral, repaidShares *big.Int, handler RepaymentHandler, data []byte) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.collateral == nil {
		return nil, nil, errNilToken
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if !exactlyOne(seizedCollateral, repaidShares) {
		return nil, nil, errInconsistentInput
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return nil, nil, err
	}
	if m.Price == nil || m.Price.Sign() <= 0 {
		return nil, nil, errInvalidPrice
	}
	e.accrue(m)
	pos, err := e.ensurePosition(id, borrower)
	if err != nil {
		return nil, nil, err
	}
	if pos.BorrowShares.Sign() == 0 {
		return nil, nil, errNoDebtToRepay
	}
	if e.healthy(m, pos.Collateral, pos.BorrowShares) {
		return nil, nil, errNotLiquidatable
	}

	lif := LiquidationIncentiveFactor(m.Params.LLTVBps)
	seized := new(big.Int)
	shares := new(big.Int)
	if repaidShares != nil {
		shares.Set(repaidShares)
		if shares.Cmp(pos.BorrowShares) > 0 {
			shares = new(big.Int).Set(pos.BorrowShares)
		}
		repayValue := toAssetsUp(shares, m.TotalBorrowAssets, m.TotalBorrowShares)
		seized = QuoteToCollateral(wMulDown(repayValue, lif), m.Price)
	} else {
		seized.Set(seizedCollateral)
		quoted := mulDivUp(seized, m.Price, priceScale)
		repayValue := wDivUp(quoted, lif)
		shares = toSharesDown(repayValue, m.TotalBorrowAssets, m.TotalBorrowShares)
		if shares.Cmp(pos.BorrowShares) > 0 {
			shares = new(big.Int).Set(pos.BorrowShares)
		}
	}
	if seized.Cmp(pos.Collateral) > 0 {
		return nil, nil, errInsufficientCollateral
	}
	repaidAssets := toAssetsUp(shares, m.TotalBorrowAssets, m.TotalBorrowShares)

	if handler != nil {
		if err := handler.OnRepay(repaidAssets, data); err != nil {
			return nil, nil, err
		}
	}

	callerAcc, err := e.loadAccount(caller)
	if err != nil {
		return nil, nil, err
	}
	if callerAcc.BalanceQSD.Cmp(repaidAssets) < 0 {
		return nil, nil, errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, nil, err
	}

	callerAcc.BalanceQSD = new(big.Int).Sub(callerAcc.BalanceQSD, repaidAssets)
	moduleAcc.BalanceQSD = new(big.Int).Add(moduleAcc.BalanceQSD, repaidAssets)
	pos.BorrowShares = new(big.Int).Sub(pos.BorrowShares, shares)
	pos.Collateral = new(big.Int).Sub(pos.Collateral, seized)
	m.TotalBorrowAssets = clampZero(new(big.Int).Sub(m.TotalBorrowAssets, repaidAssets))
	m.TotalBorrowShares = clampZero(new(big.Int).Sub(m.TotalBorrowShares, shares))

	// Bad debt realisation: an emptied position writes its residual debt off
	// against supplier liquidity.
	if pos.Collateral.Sign() == 0 && pos.BorrowShares.Sign() > 0 {
		badDebt := toAssetsUp(pos.BorrowShares, m.TotalBorrowAssets, m.TotalBorrowShares)
		m.TotalBorrowAssets = clampZero(new(big.Int).Sub(m.TotalBorrowAssets, badDebt))
		m.TotalSupplyAssets = clampZero(new(big.Int).Sub(m.TotalSupplyAssets, badDebt))
		m.TotalBorrowShares = clampZero(new(big.Int).Sub(m.TotalBorrowShares, pos.BorrowShares))
		pos.BorrowShares = big.NewInt(0)
	}

	if err := e.persistAccount(caller, callerAcc); err != nil {
		return nil, nil, err
	}
	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutUserPosition(id, pos); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutMarket(id, m); err != nil {
		return nil, nil, err
	}
	if seized.Sign() > 0 {
		if err := e.collateral.Transfer(e.moduleAddress, caller, seized); err != nil {
			return nil, nil, err
		}
	}
	e.emit(Liquidated{MarketID: id, Borrower: borrower, Seized: seized, Repaid: repaidAssets})
	return seized, repaidAssets, nil
}

// Position returns a copy of the per-account state for the market.
func (e *Engine) Position(id [32]byte, addr [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.ensurePosition(id, addr)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// Totals returns the borrow-side accounting of the market.
func (e *Engine) Totals(id [32]byte) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(m.TotalBorrowAssets), new(big.Int).Set(m.TotalBorrowShares), nil
}

// MarketParams returns the immutable configuration of the market.
func (e *Engine) MarketParams(id [32]byte) (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return Params{}, err
	}
	return m.Params, nil
}

// Price returns the current oracle price of the market.
func (e *Engine) Price(id [32]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, err := e.ensureMarket(id)
	if err != nil {
		return nil, err
	}
	if m.Price == nil || m.Price.Sign() <= 0 {
		return nil, errInvalidPrice
	}
	return new(big.Int).Set(m.Price), nil
}

func (e *Engine) ensureMarket(id [32]byte) (*Market, error) {
	m, err := e.state.GetMarket(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errNilMarket
	}
	if m.TotalSupplyAssets == nil {
		m.TotalSupplyAssets = big.NewInt(0)
	}
	if m.TotalSupplyShares == nil {
		m.TotalSupplyShares = big.NewInt(0)
	}
	if m.TotalBorrowAssets == nil {
		m.TotalBorrowAssets = big.NewInt(0)
	}
	if m.TotalBorrowShares == nil {
		m.TotalBorrowShares = big.NewInt(0)
	}
	return m, nil
}

func (e *Engine) ensurePosition(id [32]byte, addr [20]byte) (*Position, error) {
	pos, err := e.state.GetUserPosition(id, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Address: addr}
	}
	if pos.SupplyShares == nil {
		pos.SupplyShares = big.NewInt(0)
	}
	if pos.BorrowShares == nil {
		pos.BorrowShares = big.NewInt(0)
	}
	if pos.Collateral == nil {
		pos.Collateral = big.NewInt(0)
	}
	return pos, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	if acc.BalanceQSD == nil {
		acc.BalanceQSD = big.NewInt(0)
	}
	if acc.BalanceCLT == nil {
		acc.BalanceCLT = big.NewInt(0)
	}
	return acc, nil
}

func (e *Engine) persistAccount(addr [20]byte, acc *types.Account) error {
	return e.state.PutAccount(addr, acc)
}

func (e *Engine) availableLiquidity(m *Market) *big.Int {
	liquidity := new(big.Int).Sub(m.TotalSupplyAssets, m.TotalBorrowAssets)
	if liquidity.Sign() < 0 {
		return big.NewInt(0)
	}
	return liquidity
}

func (e *Engine) healthy(m *Market, collateral, borrowShares *big.Int) bool {
	if borrowShares == nil || borrowShares.Sign() == 0 {
		return true
	}
	debt := toAssetsUp(borrowShares, m.TotalBorrowAssets, m.TotalBorrowShares)
	return e.collateralCovers(m, collateral, debt)
}

func (e *Engine) collateralCovers(m *Market, collateral, debt *big.Int) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	if collateral == nil || collateral.Sign() == 0 {
		return false
	}
	if m.Price == nil || m.Price.Sign() <= 0 {
		return false
	}
	value := CollateralToQuote(collateral, m.Price)
	maxBorrow := new(big.Int).Mul(value, new(big.Int).SetUint64(m.Params.LLTVBps))
	maxBorrow.Quo(maxBorrow, basisPoints)
	return maxBorrow.Cmp(debt) >= 0
}

func exactlyOne(a, b *big.Int) bool {
	return (a != nil && a.Sign() > 0) != (b != nil && b.Sign() > 0)
}

func clampZero(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}
