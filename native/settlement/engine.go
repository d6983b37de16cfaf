package settlement

import (
	"bytes"
	"errors"
	"math/big"

	"lendgate/core/events"
	"lendgate/core/types"
	"lendgate/native/authsig"
	nativecommon "lendgate/native/common"
	"lendgate/native/market"
	"lendgate/native/registry"
	"lendgate/native/token"
)

var (
	errNilState            = errors.New("settlement engine: state not configured")
	errNilRegistry         = errors.New("settlement engine: position registry not configured")
	errNilMarket           = errors.New("settlement engine: money market not configured")
	errNilToken            = errors.New("settlement engine: collateral ledger not configured")
	errNilCodec            = errors.New("settlement engine: authorization codec not configured")
	errNilPolicy           = errors.New("settlement engine: policy provider not configured")
	errReentrancy          = errors.New("settlement engine: call already in progress")
	errZeroAmount          = errors.New("settlement engine: amount must be positive")
	errTokenMismatch       = errors.New("settlement engine: market collateral is not the controlled token")
	errInvalidValidator    = errors.New("settlement engine: signature does not recover to the bound validator")
	errInvalidBorrowShares = errors.New("settlement engine: position has no outstanding borrow shares")
	errInvalidAmount       = errors.New("settlement engine: payment does not cover the repaid debt")
	errNotFinalizable      = errors.New("settlement engine: position is not finalizable")
	errUnauthorized        = errors.New("settlement engine: unexpected repayment callback")
	errRepayExceedsLimit   = errors.New("settlement engine: repayment exceeds the payment ceiling")
	errInsufficientBalance = errors.New("settlement engine: insufficient balance")
)

// Exported sentinels for callers that branch on settlement failures.
var (
	ErrTokenMismatch       = errTokenMismatch
	ErrInvalidValidator    = errInvalidValidator
	ErrInvalidBorrowShares = errInvalidBorrowShares
	ErrInvalidAmount       = errInvalidAmount
	ErrNotFinalizable      = errNotFinalizable
	ErrUnauthorized        = errUnauthorized
)

const moduleName = "settlement"

// UnitOfWork stages ledger writes so a settlement call commits all of its
// effects or none of them.
type UnitOfWork interface {
	Commit() error
	Discard()
}

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine orchestrates a liquidator's payment: it computes the split into
// seized collateral, repaid debt, surplus and protocol profit, drives the
// market's liquidate and repay primitives and reconciles their callback.
type Engine struct {
	state      engineState
	registry   *registry.Registry
	market     *market.Engine
	collateral *token.Ledger
	codec      *authsig.Codec
	policy     nativecommon.PolicyProvider

	moduleAddress [20]byte
	expectedToken [20]byte

	pauses  nativecommon.PauseView
	emitter events.Emitter
	uow     UnitOfWork

	entered bool
	callCtx *callContext
}

// NewEngine constructs a settlement engine verifying against its own signing
// domain. The expected token pins the collateral asset every bound market
// must use.
func NewEngine(moduleAddr, expectedToken [20]byte, codec *authsig.Codec, policy nativecommon.PolicyProvider) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		expectedToken: expectedToken,
		codec:         codec,
		policy:        policy,
		emitter:       events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry wires the position registry consulted for role bindings.
func (e *Engine) SetRegistry(r *registry.Registry) { e.registry = r }

// SetMarket wires the external money market.
func (e *Engine) SetMarket(m *market.Engine) { e.market = m }

// SetCollateralLedger wires the controlled collateral token.
func (e *Engine) SetCollateralLedger(l *token.Ledger) { e.collateral = l }

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

// SetUnitOfWork stages every entry point inside the supplied unit of work.
func (e *Engine) SetUnitOfWork(u UnitOfWork) { e.uow = u }

// ModuleAddress returns the engine custody address.
func (e *Engine) ModuleAddress() [20]byte { return e.moduleAddress }

func (e *Engine) checkWired() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.market == nil {
		return errNilMarket
	}
	if e.collateral == nil {
		return errNilToken
	}
	if e.codec == nil {
		return errNilCodec
	}
	if e.policy == nil {
		return errNilPolicy
	}
	return nil
}

func (e *Engine) enter() error {
	if e.entered {
		return errReentrancy
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() {
	e.entered = false
	e.callCtx = nil
}

func (e *Engine) finish(err *error) {
	if e.uow == nil {
		return
	}
	if *err != nil {
		e.uow.Discard()
		return
	}
	*err = e.uow.Commit()
}

// OnRepay is the repayment callback the market invokes mid-operation. The
// callback is accepted only while an outer call is in flight, only for the
// cached market, and only up to the cached payment ceiling: a compromised
// market can never pull more than the liquidator paid in.
func (e *Engine) OnRepay(repaidAssets *big.Int, data []byte) error {
	if e == nil || e.callCtx == nil {
		return errUnauthorized
	}
	if len(data) != 32 || !bytes.Equal(data, e.callCtx.market[:]) {
		return errUnauthorized
	}
	if repaidAssets == nil || repaidAssets.Sign() < 0 {
		return errUnauthorized
	}
	if repaidAssets.Cmp(e.callCtx.amount) > 0 {
		return errRepayExceedsLimit
	}
	e.callCtx.repaid = new(big.Int).Set(repaidAssets)
	return nil
}

// Payment settles a position with the caller's funds, either by liquidation
// or by validator-approved full close. The whole call is all-or-nothing.
func (e *Engine) Payment(caller, principal [20]byte, tradeID [32]byte, amount *big.Int, isLiquidate bool, sig []byte) (res *Result, err error) {
	if err = e.checkWired(); err != nil {
		return nil, err
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err = e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	defer e.finish(&err)

	if amount == nil || amount.Sign() <= 0 {
		return nil, errZeroAmount
	}
	// The bound market doubles as the existence check: an unregistered or
	// never-supplied principal has no market to settle against.
	regPos, err := e.registry.PositionOf(principal)
	if err != nil {
		return nil, err
	}
	marketID := regPos.Market
	params, err := e.market.MarketParams(marketID)
	if err != nil {
		return nil, err
	}
	if params.CollateralToken != e.expectedToken {
		return nil, errTokenMismatch
	}

	if err = e.moveQSD(caller, e.moduleAddress, amount); err != nil {
		return nil, err
	}

	if err = e.market.AccrueInterest(marketID); err != nil {
		return nil, err
	}
	pos, err := e.market.Position(marketID, principal)
	if err != nil {
		return nil, err
	}
	if pos.BorrowShares.Sign() == 0 {
		return nil, errInvalidBorrowShares
	}
	totalBefore := new(big.Int).Set(pos.Collateral)
	totalBorrow, totalShares, err := e.market.Totals(marketID)
	if err != nil {
		return nil, err
	}
	price, err := e.market.Price(marketID)
	if err != nil {
		return nil, err
	}

	e.callCtx = &callContext{market: marketID, amount: new(big.Int).Set(amount)}
	data := make([]byte, 32)
	copy(data, marketID[:])
	grant := e.collateral.GrantRecipient(e.moduleAddress)
	defer grant.Revoke()

	res = &Result{
		SeizedCollateral:    big.NewInt(0),
		RemainingCollateral: big.NewInt(0),
		RepaidDebt:          big.NewInt(0),
		Surplus:             big.NewInt(0),
		Profit:              big.NewInt(0),
	}
	branch := "force_close"

	if isLiquidate {
		debtAssets := market.SharesToAssetsUp(pos.BorrowShares, totalBorrow, totalShares)
		lif := market.LiquidationIncentiveFactor(params.LLTVBps)
		estimate := market.QuoteToCollateral(market.WMulDown(debtAssets, lif), price)
		if estimate.Cmp(totalBefore) < 0 {
			branch = "liquidate"
			seized, repaid, lerr := e.market.Liquidate(marketID, e.moduleAddress, principal, nil, pos.BorrowShares, e, data)
			if lerr != nil {
				return nil, lerr
			}
			res.SeizedCollateral = seized
			res.RepaidDebt = repaid
			res.RemainingCollateral = new(big.Int).Sub(totalBefore, seized)
			remainder := market.MulDivDown(amount, res.RemainingCollateral, totalBefore)
			excess := new(big.Int).Sub(amount, repaid)
			if excess.Sign() < 0 {
				return nil, errInvalidAmount
			}
			if excess.Cmp(remainder) < 0 {
				res.Surplus = excess
			} else {
				res.Surplus = remainder
			}
		} else {
			branch = "bad_debt"
			seized, repaid, lerr := e.market.Liquidate(marketID, e.moduleAddress, principal, totalBefore, nil, e, data)
			if lerr != nil {
				return nil, lerr
			}
			res.SeizedCollateral = seized
			res.RepaidDebt = repaid
			if amount.Cmp(repaid) < 0 {
				return nil, errInvalidAmount
			}
		}
	} else {
		digest := e.codec.ForceCloseDigest(principal, tradeID)
		if authsig.RecoverSigner(digest, sig) != regPos.Validator {
			return nil, errInvalidValidator
		}
		repaid, _, rerr := e.market.Repay(marketID, e.moduleAddress, principal, nil, pos.BorrowShares, e, data)
		if rerr != nil {
			return nil, rerr
		}
		res.RepaidDebt = repaid
		res.RemainingCollateral = totalBefore
		res.Surplus = new(big.Int).Sub(amount, repaid)
		if res.Surplus.Sign() < 0 {
			return nil, errInvalidAmount
		}
	}

	res.Profit = new(big.Int).Sub(amount, res.RepaidDebt)
	res.Profit.Sub(res.Profit, res.Surplus)
	if res.Profit.Sign() < 0 {
		return nil, errInvalidAmount
	}

	if res.RemainingCollateral.Sign() > 0 {
		registryAddr := e.registry.ModuleAddress()
		if res.Surplus.Sign() > 0 {
			if err = e.moveQSD(e.moduleAddress, registryAddr, res.Surplus); err != nil {
				return nil, err
			}
		}
		regCap := e.collateral.GrantRecipient(registryAddr)
		if err = e.market.WithdrawCollateral(marketID, principal, registryAddr, res.RemainingCollateral); err != nil {
			regCap.Revoke()
			return nil, err
		}
		if err = e.registry.Release(e.moduleAddress, principal, res.RemainingCollateral, res.Surplus); err != nil {
			return nil, err
		}
	}

	// The engine never retains seized collateral: whatever it ended up
	// holding goes back to the issuer's circulation sink.
	held, err := e.collateral.BalanceOf(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if held.Sign() > 0 {
		if err = e.collateral.Retire(e.moduleAddress, held); err != nil {
			return nil, err
		}
	}

	if res.Profit.Sign() > 0 {
		if err = e.moveQSD(e.moduleAddress, e.policy.FeeSink(), res.Profit); err != nil {
			return nil, err
		}
	}

	e.emit(Settled{
		Principal: principal,
		TradeID:   tradeID,
		Branch:    branch,
		Amount:    amount,
		Result:    res,
	})
	return res, nil
}

// FinalizePosition recovers stranded collateral from a position whose debt is
// fully repaid, returning it to the circulation sink. There is no payment and
// therefore no surplus.
func (e *Engine) FinalizePosition(principal [20]byte, positionID [32]byte, sig []byte) (err error) {
	if err = e.checkWired(); err != nil {
		return err
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err = e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.finish(&err)

	regPos, err := e.registry.PositionOf(principal)
	if err != nil {
		return err
	}
	pos, err := e.market.Position(regPos.Market, principal)
	if err != nil {
		return err
	}
	if pos.BorrowShares.Sign() != 0 || pos.Collateral.Sign() == 0 {
		return errNotFinalizable
	}
	digest := e.codec.FinalizeDigest(positionID, principal)
	if authsig.RecoverSigner(digest, sig) != regPos.Validator {
		return errInvalidValidator
	}

	grant := e.collateral.GrantRecipient(e.moduleAddress)
	if err = e.market.WithdrawCollateral(regPos.Market, principal, e.moduleAddress, pos.Collateral); err != nil {
		grant.Revoke()
		return err
	}
	if err = e.collateral.Retire(e.moduleAddress, pos.Collateral); err != nil {
		return err
	}
	e.emit(Finalized{Principal: principal, PositionID: positionID, Collateral: pos.Collateral})
	return nil
}

func (e *Engine) moveQSD(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	fromAcc, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceQSD.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.BalanceQSD = new(big.Int).Sub(fromAcc.BalanceQSD, amount)
	toAcc.BalanceQSD = new(big.Int).Add(toAcc.BalanceQSD, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
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

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
