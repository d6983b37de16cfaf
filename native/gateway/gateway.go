package gateway

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"lendgate/native/market"
	"lendgate/native/registry"
	"lendgate/native/settlement"
	"lendgate/native/token"
	"lendgate/observability"
)

var (
	errNilRegistry   = errors.New("gateway: position registry not configured")
	errNilMarket     = errors.New("gateway: money market not configured")
	errNilSettlement = errors.New("gateway: settlement engine not configured")
	errNilToken      = errors.New("gateway: collateral ledger not configured")
)

// UnitOfWork stages ledger writes for one gateway operation.
type UnitOfWork interface {
	Commit() error
	Discard()
}

// Gateway is the thin entry-point layer: it composes registry authorization
// checks with the market and settlement calls, serializes operations on one
// ledger, and records the request-level metrics. It holds no domain state of
// its own.
type Gateway struct {
	mu         sync.Mutex
	registry   *registry.Registry
	market     *market.Engine
	settlement *settlement.Engine
	collateral *token.Ledger
	uow        UnitOfWork
	metrics    *observability.GatewayMetrics
	log        *slog.Logger
}

// New constructs a gateway over the wired engines.
func New(reg *registry.Registry, mkt *market.Engine, settle *settlement.Engine, collateral *token.Ledger) *Gateway {
	return &Gateway{
		registry:   reg,
		market:     mkt,
		settlement: settle,
		collateral: collateral,
		log:        slog.Default(),
	}
}

// SetUnitOfWork stages every gateway operation inside the supplied unit of
// work. The settlement engine carries its own staging and is excluded here.
func (g *Gateway) SetUnitOfWork(u UnitOfWork) { g.uow = u }

// SetMetrics wires the prometheus registry; nil disables recording.
func (g *Gateway) SetMetrics(m *observability.GatewayMetrics) { g.metrics = m }

// SetLogger overrides the structured logger.
func (g *Gateway) SetLogger(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	g.log = log
}

func (g *Gateway) checkWired() error {
	if g == nil || g.registry == nil {
		return errNilRegistry
	}
	if g.market == nil {
		return errNilMarket
	}
	if g.settlement == nil {
		return errNilSettlement
	}
	if g.collateral == nil {
		return errNilToken
	}
	return nil
}

func (g *Gateway) finish(err *error) {
	if g.uow == nil {
		return
	}
	if *err != nil {
		g.uow.Discard()
		return
	}
	*err = g.uow.Commit()
}

func (g *Gateway) observe(operation string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	g.metrics.Observe(operation, err, time.Since(start))
	if isAuthError(err) {
		g.metrics.RecordAuthError(operation)
	}
}

func isAuthError(err error) bool {
	switch {
	case errors.Is(err, registry.ErrInvalidAuthorizer),
		errors.Is(err, registry.ErrInvalidDelegator),
		errors.Is(err, registry.ErrInvalidEndorsement),
		errors.Is(err, registry.ErrDeadlineExpired),
		errors.Is(err, settlement.ErrInvalidValidator):
		return true
	}
	return false
}

// Register binds the approval roles to a new principal.
func (g *Gateway) Register(principal, authorizer, validator [20]byte, delegationSig []byte, delegationDeadline int64) (err error) {
	if err = g.checkWired(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	defer func() { g.observe("register", start, err) }()
	defer g.finish(&err)
	return g.registry.Register(principal, authorizer, validator, delegationSig, delegationDeadline)
}

// Supply authorizes a collateral supply and locks the principal's CLT in the
// bound market.
func (g *Gateway) Supply(principal [20]byte, marketID [32]byte, assets *big.Int, sig []byte) (err error) {
	if err = g.checkWired(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	defer func() { g.observe("supply", start, err) }()
	defer g.finish(&err)

	if err = g.registry.AuthorizeSupply(principal, marketID, assets, sig); err != nil {
		return err
	}
	grant := g.collateral.GrantRecipient(g.market.ModuleAddress())
	if err = g.market.SupplyCollateral(marketID, principal, principal, assets); err != nil {
		grant.Revoke()
		return err
	}
	return nil
}

// Borrow authorizes a draw against the position and pays QSD to the
// recipient.
func (g *Gateway) Borrow(principal [20]byte, assets *big.Int, recipient [20]byte, deadline int64, sig, endorsement []byte) (err error) {
	if err = g.checkWired(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	defer func() { g.observe("borrow", start, err) }()
	defer g.finish(&err)

	if err = g.registry.AuthorizeBorrow(principal, assets, recipient, deadline, sig, endorsement); err != nil {
		return err
	}
	pos, err := g.registry.PositionOf(principal)
	if err != nil {
		return err
	}
	_, err = g.market.Borrow(pos.Market, principal, recipient, assets)
	return err
}

// Withdraw authorizes a full-collateral exit and releases the CLT back to the
// principal. Partial exits are rejected by the registry.
func (g *Gateway) Withdraw(principal [20]byte, assets *big.Int, deadline int64, sig []byte) (err error) {
	if err = g.checkWired(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	defer func() { g.observe("withdraw", start, err) }()
	defer g.finish(&err)

	regPos, err := g.registry.PositionOf(principal)
	if err != nil {
		return err
	}
	pos, err := g.market.Position(regPos.Market, principal)
	if err != nil {
		return err
	}
	if err = g.registry.AuthorizeWithdraw(principal, assets, pos.Collateral, deadline, sig); err != nil {
		return err
	}
	grant := g.collateral.GrantRecipient(principal)
	if err = g.market.WithdrawCollateral(regPos.Market, principal, principal, assets); err != nil {
		grant.Revoke()
		return err
	}
	return nil
}

// Claim pays out the principal's accumulated settlement credit.
func (g *Gateway) Claim(principal, recipient [20]byte, deadline int64, sig []byte) (err error) {
	if err = g.checkWired(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	defer func() { g.observe("claim", start, err) }()
	defer g.finish(&err)
	return g.registry.Claim(principal, recipient, deadline, sig)
}

// Payment runs a settlement call and records the branch taken.
func (g *Gateway) Payment(caller, principal [20]byte, tradeID [32]byte, amount *big.Int, isLiquidate bool, sig []byte) (res *settlement.Result, err error) {
	if err = g.checkWired(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	defer func() { g.observe("payment", start, err) }()

	res, err = g.settlement.Payment(caller, principal, tradeID, amount, isLiquidate, sig)
	if err != nil {
		return nil, err
	}
	if g.metrics != nil {
		g.metrics.RecordSettlement(branchOf(res, isLiquidate))
	}
	g.log.Info("payment settled",
		"amount", amount.String(),
		"repaid", res.RepaidDebt.String(),
		"surplus", res.Surplus.String(),
		"profit", res.Profit.String(),
	)
	return res, nil
}

// FinalizePosition recovers stranded collateral from a fully repaid position.
func (g *Gateway) FinalizePosition(principal [20]byte, positionID [32]byte, sig []byte) (err error) {
	if err = g.checkWired(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	defer func() { g.observe("finalize", start, err) }()
	return g.settlement.FinalizePosition(principal, positionID, sig)
}

func branchOf(res *settlement.Result, isLiquidate bool) string {
	if !isLiquidate {
		return "force_close"
	}
	if res != nil && res.RemainingCollateral.Sign() == 0 {
		return "bad_debt"
	}
	return "liquidate"
}
