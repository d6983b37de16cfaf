package registry

import (
	"errors"
	"math/big"
	"time"

	"lendgate/core/events"
	"lendgate/core/types"
	"lendgate/native/authsig"
	nativecommon "lendgate/native/common"
	"lendgate/native/token"
)

var (
	errNilState           = errors.New("position registry: state not configured")
	errNilCodec           = errors.New("position registry: authorization codec not configured")
	errNilPolicy          = errors.New("position registry: policy provider not configured")
	errZeroAddress        = errors.New("position registry: zero address")
	errZeroAmount         = errors.New("position registry: amount must be positive")
	errInvalidPrincipal   = errors.New("position registry: validator lacks the validator role")
	errAlreadyRegistered  = errors.New("position registry: principal already registered")
	errUnknownPrincipal   = errors.New("position registry: principal not registered")
	errInvalidDelegator   = errors.New("position registry: delegation proof does not recover to a delegator")
	errInvalidAuthorizer  = errors.New("position registry: signature does not recover to the bound authorizer")
	errMarketMismatch     = errors.New("position registry: market differs from the bound market")
	errDeadlineExpired    = errors.New("position registry: authorization deadline expired")
	errInvalidAmount      = errors.New("position registry: withdraw must cover the full collateral balance")
	errNoCredit           = errors.New("position registry: no credit to claim")
	errUnauthorized       = errors.New("position registry: caller not permitted")
	errInvalidEndorsement = errors.New("position registry: endorsement does not recover to the bound validator")
)

// Exported sentinels for callers that branch on registry failures.
var (
	ErrInvalidPrincipal   = errInvalidPrincipal
	ErrAlreadyRegistered  = errAlreadyRegistered
	ErrUnknownPrincipal   = errUnknownPrincipal
	ErrInvalidDelegator   = errInvalidDelegator
	ErrInvalidAuthorizer  = errInvalidAuthorizer
	ErrMarketMismatch     = errMarketMismatch
	ErrDeadlineExpired    = errDeadlineExpired
	ErrInvalidAmount      = errInvalidAmount
	ErrInvalidEndorsement = errInvalidEndorsement
)

const moduleName = "registry"

type registryState interface {
	GetPosition(principal [20]byte) (*Position, error)
	PutPosition(p *Position) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Registry gates every position mutation behind the signed-authorization and
// nonce discipline shared with the settlement engine.
type Registry struct {
	state         registryState
	codec         *authsig.Codec
	policy        nativecommon.PolicyProvider
	collateral    *token.Ledger
	moduleAddress [20]byte
	settlement    [20]byte
	pauses        nativecommon.PauseView
	emitter       events.Emitter
	nowFn         func() int64

	requireEndorsement bool
}

// NewRegistry constructs a registry verifying against its own signing domain.
func NewRegistry(moduleAddr [20]byte, codec *authsig.Codec, policy nativecommon.PolicyProvider) *Registry {
	return &Registry{
		moduleAddress: moduleAddr,
		codec:         codec,
		policy:        policy,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetCollateralLedger wires the CLT ledger used for collateral-credit payouts.
func (r *Registry) SetCollateralLedger(ledger *token.Ledger) { r.collateral = ledger }

// SetSettlementAddress restricts Release to the settlement engine custody
// address.
func (r *Registry) SetSettlementAddress(addr [20]byte) { r.settlement = addr }

// SetEmitter configures the event emitter used by the registry.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetNowFunc overrides the time source, primarily used in tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// ModuleAddress returns the registry custody address.
func (r *Registry) ModuleAddress() [20]byte { return r.moduleAddress }

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

// Register binds the approval roles to a new principal. One-time only: a
// second registration for the same principal always fails, it never
// overwrites. The optional delegation proof must recover to an address holding
// the delegator role.
func (r *Registry) Register(principal, authorizer, validator [20]byte, delegationSig []byte, delegationDeadline int64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.codec == nil {
		return errNilCodec
	}
	if r.policy == nil {
		return errNilPolicy
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	var zero [20]byte
	if principal == zero || authorizer == zero || validator == zero {
		return errZeroAddress
	}
	if !r.policy.HasRole(nativecommon.RoleValidator, validator) {
		return errInvalidPrincipal
	}
	existing, err := r.state.GetPosition(principal)
	if err != nil {
		return err
	}
	if existing != nil {
		return errAlreadyRegistered
	}
	if len(delegationSig) > 0 {
		if r.now() > delegationDeadline {
			return errDeadlineExpired
		}
		digest := r.codec.DelegationDigest(principal, delegationDeadline)
		signer := authsig.RecoverSigner(digest, delegationSig)
		if signer == zero || !r.policy.HasRole(nativecommon.RoleDelegator, signer) {
			return errInvalidDelegator
		}
	}
	pos := &Position{
		Principal:        principal,
		Validator:        validator,
		Authorizer:       authorizer,
		Credit:           big.NewInt(0),
		CollateralCredit: big.NewInt(0),
	}
	if err := r.state.PutPosition(pos); err != nil {
		return err
	}
	r.emit(Registered{Principal: principal, Validator: validator, Authorizer: authorizer})
	return nil
}

// AuthorizeSupply validates a supply authorization against the loan nonce,
// binding the market on first use. The nonce advances on success only.
func (r *Registry) AuthorizeSupply(principal [20]byte, marketID [32]byte, assets *big.Int, sig []byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.codec == nil {
		return errNilCodec
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if assets == nil || assets.Sign() <= 0 {
		return errZeroAmount
	}
	pos, err := r.requirePosition(principal)
	if err != nil {
		return err
	}
	var zeroMarket [32]byte
	if pos.Market == zeroMarket {
		pos.Market = marketID
	} else if pos.Market != marketID {
		return errMarketMismatch
	}
	digest := r.codec.SupplyDigest(principal, marketID, assets, pos.LoanNonce)
	if authsig.RecoverSigner(digest, sig) != pos.Authorizer {
		return errInvalidAuthorizer
	}
	pos.LoanNonce++
	return r.state.PutPosition(pos)
}

// RequireEndorsement makes borrow authorizations demand a validator co-sign
// over the hash of the authorizer signature.
func (r *Registry) RequireEndorsement(required bool) { r.requireEndorsement = required }

// AuthorizeBorrow validates a borrow authorization against the action nonce
// and the submission deadline. When an endorsement is supplied (or required),
// it must recover to the bound validator over the hash of the authorizer
// signature, composing the two approvals without re-signing the raw payload.
func (r *Registry) AuthorizeBorrow(principal [20]byte, assets *big.Int, recipient [20]byte, deadline int64, sig, endorsement []byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.codec == nil {
		return errNilCodec
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if assets == nil || assets.Sign() <= 0 {
		return errZeroAmount
	}
	if r.now() > deadline {
		return errDeadlineExpired
	}
	pos, err := r.requirePosition(principal)
	if err != nil {
		return err
	}
	digest := r.codec.BorrowDigest(principal, assets, recipient, pos.ActionNonce, deadline)
	if authsig.RecoverSigner(digest, sig) != pos.Authorizer {
		return errInvalidAuthorizer
	}
	if r.requireEndorsement || len(endorsement) > 0 {
		endorsed := r.codec.EndorsementDigest(authsig.SignatureHash(sig))
		if authsig.RecoverSigner(endorsed, endorsement) != pos.Validator {
			return errInvalidEndorsement
		}
	}
	pos.ActionNonce++
	return r.state.PutPosition(pos)
}

// AuthorizeWithdraw validates a collateral exit. Partial exits are not
// supported: the requested amount must equal the principal's entire current
// collateral balance.
func (r *Registry) AuthorizeWithdraw(principal [20]byte, assets, collateralBalance *big.Int, deadline int64, sig []byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.codec == nil {
		return errNilCodec
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if assets == nil || assets.Sign() <= 0 {
		return errZeroAmount
	}
	if r.now() > deadline {
		return errDeadlineExpired
	}
	if collateralBalance == nil || assets.Cmp(collateralBalance) != 0 {
		return errInvalidAmount
	}
	pos, err := r.requirePosition(principal)
	if err != nil {
		return err
	}
	digest := r.codec.WithdrawDigest(principal, assets, pos.ActionNonce, deadline)
	if authsig.RecoverSigner(digest, sig) != pos.Authorizer {
		return errInvalidAuthorizer
	}
	pos.ActionNonce++
	return r.state.PutPosition(pos)
}

// Release books settlement proceeds for a principal: released collateral into
// registry custody and surplus QSD credit. Only the settlement engine may
// call it; the funds themselves must already sit in registry custody.
func (r *Registry) Release(caller, principal [20]byte, collateral, surplus *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if caller != r.settlement {
		return errUnauthorized
	}
	pos, err := r.requirePosition(principal)
	if err != nil {
		return err
	}
	if collateral != nil && collateral.Sign() > 0 {
		pos.CollateralCredit = new(big.Int).Add(pos.CollateralCredit, collateral)
	}
	if surplus != nil && surplus.Sign() > 0 {
		pos.Credit = new(big.Int).Add(pos.Credit, surplus)
	}
	if err := r.state.PutPosition(pos); err != nil {
		return err
	}
	r.emit(Credited{Principal: principal, Collateral: collateral, Surplus: surplus})
	return nil
}

// Claim pays out the accumulated credit to the recipient, consuming an action
// nonce like any other signed action.
func (r *Registry) Claim(principal, recipient [20]byte, deadline int64, sig []byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.codec == nil {
		return errNilCodec
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if r.now() > deadline {
		return errDeadlineExpired
	}
	pos, err := r.requirePosition(principal)
	if err != nil {
		return err
	}
	digest := r.codec.ClaimDigest(principal, recipient, pos.ActionNonce, deadline)
	if authsig.RecoverSigner(digest, sig) != pos.Authorizer {
		return errInvalidAuthorizer
	}
	credit := pos.Credit
	collateral := pos.CollateralCredit
	if credit.Sign() == 0 && collateral.Sign() == 0 {
		return errNoCredit
	}
	pos.ActionNonce++
	pos.Credit = big.NewInt(0)
	pos.CollateralCredit = big.NewInt(0)

	if credit.Sign() > 0 {
		moduleAcc, err := r.loadAccount(r.moduleAddress)
		if err != nil {
			return err
		}
		if moduleAcc.BalanceQSD.Cmp(credit) < 0 {
			return errNoCredit
		}
		recipientAcc, err := r.loadAccount(recipient)
		if err != nil {
			return err
		}
		moduleAcc.BalanceQSD = new(big.Int).Sub(moduleAcc.BalanceQSD, credit)
		recipientAcc.BalanceQSD = new(big.Int).Add(recipientAcc.BalanceQSD, credit)
		if err := r.state.PutAccount(r.moduleAddress, moduleAcc); err != nil {
			return err
		}
		if err := r.state.PutAccount(recipient, recipientAcc); err != nil {
			return err
		}
	}
	if collateral.Sign() > 0 && r.collateral != nil {
		cap := r.collateral.GrantRecipient(recipient)
		if err := r.collateral.Transfer(r.moduleAddress, recipient, collateral); err != nil {
			cap.Revoke()
			return err
		}
	}
	if err := r.state.PutPosition(pos); err != nil {
		return err
	}
	r.emit(Claimed{Principal: principal, Recipient: recipient, Credit: credit, Collateral: collateral})
	return nil
}

// PositionOf returns a copy of the principal's registry record.
func (r *Registry) PositionOf(principal [20]byte) (*Position, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	pos, err := r.requirePosition(principal)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

func (r *Registry) requirePosition(principal [20]byte) (*Position, error) {
	pos, err := r.state.GetPosition(principal)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, errUnknownPrincipal
	}
	if pos.Credit == nil {
		pos.Credit = big.NewInt(0)
	}
	if pos.CollateralCredit == nil {
		pos.CollateralCredit = big.NewInt(0)
	}
	return pos, nil
}

func (r *Registry) loadAccount(addr [20]byte) (*types.Account, error) {
	acc, err := r.state.GetAccount(addr)
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

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}
