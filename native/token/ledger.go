package token

import (
	"errors"
	"math/big"

	"lendgate/core/events"
	"lendgate/core/types"
)

var (
	errNilState              = errors.New("token ledger: state not configured")
	errInvalidAmount         = errors.New("token ledger: amount must be positive")
	errInsufficientBalance   = errors.New("token ledger: insufficient balance")
	errRecipientNotPermitted = errors.New("token ledger: recipient not permitted")
	errNotIssuer             = errors.New("token ledger: caller is not the issuer")
)

// Errors exported for callers that map ledger failures onto their own
// taxonomy.
var (
	ErrRecipientNotPermitted = errRecipientNotPermitted
	ErrNotIssuer             = errNotIssuer
)

type ledgerState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Capability is a single-use, transaction-scoped permission for one recipient
// to receive a CLT transfer. It is created immediately before a transfer and
// consumed by that or any subsequent transfer; it never persists across
// operations.
type Capability struct {
	ledger    *Ledger
	recipient [20]byte
}

// Recipient returns the address the capability was granted to.
func (c *Capability) Recipient() [20]byte {
	if c == nil {
		return [20]byte{}
	}
	return c.recipient
}

// Revoke clears the grant if it is still standing.
func (c *Capability) Revoke() {
	if c == nil || c.ledger == nil {
		return
	}
	if c.ledger.armed && c.ledger.permitted == c.recipient {
		c.ledger.armed = false
		c.ledger.permitted = [20]byte{}
	}
	c.ledger = nil
}

// Ledger maintains CLT balances with issuer-restricted transfers: only the
// issuer itself or the currently capability-granted recipient may receive
// tokens.
type Ledger struct {
	state     ledgerState
	issuer    [20]byte
	sink      [20]byte
	permitted [20]byte
	armed     bool
	emitter   events.Emitter
}

// NewLedger constructs a CLT ledger bound to the issuer treasury and its
// circulation sink.
func NewLedger(issuer, sink [20]byte) *Ledger {
	return &Ledger{issuer: issuer, sink: sink, emitter: events.NoopEmitter{}}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Issuer returns the issuer treasury address.
func (l *Ledger) Issuer() [20]byte { return l.issuer }

// Sink returns the circulation sink address.
func (l *Ledger) Sink() [20]byte { return l.sink }

// GrantRecipient arms the single-use capability for the supplied recipient.
// Any transfer consumes the grant, whether or not it targeted the recipient.
func (l *Ledger) GrantRecipient(recipient [20]byte) *Capability {
	if l == nil {
		return nil
	}
	l.permitted = recipient
	l.armed = true
	return &Capability{ledger: l, recipient: recipient}
}

func (l *Ledger) consumeGrant() {
	l.permitted = [20]byte{}
	l.armed = false
}

func (l *Ledger) recipientAllowed(to [20]byte) bool {
	if to == l.issuer || to == l.sink {
		return true
	}
	return l.armed && to == l.permitted
}

// AllocateTo mints CLT from the issuer treasury to a permitted recipient.
func (l *Ledger) AllocateTo(recipient [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !l.recipientAllowed(recipient) {
		return errRecipientNotPermitted
	}
	defer l.consumeGrant()
	acc, err := l.loadAccount(recipient)
	if err != nil {
		return err
	}
	acc.BalanceCLT = new(big.Int).Add(acc.BalanceCLT, amount)
	if err := l.state.PutAccount(recipient, acc); err != nil {
		return err
	}
	l.emit(Allocated{Recipient: recipient, Amount: amount})
	return nil
}

// Transfer moves CLT between accounts, enforcing the recipient restriction and
// consuming any standing capability grant.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !l.recipientAllowed(to) {
		return errRecipientNotPermitted
	}
	defer l.consumeGrant()
	fromAcc, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceCLT.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.BalanceCLT = new(big.Int).Sub(fromAcc.BalanceCLT, amount)
	toAcc.BalanceCLT = new(big.Int).Add(toAcc.BalanceCLT, amount)
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}

// Retire forwards CLT from the holder to the circulation sink, removing it
// from circulation. The sink is always a permitted recipient.
func (l *Ledger) Retire(from [20]byte, amount *big.Int) error {
	if err := l.Transfer(from, l.sink, amount); err != nil {
		return err
	}
	l.emit(Retired{From: from, Amount: amount})
	return nil
}

// BalanceOf reports the CLT balance held by the supplied address.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.BalanceCLT), nil
}

func (l *Ledger) loadAccount(addr [20]byte) (*types.Account, error) {
	acc, err := l.state.GetAccount(addr)
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

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(evt)
}
