package token

import (
	"math/big"
	"testing"

	"lendgate/core/types"
)

type mockLedgerState struct {
	accounts map[[20]byte]*types.Account
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{accounts: make(map[[20]byte]*types.Account)}
}

func (m *mockLedgerState) GetAccount(addr [20]byte) (*types.Account, error) {
	return m.accounts[addr], nil
}

func (m *mockLedgerState) PutAccount(addr [20]byte, account *types.Account) error {
	m.accounts[addr] = account
	return nil
}

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[19] = suffix
	return addr
}

func newTestLedger() (*Ledger, *mockLedgerState) {
	ledger := NewLedger(makeAddress(0x01), makeAddress(0x02))
	state := newMockLedgerState()
	ledger.SetState(state)
	return ledger, state
}

func TestAllocateRequiresGrant(t *testing.T) {
	ledger, _ := newTestLedger()
	holder := makeAddress(0x10)

	if err := ledger.AllocateTo(holder, big.NewInt(100)); err != errRecipientNotPermitted {
		t.Fatalf("expected recipient not permitted, got %v", err)
	}
	ledger.GrantRecipient(holder)
	if err := ledger.AllocateTo(holder, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	balance, err := ledger.BalanceOf(holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}
}

func TestTransferConsumesGrant(t *testing.T) {
	ledger, _ := newTestLedger()
	holder := makeAddress(0x10)
	receiver := makeAddress(0x11)

	ledger.GrantRecipient(holder)
	if err := ledger.AllocateTo(holder, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	ledger.GrantRecipient(receiver)
	if err := ledger.Transfer(holder, receiver, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	// The grant was consumed by the first transfer.
	if err := ledger.Transfer(holder, receiver, big.NewInt(10)); err != errRecipientNotPermitted {
		t.Fatalf("expected consumed grant to reject, got %v", err)
	}
}

func TestGrantConsumedByUnrelatedTransfer(t *testing.T) {
	ledger, _ := newTestLedger()
	holder := makeAddress(0x10)
	receiver := makeAddress(0x11)

	ledger.GrantRecipient(holder)
	if err := ledger.AllocateTo(holder, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	ledger.GrantRecipient(receiver)
	// A transfer to the sink is always allowed but still consumes the grant.
	if err := ledger.Retire(holder, big.NewInt(5)); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if err := ledger.Transfer(holder, receiver, big.NewInt(10)); err != errRecipientNotPermitted {
		t.Fatalf("expected consumed grant to reject, got %v", err)
	}
}

func TestRevokeClearsStandingGrant(t *testing.T) {
	ledger, _ := newTestLedger()
	holder := makeAddress(0x10)
	receiver := makeAddress(0x11)

	ledger.GrantRecipient(holder)
	if err := ledger.AllocateTo(holder, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	grant := ledger.GrantRecipient(receiver)
	grant.Revoke()
	if err := ledger.Transfer(holder, receiver, big.NewInt(10)); err != errRecipientNotPermitted {
		t.Fatalf("expected revoked grant to reject, got %v", err)
	}
}

func TestRevokeDoesNotClobberNewerGrant(t *testing.T) {
	ledger, _ := newTestLedger()
	holder := makeAddress(0x10)
	first := makeAddress(0x11)
	second := makeAddress(0x12)

	ledger.GrantRecipient(holder)
	if err := ledger.AllocateTo(holder, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	stale := ledger.GrantRecipient(first)
	ledger.GrantRecipient(second)
	stale.Revoke()
	if err := ledger.Transfer(holder, second, big.NewInt(10)); err != nil {
		t.Fatalf("transfer under newer grant: %v", err)
	}
}

func TestRetireRoutesToSink(t *testing.T) {
	ledger, state := newTestLedger()
	holder := makeAddress(0x10)

	ledger.GrantRecipient(holder)
	if err := ledger.AllocateTo(holder, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := ledger.Retire(holder, big.NewInt(60)); err != nil {
		t.Fatalf("retire: %v", err)
	}
	sinkAcc := state.accounts[ledger.Sink()]
	if sinkAcc == nil || sinkAcc.BalanceCLT.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected sink balance")
	}
	balance, _ := ledger.BalanceOf(holder)
	if balance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected holder balance %s", balance)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ledger, _ := newTestLedger()
	holder := makeAddress(0x10)
	receiver := makeAddress(0x11)

	ledger.GrantRecipient(receiver)
	if err := ledger.Transfer(holder, receiver, big.NewInt(10)); err != errInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}
