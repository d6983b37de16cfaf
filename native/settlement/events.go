package settlement

import (
	"encoding/hex"
	"math/big"

	"lendgate/core/types"
)

const (
	EventTypeSettled   = "settlement.payment.settled"
	EventTypeFinalized = "settlement.position.finalized"
)

// Settled is emitted after a payment fully resolves, with the branch taken
// and the computed split.
type Settled struct {
	Principal [20]byte
	TradeID   [32]byte
	Branch    string
	Amount    *big.Int
	Result    *Result
}

func (Settled) EventType() string { return EventTypeSettled }

func (e Settled) Event() *types.Event {
	attrs := map[string]string{
		"principal": hex.EncodeToString(e.Principal[:]),
		"tradeId":   hex.EncodeToString(e.TradeID[:]),
		"branch":    e.Branch,
		"amount":    formatAmount(e.Amount),
	}
	if e.Result != nil {
		attrs["seized"] = formatAmount(e.Result.SeizedCollateral)
		attrs["remaining"] = formatAmount(e.Result.RemainingCollateral)
		attrs["repaid"] = formatAmount(e.Result.RepaidDebt)
		attrs["surplus"] = formatAmount(e.Result.Surplus)
		attrs["profit"] = formatAmount(e.Result.Profit)
	}
	return &types.Event{Type: EventTypeSettled, Attributes: attrs}
}

// Finalized is emitted when stranded collateral is recovered from a repaid
// position and retired.
type Finalized struct {
	Principal  [20]byte
	PositionID [32]byte
	Collateral *big.Int
}

func (Finalized) EventType() string { return EventTypeFinalized }

func (e Finalized) Event() *types.Event {
	return &types.Event{
		Type: EventTypeFinalized,
		Attributes: map[string]string{
			"principal":  hex.EncodeToString(e.Principal[:]),
			"positionId": hex.EncodeToString(e.PositionID[:]),
			"collateral": formatAmount(e.Collateral),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
