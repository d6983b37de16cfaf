package market

import (
	"encoding/hex"
	"math/big"

	"lendgate/core/events"
	"lendgate/core/types"
)

const (
	EventTypeLiquidated = "market.liquidated"
	EventTypeRepaid     = "market.repaid"
)

// Liquidated is emitted once collateral has been seized from a borrower.
type Liquidated struct {
	MarketID [32]byte
	Borrower [20]byte
	Seized   *big.Int
	Repaid   *big.Int
}

func (Liquidated) EventType() string { return EventTypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLiquidated,
		Attributes: map[string]string{
			"market":   hex.EncodeToString(e.MarketID[:]),
			"borrower": hex.EncodeToString(e.Borrower[:]),
			"seized":   formatAmount(e.Seized),
			"repaid":   formatAmount(e.Repaid),
		},
	}
}

// Repaid is emitted when borrow shares are settled on behalf of a position.
type Repaid struct {
	MarketID [32]byte
	OnBehalf [20]byte
	Assets   *big.Int
	Shares   *big.Int
}

func (Repaid) EventType() string { return EventTypeRepaid }

func (e Repaid) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRepaid,
		Attributes: map[string]string{
			"market":   hex.EncodeToString(e.MarketID[:]),
			"onBehalf": hex.EncodeToString(e.OnBehalf[:]),
			"assets":   formatAmount(e.Assets),
			"shares":   formatAmount(e.Shares),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
