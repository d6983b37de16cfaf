package token

import (
	"encoding/hex"
	"math/big"

	"lendgate/core/types"
)

const (
	EventTypeAllocated = "clt.allocated"
	EventTypeRetired   = "clt.retired"
)

// Allocated is emitted when the issuer mints CLT to a permitted recipient.
type Allocated struct {
	Recipient [20]byte
	Amount    *big.Int
}

func (Allocated) EventType() string { return EventTypeAllocated }

func (e Allocated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAllocated,
		Attributes: map[string]string{
			"recipient": hex.EncodeToString(e.Recipient[:]),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// Retired is emitted when CLT is forwarded to the circulation sink.
type Retired struct {
	From   [20]byte
	Amount *big.Int
}

func (Retired) EventType() string { return EventTypeRetired }

func (e Retired) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRetired,
		Attributes: map[string]string{
			"from":   hex.EncodeToString(e.From[:]),
			"amount": formatAmount(e.Amount),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
