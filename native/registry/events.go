package registry

import (
	"encoding/hex"
	"math/big"

	"lendgate/core/types"
)

const (
	EventTypeRegistered = "lending.position.registered"
	EventTypeCredited   = "lending.position.credited"
	EventTypeClaimed    = "lending.position.claimed"
)

// Registered is emitted once when a principal is bound to its approval roles.
type Registered struct {
	Principal  [20]byte
	Validator  [20]byte
	Authorizer [20]byte
}

func (Registered) EventType() string { return EventTypeRegistered }

func (e Registered) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRegistered,
		Attributes: map[string]string{
			"principal":  hex.EncodeToString(e.Principal[:]),
			"validator":  hex.EncodeToString(e.Validator[:]),
			"authorizer": hex.EncodeToString(e.Authorizer[:]),
		},
	}
}

// Credited is emitted when the settlement engine releases proceeds to a
// principal.
type Credited struct {
	Principal  [20]byte
	Collateral *big.Int
	Surplus    *big.Int
}

func (Credited) EventType() string { return EventTypeCredited }

func (e Credited) Event() *types.Event {
	return &types.Event{
		Type: EventTypeCredited,
		Attributes: map[string]string{
			"principal":  hex.EncodeToString(e.Principal[:]),
			"collateral": formatAmount(e.Collateral),
			"surplus":    formatAmount(e.Surplus),
		},
	}
}

// Claimed is emitted when a principal's accumulated credit is paid out.
type Claimed struct {
	Principal  [20]byte
	Recipient  [20]byte
	Credit     *big.Int
	Collateral *big.Int
}

func (Claimed) EventType() string { return EventTypeClaimed }

func (e Claimed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeClaimed,
		Attributes: map[string]string{
			"principal":  hex.EncodeToString(e.Principal[:]),
			"recipient":  hex.EncodeToString(e.Recipient[:]),
			"credit":     formatAmount(e.Credit),
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
