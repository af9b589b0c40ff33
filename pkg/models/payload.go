package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Event payloads are tagged per status instead of free-form maps. Each
// variant marshals into the OrderEvent jsonb column and rides verbatim as
// the data field of the status wire event.

// RoutingPayload records every raw quote and the routing decision.
type RoutingPayload struct {
	Quotes map[string]Quote `json:"quotes"`
	Chosen Quote            `json:"chosen"`
}

// BuildingPayload carries the venue the transaction is being built for.
type BuildingPayload struct {
	ChosenDex string `json:"chosenDex"`
}

// SubmittedPayload carries the slippage bound. Informational: enforcement,
// if any, is a gateway concern.
type SubmittedPayload struct {
	MinOut decimal.Decimal `json:"minOut"`
}

// ConfirmedPayload carries the execution result.
type ConfirmedPayload struct {
	TxHash        string          `json:"txHash"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
}

// RetryPayload notifies of a non-final attempt failure. It is layered on
// top of the last real status, never a state-machine transition.
type RetryPayload struct {
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
	Total   int    `json:"total"`
}

// FailedPayload carries the terminal error message.
type FailedPayload struct {
	Error string `json:"error"`
}

// MarshalPayload converts a payload variant into its stored form.
// A nil payload becomes an empty document.
func MarshalPayload(v interface{}) (JSONB, error) {
	if v == nil {
		return JSONB("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONB(raw), nil
}
