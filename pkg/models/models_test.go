package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusFailed.Terminal())

	for _, s := range []Status{StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusRetrying} {
		assert.False(t, s.Terminal(), "%s must not be terminal", s)
	}
}

func TestQuoteNet(t *testing.T) {
	tests := []struct {
		price string
		fee   string
		want  string
	}{
		{"10.0", "0.003", "9.97"},
		{"9.98", "0.002", "9.96004"},
		{"10.02", "0.002", "9.99996"},
		{"10", "0", "10"},
	}
	for _, tt := range tests {
		price, _ := decimal.NewFromString(tt.price)
		fee, _ := decimal.NewFromString(tt.fee)
		want, _ := decimal.NewFromString(tt.want)
		q := Quote{Venue: "raydium", Price: price, Fee: fee}
		assert.True(t, q.Net().Equal(want), "net(%s, %s) = %s, want %s", tt.price, tt.fee, q.Net(), tt.want)
	}
}

func TestJSONBValue(t *testing.T) {
	v, err := JSONB(`{"a":1}`).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), v)

	// Empty documents persist as an empty object, never null.
	v, err = JSONB(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), v)
}

func TestJSONBScan(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, JSONB(`{"a":1}`), j)

	require.NoError(t, j.Scan(`{"b":2}`))
	assert.Equal(t, JSONB(`{"b":2}`), j)

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)

	assert.Error(t, j.Scan(42))
}

func TestJSONBRoundTripThroughJSON(t *testing.T) {
	type wrapper struct {
		Payload JSONB `json:"payload"`
	}
	raw, err := json.Marshal(wrapper{Payload: JSONB(`{"minOut":"9.95"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload":{"minOut":"9.95"}}`, string(raw))

	var back wrapper
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.JSONEq(t, `{"minOut":"9.95"}`, string(back.Payload))
}

func TestMarshalPayloadVariants(t *testing.T) {
	raw, err := MarshalPayload(RetryPayload{Error: "MOCK_FAIL:swap_raydium", Attempt: 1, Total: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"MOCK_FAIL:swap_raydium","attempt":1,"total":3}`, string(raw))

	raw, err = MarshalPayload(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestRoutingPayloadJSON(t *testing.T) {
	price := decimal.RequireFromString("10.0")
	fee := decimal.RequireFromString("0.003")
	payload := RoutingPayload{
		Quotes: map[string]Quote{
			"raydium": {Venue: "raydium", Price: price, Fee: fee},
		},
		Chosen: Quote{Venue: "raydium", Price: price, Fee: fee},
	}
	raw, err := MarshalPayload(payload)
	require.NoError(t, err)

	var back RoutingPayload
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "raydium", back.Chosen.Venue)
	assert.True(t, back.Chosen.Price.Equal(price))
}
