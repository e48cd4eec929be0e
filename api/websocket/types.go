package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/0xmhha/pool-indexer/types"
)

// SubscriptionType represents the type of subscription
type SubscriptionType string

const (
	// SubscribeNewTransaction subscribes to every new record
	SubscribeNewTransaction SubscriptionType = "newTransaction"

	// SubscribeDeposit subscribes to new deposits
	SubscribeDeposit SubscriptionType = "deposit"

	// SubscribeWithdraw subscribes to new withdrawals
	SubscribeWithdraw SubscriptionType = "withdraw"
)

// Client message types
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessagePing        = "ping"
)

// Server message types
const (
	MessageEvent        = "event"
	MessageSubscribed   = "subscribed"
	MessageUnsubscribed = "unsubscribed"
	MessagePong         = "pong"
	MessageError        = "error"
)

// Valid reports whether t is a known subscription type
func (t SubscriptionType) Valid() bool {
	switch t {
	case SubscribeNewTransaction, SubscribeDeposit, SubscribeWithdraw:
		return true
	}
	return false
}

// actionSubscription maps a record action to its action-specific subscription
func actionSubscription(a types.Action) SubscriptionType {
	switch a {
	case types.ActionDeposit:
		return SubscribeDeposit
	case types.ActionWithdraw:
		return SubscribeWithdraw
	}
	return ""
}

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest is the payload of subscribe and unsubscribe messages
type SubscribeRequest struct {
	Type SubscriptionType `json:"type"`
}

// Event represents a subscription event
type Event struct {
	Type SubscriptionType         `json:"type"`
	Data *types.TransactionRecord `json:"data"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Error string `json:"error"`
}

// SuccessMessage represents a success message
type SuccessMessage struct {
	Message string `json:"message"`
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	msg := Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Payload = data
	}
	return json.Marshal(msg)
}
