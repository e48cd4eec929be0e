// Package sink forwards newly indexed records to downstream systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/0xmhha/pool-indexer/types"
)

// EnvelopeType is the type tag of record envelopes
const EnvelopeType = "transaction"

// Sink publishes records to one downstream system
type Sink interface {
	// Name labels the sink in logs and metrics
	Name() string

	// Publish delivers one record
	Publish(ctx context.Context, rec *types.TransactionRecord) error

	// Close releases the sink's connections
	Close() error
}

// Envelope is the wire format every sink publishes
type Envelope struct {
	Type      string                   `json:"type"`
	Record    *types.TransactionRecord `json:"record"`
	EmittedAt time.Time                `json:"emittedAt"`
}

// NewEnvelope wraps rec for publishing
func NewEnvelope(rec *types.TransactionRecord) *Envelope {
	return &Envelope{
		Type:      EnvelopeType,
		Record:    rec,
		EmittedAt: time.Now().UTC(),
	}
}

// Encode wraps rec in an envelope and marshals it
func Encode(rec *types.TransactionRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	data, err := json.Marshal(NewEnvelope(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}
