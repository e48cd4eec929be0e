// Package types defines the canonical transaction record produced by the indexer.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Action tags the direction of a pool transaction
type Action string

const (
	// ActionDeposit is a USDC to BLTM swap
	ActionDeposit Action = "Deposit"

	// ActionWithdraw is a BLTM to USDC redemption
	ActionWithdraw Action = "Withdraw"
)

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	return a == ActionDeposit || a == ActionWithdraw
}

// ParseAction parses an action name case-insensitively
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deposit":
		return ActionDeposit, nil
	case "withdraw":
		return ActionWithdraw, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Source identifies which ingestion path persisted a record
type Source string

const (
	// SourceBackfill marks records inserted by historical backfill
	SourceBackfill Source = "backfill"

	// SourceLive marks records inserted by the live watcher
	SourceLive Source = "live"
)

// DateLayout is the layout used to render record dates
const DateLayout = "2006-01-02 15:04:05 UTC"

var (
	// ErrInvalidHash is returned when a transaction hash is not 32 bytes of hex
	ErrInvalidHash = errors.New("invalid transaction hash")
)

// TransactionRecord is the canonical unit of the transaction history.
// Records are created once by normalization and never mutated afterwards.
type TransactionRecord struct {
	TxHash      string `json:"txHash"`
	Timestamp   uint64 `json:"timestamp"`
	Date        string `json:"date"`
	Action      Action `json:"action"`
	Amount      string `json:"amount"`
	User        string `json:"user"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
	Source      Source `json:"source"`
}

// Validate checks the fields every stored record must carry
func (r *TransactionRecord) Validate() error {
	if r == nil {
		return errors.New("record cannot be nil")
	}
	if _, err := NormalizeTxHash(r.TxHash); err != nil {
		return err
	}
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action %q", r.Action)
	}
	if r.Amount == "" {
		return errors.New("amount cannot be empty")
	}
	if !common.IsHexAddress(r.User) {
		return fmt.Errorf("invalid user address %q", r.User)
	}
	return nil
}

// Clone returns a shallow copy of the record
func (r *TransactionRecord) Clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// FormatDate renders a unix timestamp in DateLayout
func FormatDate(timestamp uint64) string {
	return time.Unix(int64(timestamp), 0).UTC().Format(DateLayout)
}

// NormalizeTxHash returns the lowercase 0x-prefixed form of a transaction hash
func NormalizeTxHash(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	if len(h) != 2+2*common.HashLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	for _, c := range h[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
		}
	}
	return h, nil
}
