package abi

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrUnknownContract is returned when no ABI is loaded for the log's address
	ErrUnknownContract = errors.New("ABI not found for contract")

	// ErrUnknownEvent is returned when topic0 does not match any event of the ABI
	ErrUnknownEvent = errors.New("unknown event")

	// ErrMalformedLog is returned when topics or data do not match the event inputs
	ErrMalformedLog = errors.New("malformed log")
)

// ContractABI wraps the go-ethereum ABI with additional metadata
type ContractABI struct {
	Address common.Address
	Name    string
	parsed  *abi.ABI
}

// DecodedLog represents a decoded event log
type DecodedLog struct {
	Address     common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool

	EventName string
	// Args holds the raw go-ethereum values (*big.Int, common.Address, ...)
	Args map[string]interface{}
}

// Decoder handles ABI decoding operations. It is safe for concurrent use.
type Decoder struct {
	mu        sync.RWMutex
	contracts map[common.Address]*ContractABI
}

// NewDecoder creates a new ABI decoder
func NewDecoder() *Decoder {
	return &Decoder{
		contracts: make(map[common.Address]*ContractABI),
	}
}

// LoadABI loads and parses an ABI for a contract
func (d *Decoder) LoadABI(address common.Address, name string, abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("failed to parse ABI: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.contracts[address] = &ContractABI{
		Address: address,
		Name:    name,
		parsed:  &parsed,
	}

	return nil
}

// HasABI checks if an ABI is loaded for a contract
func (d *Decoder) HasABI(address common.Address) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.contracts[address]
	return exists
}

// EventID returns the topic0 of the named event of a loaded contract
func (d *Decoder) EventID(address common.Address, eventName string) (common.Hash, error) {
	d.mu.RLock()
	contractABI, exists := d.contracts[address]
	d.mu.RUnlock()
	if !exists {
		return common.Hash{}, fmt.Errorf("%w %s", ErrUnknownContract, address.Hex())
	}

	event, ok := contractABI.parsed.Events[eventName]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownEvent, eventName)
	}
	return event.ID, nil
}

// DecodeLog decodes an event log using the contract's ABI
func (d *Decoder) DecodeLog(log *types.Log) (*DecodedLog, error) {
	if log == nil {
		return nil, fmt.Errorf("%w: nil log", ErrMalformedLog)
	}

	d.mu.RLock()
	contractABI, exists := d.contracts[log.Address]
	d.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w %s", ErrUnknownContract, log.Address.Hex())
	}

	// Logs must have at least one topic (the event signature)
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", ErrMalformedLog)
	}

	eventID := log.Topics[0]
	event, err := contractABI.parsed.EventByID(eventID)
	if err != nil {
		return nil, fmt.Errorf("%w for topic %s", ErrUnknownEvent, eventID.Hex())
	}

	args := make(map[string]interface{})

	var indexed, nonIndexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	// Topics[1:] contain indexed parameters
	if len(indexed) > 0 {
		if len(log.Topics)-1 != len(indexed) {
			return nil, fmt.Errorf("%w: %s expects %d indexed topics, got %d",
				ErrMalformedLog, event.Name, len(indexed), len(log.Topics)-1)
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("%w: failed to parse indexed parameters: %v", ErrMalformedLog, err)
		}
	}

	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			return nil, fmt.Errorf("%w: failed to parse non-indexed parameters: %v", ErrMalformedLog, err)
		}
	}

	return &DecodedLog{
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Removed:     log.Removed,
		EventName:   event.RawName,
		Args:        args,
	}, nil
}

// ValidateABI validates an ABI JSON string
func ValidateABI(abiJSON string) error {
	_, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("invalid ABI: %w", err)
	}
	return nil
}
