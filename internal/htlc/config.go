package htlc

import (
	"fmt"
	"time"

	"github.com/roach88/htlc/internal/ledger"
)

// Default validation bounds.
const (
	DefaultMinDuration           = time.Hour
	DefaultMaxDuration           = 24 * time.Hour
	DefaultPreimageMinLength     = 1
	DefaultPreimageMaxLength     = 255
	DefaultPreimageDefaultLength = 32

	// DefaultToken is the ledger's native token standard.
	DefaultToken ledger.TokenStandard = "zts1znnxxxxxxxxxxxxx9z4ulx"
)

// Config holds the contract location and validation bounds used by Service.
// Duration bounds are configuration: deployments disagree on them.
type Config struct {
	ContractAddress ledger.Address
	DefaultToken    ledger.TokenStandard

	MinDuration time.Duration
	MaxDuration time.Duration

	PreimageMinLength     int
	PreimageMaxLength     int
	PreimageDefaultLength int
}

// DefaultConfig returns the reference bounds.
func DefaultConfig() Config {
	return Config{
		ContractAddress:       ledger.HtlcContractAddress,
		DefaultToken:          DefaultToken,
		MinDuration:           DefaultMinDuration,
		MaxDuration:           DefaultMaxDuration,
		PreimageMinLength:     DefaultPreimageMinLength,
		PreimageMaxLength:     DefaultPreimageMaxLength,
		PreimageDefaultLength: DefaultPreimageDefaultLength,
	}
}

// Validate checks the bounds are coherent.
func (c Config) Validate() error {
	if !ledger.IsEmbedded(c.ContractAddress) {
		return fmt.Errorf("contract address %s is not an embedded contract", c.ContractAddress.Hex())
	}
	if c.DefaultToken == "" {
		return fmt.Errorf("default token is empty")
	}
	if c.MinDuration <= 0 {
		return fmt.Errorf("min duration must be positive, got %s", c.MinDuration)
	}
	if c.MaxDuration < c.MinDuration {
		return fmt.Errorf("max duration %s is below min duration %s", c.MaxDuration, c.MinDuration)
	}
	if c.PreimageMinLength < 1 {
		return fmt.Errorf("preimage min length must be at least 1, got %d", c.PreimageMinLength)
	}
	// keyMaxSize is a uint8 on the contract.
	if c.PreimageMaxLength > 255 {
		return fmt.Errorf("preimage max length must be at most 255, got %d", c.PreimageMaxLength)
	}
	if c.PreimageDefaultLength < c.PreimageMinLength || c.PreimageDefaultLength > c.PreimageMaxLength {
		return fmt.Errorf("preimage default length %d outside [%d, %d]",
			c.PreimageDefaultLength, c.PreimageMinLength, c.PreimageMaxLength)
	}
	return nil
}
