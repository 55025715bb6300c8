package settlement

import (
	"fmt"

	"TicketLedger/internal/pricing"
	"TicketLedger/internal/registry"
)

// Config holds the engine's runtime settings. Loaded from the environment at
// startup; a subset is owner-adjustable at runtime via UpdateConfig.
type Config struct {
	// Owner may freeze the marketplace and change runtime settings.
	Owner string
	// RegistryAccount is the registry's own account. Payout shares aimed at
	// it are converted into claim links instead of direct transfers.
	RegistryAccount string
	// RelayAccount is the trusted payment gateway. Purchases it forwards
	// settle the ticket price off-platform.
	RelayAccount string

	// Storage pricing.
	BaseKeyStorageBytes int64
	ByteCost            int64
	SafetyFactorBps     uint64
	MaxMetadataBytes    int64

	// Resale price band.
	MarkupPercent uint64
	PriceFloor    int64

	// Payout acceptance.
	MaxPayoutEntries int
	PayoutTolerance  int64
}

// Guard builds the price guard from the current band settings.
func (c *Config) Guard() pricing.Guard {
	return pricing.Guard{MarkupPercent: c.MarkupPercent, Floor: c.PriceFloor}
}

// StorageCost prices the registry storage a mint will occupy. Each key costs
// its base record plus its metadata, padded by the safety factor so a
// registry-side price bump does not strand the mint.
func (c *Config) StorageCost(keys []registry.KeyData) int64 {
	var total int64
	for _, k := range keys {
		perKey := (c.BaseKeyStorageBytes + int64(len(k.Metadata))) * c.ByteCost
		total += perKey * int64(c.SafetyFactorBps) / 10_000
	}
	return total
}

// MinKeyStorageCost is the storage price of one metadata-free key, the
// floor a paid tier price must clear to ever mint profitably.
func (c *Config) MinKeyStorageCost() int64 {
	return c.BaseKeyStorageBytes * c.ByteCost * int64(c.SafetyFactorBps) / 10_000
}

// CatalogStorageCost prices the catalog bytes an event occupies.
func (c *Config) CatalogStorageCost(name, metadata string, tierCount int) int64 {
	bytes := int64(len(name)+len(metadata)) + int64(tierCount)*c.BaseKeyStorageBytes
	return bytes * c.ByteCost * int64(c.SafetyFactorBps) / 10_000
}

// ValidateKeys rejects oversized key metadata before any money moves.
func (c *Config) ValidateKeys(keys []registry.KeyData) error {
	if len(keys) == 0 {
		return fmt.Errorf("no keys requested")
	}
	for i, k := range keys {
		if k.PublicKey == "" {
			return fmt.Errorf("key %d has empty public key", i)
		}
		if int64(len(k.Metadata)) > c.MaxMetadataBytes {
			return fmt.Errorf("key %d metadata is %d bytes, limit %d", i, len(k.Metadata), c.MaxMetadataBytes)
		}
	}
	return nil
}
