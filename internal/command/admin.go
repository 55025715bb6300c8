package command

import "time"

// SetFreeze toggles the global freeze. While frozen, every command except
// owner admin and in-flight registry results is rejected. Owner only.
type SetFreeze struct {
	CommandID string
	Owner     string
	Frozen    bool
	At        time.Time
}

func (c *SetFreeze) IdempotencyKey() string   { return c.CommandID }
func (c *SetFreeze) CommandType() CommandType { return CommandTypeSetFreeze }
func (c *SetFreeze) Actor() string            { return c.Owner }
func (c *SetFreeze) Timestamp() time.Time     { return c.At }

// UpdateConfig changes runtime settings. Nil fields stay untouched. Owner
// only.
type UpdateConfig struct {
	CommandID string
	Owner     string

	MarkupPercent       *uint64
	PriceFloor          *int64
	RegistryAccount     *string
	RelayAccount        *string
	BaseKeyStorageBytes *int64
	ByteCost            *int64
	SafetyFactorBps     *uint64
	MaxMetadataBytes    *int64

	At time.Time
}

func (c *UpdateConfig) IdempotencyKey() string   { return c.CommandID }
func (c *UpdateConfig) CommandType() CommandType { return CommandTypeUpdateConfig }
func (c *UpdateConfig) Actor() string            { return c.Owner }
func (c *UpdateConfig) Timestamp() time.Time     { return c.At }
