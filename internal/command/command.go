// Package command defines the typed inputs to the settlement engine. Every
// external stimulus, buyer actions, registry results, and owner admin, is
// parsed into one of these before it reaches the engine loop.
package command

import "time"

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeBuyPrimary
	CommandTypeBuyResale
	CommandTypeMintResult
	CommandTypeDropInfoResult
	CommandTypeTransferResult
	CommandTypeListForResale
	CommandTypeRevokeListing
	CommandTypeChangeResalePrice
	CommandTypeLedgerDeposit
	CommandTypeLedgerWithdraw
	CommandTypeCreateEvent
	CommandTypeAddTiers
	CommandTypeModifyTierPrices
	CommandTypeModifyMaxKeys
	CommandTypeSetEventStatus
	CommandTypeSetResaleStatus
	CommandTypeDeleteEvent
	CommandTypeSetFreeze
	CommandTypeUpdateConfig
)

// Command is the interface all engine inputs implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Actor returns the authenticated account the command acts as
	Actor() string

	// Timestamp returns the versioned input time. The engine never reads
	// the wall clock; this is the only time it sees.
	Timestamp() time.Time
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeBuyPrimary:
		return "BuyPrimary"
	case CommandTypeBuyResale:
		return "BuyResale"
	case CommandTypeMintResult:
		return "MintResult"
	case CommandTypeDropInfoResult:
		return "DropInfoResult"
	case CommandTypeTransferResult:
		return "TransferResult"
	case CommandTypeListForResale:
		return "ListForResale"
	case CommandTypeRevokeListing:
		return "RevokeListing"
	case CommandTypeChangeResalePrice:
		return "ChangeResalePrice"
	case CommandTypeLedgerDeposit:
		return "LedgerDeposit"
	case CommandTypeLedgerWithdraw:
		return "LedgerWithdraw"
	case CommandTypeCreateEvent:
		return "CreateEvent"
	case CommandTypeAddTiers:
		return "AddTiers"
	case CommandTypeModifyTierPrices:
		return "ModifyTierPrices"
	case CommandTypeModifyMaxKeys:
		return "ModifyMaxKeys"
	case CommandTypeSetEventStatus:
		return "SetEventStatus"
	case CommandTypeSetResaleStatus:
		return "SetResaleStatus"
	case CommandTypeDeleteEvent:
		return "DeleteEvent"
	case CommandTypeSetFreeze:
		return "SetFreeze"
	case CommandTypeUpdateConfig:
		return "UpdateConfig"
	default:
		return "Unknown"
	}
}
