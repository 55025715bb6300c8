package command

import "time"

// LedgerDeposit tops up an account's pre-funded balance with attached
// payment.
type LedgerDeposit struct {
	CommandID string
	Account   string
	Amount    int64
	At        time.Time
}

func (c *LedgerDeposit) IdempotencyKey() string   { return c.CommandID }
func (c *LedgerDeposit) CommandType() CommandType { return CommandTypeLedgerDeposit }
func (c *LedgerDeposit) Actor() string            { return c.Account }
func (c *LedgerDeposit) Timestamp() time.Time     { return c.At }

// LedgerWithdraw sweeps an account's entire pre-funded balance back to the
// account. Partial withdrawals are not offered.
type LedgerWithdraw struct {
	CommandID string
	Account   string
	At        time.Time
}

func (c *LedgerWithdraw) IdempotencyKey() string   { return c.CommandID }
func (c *LedgerWithdraw) CommandType() CommandType { return CommandTypeLedgerWithdraw }
func (c *LedgerWithdraw) Actor() string            { return c.Account }
func (c *LedgerWithdraw) Timestamp() time.Time     { return c.At }
