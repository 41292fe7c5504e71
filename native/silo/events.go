package silo

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is the marker interface for silo engine notifications delivered
// through the emitter callback.
type Event interface {
	EventType() string
}

// DepositCreated is emitted when a lot is created or topped up at an existing
// stem.
type DepositCreated struct {
	Owner  common.Address
	Asset  common.Address
	Stem   *big.Int
	Amount *big.Int
	BDV    *big.Int
}

// EventType implements Event.
func (DepositCreated) EventType() string { return "silo.deposit.created" }

// WithdrawalExecuted is emitted after a plan has been executed and value
// delivered.
type WithdrawalExecuted struct {
	Owner        common.Address
	Recipient    common.Address
	DeliveredBDV *big.Int
	Assets       int
}

// EventType implements Event.
func (WithdrawalExecuted) EventType() string { return "silo.withdrawal.executed" }
