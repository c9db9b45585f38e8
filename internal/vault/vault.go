package vault

import (
	"github.com/google/uuid"
)

// State tracks the vault lifecycle. Vaults become Active on creation and stay
// Active: none of the position operations reaches a terminal state.
type State int32

const (
	StateUninitialized State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// Vault is one user's position: outstanding debt and deposited collateral
// against a specific (DebtType, VaultType) pair. Balances are mutated only by
// the four position operations, never directly.
type Vault struct {
	ID               uuid.UUID
	DebtType         uuid.UUID
	VaultType        uuid.UUID
	Owner            uuid.UUID
	DebtAmount       int64
	CollateralAmount int64
	State            State
	Version          int64 // Optimistic concurrency control
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (v *Vault) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)

	buf = append(buf, v.ID[:]...)
	buf = append(buf, v.VaultType[:]...)
	buf = append(buf, v.Owner[:]...)
	buf = appendInt64LE(buf, v.DebtAmount)
	buf = appendInt64LE(buf, v.CollateralAmount)
	buf = append(buf, byte(v.State))

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
