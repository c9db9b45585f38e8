package core

import (
	"time"

	"cdpvault/internal/ledger"
	"cdpvault/internal/token"

	"github.com/google/uuid"
)

// OpType identifies a vault engine operation
type OpType int32

const (
	OpInitDebtType OpType = iota
	OpInitVaultType
	OpInitVault
	OpStake
	OpBorrow
	OpRepay
	OpUnstake
)

func (t OpType) String() string {
	switch t {
	case OpInitDebtType:
		return "init_debt_type"
	case OpInitVaultType:
		return "init_vault_type"
	case OpInitVault:
		return "init_vault"
	case OpStake:
		return "stake"
	case OpBorrow:
		return "borrow"
	case OpRepay:
		return "repay"
	case OpUnstake:
		return "unstake"
	default:
		return "unknown"
	}
}

// ParseOpType resolves the wire name of an operation
func ParseOpType(s string) (OpType, bool) {
	switch s {
	case "init_debt_type":
		return OpInitDebtType, true
	case "init_vault_type":
		return OpInitVaultType, true
	case "init_vault":
		return OpInitVault, true
	case "stake":
		return OpStake, true
	case "borrow":
		return OpBorrow, true
	case "repay":
		return OpRepay, true
	case "unstake":
		return OpUnstake, true
	default:
		return 0, false
	}
}

// OperationRecord is the durable log entry for one applied operation.
// Payload holds the canonical JSON encoding of the request so the
// operation can be re-applied during recovery.
type OperationRecord struct {
	Sequence  int64
	RequestID string
	Op        OpType
	VaultID   *uuid.UUID
	Caller    uuid.UUID
	Amount    int64
	Timestamp time.Time
	StateHash [32]byte
	PrevHash  [32]byte
	Payload   []byte
}

// EngineOutput is emitted to the persistence and publish channels
// after an operation is applied.
type EngineOutput struct {
	Record *OperationRecord
	Batch  *ledger.Batch
}

// --- Operation requests ---

type InitDebtTypeRequest struct {
	RequestID  string        `json:"request_id"`
	DebtTypeID uuid.UUID     `json:"debt_type_id"`
	DebtToken  token.AssetID `json:"debt_token"`
	Nonce      uint8         `json:"nonce"`
	Owner      uuid.UUID     `json:"owner"`
}

type InitVaultTypeRequest struct {
	RequestID         string          `json:"request_id"`
	VaultTypeID       uuid.UUID       `json:"vault_type_id"`
	DebtTypeID        uuid.UUID       `json:"debt_type_id"`
	CollateralToken   token.AssetID   `json:"collateral_token"`
	CollateralCustody token.AccountID `json:"collateral_custody"`
	Nonce             uint8           `json:"nonce"`
	Caller            uuid.UUID       `json:"caller"`
}

type InitVaultRequest struct {
	RequestID   string    `json:"request_id"`
	VaultID     uuid.UUID `json:"vault_id"`
	VaultTypeID uuid.UUID `json:"vault_type_id"`
	Owner       uuid.UUID `json:"owner"`
	// Opening balances carried into the new vault, recorded on the books
	// without moving tokens. Zero for a fresh position.
	InitialDebt       int64 `json:"initial_debt,omitempty"`
	InitialCollateral int64 `json:"initial_collateral,omitempty"`
}

type StakeRequest struct {
	RequestID       string          `json:"request_id"`
	VaultID         uuid.UUID       `json:"vault_id"`
	Source          token.AccountID `json:"source"`
	Amount          int64           `json:"amount"`
	Caller          uuid.UUID       `json:"caller"`
	ExpectedVersion int64           `json:"expected_version,omitempty"`
}

type BorrowRequest struct {
	RequestID       string          `json:"request_id"`
	VaultID         uuid.UUID       `json:"vault_id"`
	Destination     token.AccountID `json:"destination"`
	Amount          int64           `json:"amount"`
	Caller          uuid.UUID       `json:"caller"`
	ExpectedVersion int64           `json:"expected_version,omitempty"`
}

type RepayRequest struct {
	RequestID       string          `json:"request_id"`
	VaultID         uuid.UUID       `json:"vault_id"`
	Source          token.AccountID `json:"source"`
	Amount          int64           `json:"amount"`
	Caller          uuid.UUID       `json:"caller"`
	ExpectedVersion int64           `json:"expected_version,omitempty"`
}

type UnstakeRequest struct {
	RequestID       string          `json:"request_id"`
	VaultID         uuid.UUID       `json:"vault_id"`
	Destination     token.AccountID `json:"destination"`
	Amount          int64           `json:"amount"`
	Caller          uuid.UUID       `json:"caller"`
	ExpectedVersion int64           `json:"expected_version,omitempty"`
}
