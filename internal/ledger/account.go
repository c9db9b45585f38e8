package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeCustody AccountScope = iota
	AccountScopeDebt
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Custody sub-types
	SubTypeCollateral AccountSubType = iota

	// Debt sub-types
	SubTypeOutstanding

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalDebt
)

// AccountKey is the in-memory key for balance tracking (34 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // vault type ID for custody, debt type ID for debt accounts
	SubType  AccountSubType
	TokenID  [16]byte // token asset UUID
}

// NewCustodyAccountKey creates a key for a vault type's collateral custody account
func NewCustodyAccountKey(vaultTypeID uuid.UUID, token uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeCustody,
		EntityID: vaultTypeID,
		SubType:  SubTypeCollateral,
		TokenID:  token,
	}
}

// NewDebtAccountKey creates a key for a debt type's outstanding debt account
func NewDebtAccountKey(debtTypeID uuid.UUID, token uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeDebt,
		EntityID: debtTypeID,
		SubType:  SubTypeOutstanding,
		TokenID:  token,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, token uuid.UUID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		TokenID: token,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	tokenID := uuid.UUID(k.TokenID)

	switch k.Scope {
	case AccountScopeCustody:
		vt := uuid.UUID(k.EntityID)
		return fmt.Sprintf("custody:%s:%s:%s", vt.String(), k.subTypeName(), tokenID.String())
	case AccountScopeDebt:
		dt := uuid.UUID(k.EntityID)
		return fmt.Sprintf("debt:%s:%s:%s", dt.String(), k.subTypeName(), tokenID.String())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), tokenID.String())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeOutstanding:
		return "outstanding"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalDebt:
		return "debt"
	default:
		return "unknown"
	}
}
