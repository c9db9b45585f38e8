package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustodyBacking verifies the custody account holds exactly the
// collateral recorded across a vault type's positions
func (v *InvariantValidator) ValidateCustodyBacking(vaultTypeID uuid.UUID, token uuid.UUID, positionTotal int64) error {
	held := v.tracker.CustodyBalance(vaultTypeID, token)
	if held != positionTotal {
		return fmt.Errorf("custody for vault type %s holds %d but positions record %d",
			vaultTypeID.String(), held, positionTotal)
	}
	return nil
}

// ValidateDebtBacking verifies the outstanding debt account matches the
// debt recorded across a debt type's positions
func (v *InvariantValidator) ValidateDebtBacking(debtTypeID uuid.UUID, token uuid.UUID, positionTotal int64) error {
	outstanding := v.tracker.DebtOutstanding(debtTypeID, token)
	if outstanding != positionTotal {
		return fmt.Errorf("debt type %s has %d outstanding but positions record %d",
			debtTypeID.String(), outstanding, positionTotal)
	}
	return nil
}

// ValidateCustodyNonNegative checks custody collateral >= 0
func (v *InvariantValidator) ValidateCustodyNonNegative(vaultTypeID uuid.UUID, token uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewCustodyAccountKey(vaultTypeID, token))
}

// ValidateGlobalBalance verifies the ledger is zero-sum per token
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for token, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for token %s is non-zero: %d", token.String(), total)
		}
	}

	return nil
}
