package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for vault operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence resets the generator's sequence counter (used on recovery)
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(requestRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:    uuid.New(),
		RequestRef: requestRef,
		Sequence:   jg.sequence,
		Timestamp:  timestamp,
		Journals:   make([]Journal, 0, 1),
	}
}

// GenerateOpeningBalances records balances carried into a newly created
// vault. Books only, no token movement: collateral is entered like a stake
// and debt like a borrow, so custody and debt backing stay consistent with
// the position totals. Returns nil when both amounts are zero.
func (jg *JournalGenerator) GenerateOpeningBalances(
	requestRef string,
	vaultTypeID uuid.UUID,
	collateralToken uuid.UUID,
	debtTypeID uuid.UUID,
	debtToken uuid.UUID,
	initialCollateral int64,
	initialDebt int64,
	timestamp int64,
) (*Batch, error) {
	if initialCollateral < 0 || initialDebt < 0 {
		return nil, fmt.Errorf("opening balances must be non-negative: collateral %d, debt %d", initialCollateral, initialDebt)
	}
	if initialCollateral == 0 && initialDebt == 0 {
		return nil, nil
	}

	batch := jg.newBatch(requestRef, timestamp)
	if initialCollateral > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batch.BatchID,
			RequestRef:    requestRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewCustodyAccountKey(vaultTypeID, collateralToken),
			CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, collateralToken),
			TokenID:       collateralToken,
			Amount:        initialCollateral,
			JournalType:   JournalTypeStake,
			Timestamp:     timestamp,
		})
	}
	if initialDebt > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batch.BatchID,
			RequestRef:    requestRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewDebtAccountKey(debtTypeID, debtToken),
			CreditAccount: NewExternalAccountKey(SubTypeExternalDebt, debtToken),
			TokenID:       debtToken,
			Amount:        initialDebt,
			JournalType:   JournalTypeBorrow,
			Timestamp:     timestamp,
		})
	}
	jg.sequence++

	return batch, nil
}

// GenerateStake records collateral entering custody.
// Moves funds: external:deposits → custody:collateral
func (jg *JournalGenerator) GenerateStake(
	requestRef string,
	vaultTypeID uuid.UUID,
	collateralToken uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("stake amount must be positive: %d", amount)
	}

	batch := jg.newBatch(requestRef, timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		RequestRef:    requestRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewCustodyAccountKey(vaultTypeID, collateralToken),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, collateralToken),
		TokenID:       collateralToken,
		Amount:        amount,
		JournalType:   JournalTypeStake,
		Timestamp:     timestamp,
	})
	jg.sequence++

	return batch, nil
}

// GenerateUnstake records collateral leaving custody.
// Pre-check: the custody account must hold at least the withdrawn amount.
// Moves funds: custody:collateral → external:withdrawals
func (jg *JournalGenerator) GenerateUnstake(
	requestRef string,
	vaultTypeID uuid.UUID,
	collateralToken uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("unstake amount must be positive: %d", amount)
	}
	if held := jg.balanceTracker.CustodyBalance(vaultTypeID, collateralToken); held < amount {
		return nil, fmt.Errorf("unstake pre-check failed: custody holds %d, need %d", held, amount)
	}

	batch := jg.newBatch(requestRef, timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		RequestRef:    requestRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalWithdrawals, collateralToken),
		CreditAccount: NewCustodyAccountKey(vaultTypeID, collateralToken),
		TokenID:       collateralToken,
		Amount:        amount,
		JournalType:   JournalTypeUnstake,
		Timestamp:     timestamp,
	})
	jg.sequence++

	return batch, nil
}

// GenerateBorrow records newly minted debt.
// Moves funds: debt:outstanding → external:debt
func (jg *JournalGenerator) GenerateBorrow(
	requestRef string,
	debtTypeID uuid.UUID,
	debtToken uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("borrow amount must be positive: %d", amount)
	}

	batch := jg.newBatch(requestRef, timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		RequestRef:    requestRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewDebtAccountKey(debtTypeID, debtToken),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDebt, debtToken),
		TokenID:       debtToken,
		Amount:        amount,
		JournalType:   JournalTypeBorrow,
		Timestamp:     timestamp,
	})
	jg.sequence++

	return batch, nil
}

// GenerateRepay records burned debt.
// Pre-check: outstanding debt must cover the repayment.
// Moves funds: external:debt → debt:outstanding
func (jg *JournalGenerator) GenerateRepay(
	requestRef string,
	debtTypeID uuid.UUID,
	debtToken uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("repay amount must be positive: %d", amount)
	}
	if outstanding := jg.balanceTracker.DebtOutstanding(debtTypeID, debtToken); outstanding < amount {
		return nil, fmt.Errorf("repay pre-check failed: outstanding %d, repaying %d", outstanding, amount)
	}

	batch := jg.newBatch(requestRef, timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		RequestRef:    requestRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalDebt, debtToken),
		CreditAccount: NewDebtAccountKey(debtTypeID, debtToken),
		TokenID:       debtToken,
		Amount:        amount,
		JournalType:   JournalTypeRepay,
		Timestamp:     timestamp,
	})
	jg.sequence++

	return batch, nil
}
