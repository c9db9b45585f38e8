package ledger_test

import (
	"cdpvault/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_CustodyPath(t *testing.T) {
	vaultTypeID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	token := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	key := ledger.NewCustodyAccountKey(vaultTypeID, token)

	path := key.AccountPath()
	expected := "custody:550e8400-e29b-41d4-a716-446655440000:collateral:6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_DebtPath(t *testing.T) {
	debtTypeID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	token := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	key := ledger.NewDebtAccountKey(debtTypeID, token)

	path := key.AccountPath()
	expected := "debt:550e8400-e29b-41d4-a716-446655440000:outstanding:6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	token := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, token)

	path := key.AccountPath()
	expected := "external:deposits:6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func stakeJournal(vaultTypeID, token uuid.UUID, amount int64) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewCustodyAccountKey(vaultTypeID, token),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, token),
		TokenID:       token,
		Amount:        amount,
		JournalType:   ledger.JournalTypeStake,
	}
}

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	balance := bt.CustodyBalance(uuid.New(), uuid.New())
	if balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	vaultTypeID := uuid.New()
	token := uuid.New()

	bt.ApplyJournal(stakeJournal(vaultTypeID, token, 1_000_000))

	custody := bt.CustodyBalance(vaultTypeID, token)
	if custody != 1_000_000 {
		t.Errorf("custody: got %d, want 1_000_000", custody)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	vaultTypeID := uuid.New()
	token := uuid.New()
	batchID := uuid.New()

	j := stakeJournal(vaultTypeID, token, 500_000)
	j.BatchID = batchID

	batch := &ledger.Batch{
		BatchID:  batchID,
		Journals: []ledger.Journal{j},
	}

	err := bt.ApplyBatch(batch)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.CustodyBalance(vaultTypeID, token) != 500_000 {
		t.Errorf("expected 500_000 after batch apply")
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	vaultTypeID := uuid.New()
	debtTypeID := uuid.New()
	collateralToken := uuid.New()
	debtToken := uuid.New()

	// Collateral in
	bt.ApplyJournal(stakeJournal(vaultTypeID, collateralToken, 1_000_000))

	// Debt out
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewDebtAccountKey(debtTypeID, debtToken),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDebt, debtToken),
		TokenID:       debtToken,
		Amount:        300_000,
		JournalType:   ledger.JournalTypeBorrow,
	})

	totals := bt.ComputeGlobalBalance()
	for token, total := range totals {
		if total != 0 {
			t.Errorf("token %s has non-zero global balance: %d", token, total)
		}
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	vaultTypeID := uuid.New()
	token := uuid.New()

	bt.ApplyJournal(stakeJournal(vaultTypeID, token, 999))

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.CustodyBalance(vaultTypeID, token) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

func TestBalanceTracker_Restore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	vaultTypeID := uuid.New()
	token := uuid.New()

	bt.ApplyJournal(stakeJournal(vaultTypeID, token, 777))
	snap := bt.Snapshot()

	fresh := ledger.NewBalanceTracker()
	fresh.Restore(snap)

	if fresh.CustodyBalance(vaultTypeID, token) != 777 {
		t.Errorf("restored custody: got %d, want 777", fresh.CustodyBalance(vaultTypeID, token))
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	token := uuid.New()

	j := stakeJournal(uuid.New(), token, 0)
	j.BatchID = batchID

	batch := &ledger.Batch{
		BatchID:  batchID,
		Journals: []ledger.Journal{j},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_NegativeAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	j := stakeJournal(uuid.New(), uuid.New(), -100)
	j.BatchID = batchID

	batch := &ledger.Batch{
		BatchID:  batchID,
		Journals: []ledger.Journal{j},
	}

	if err := batch.Validate(); err == nil {
		t.Error("negative amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	token := uuid.New()
	sameAccount := ledger.NewCustodyAccountKey(uuid.New(), token)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				TokenID:       token,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	j := stakeJournal(uuid.New(), uuid.New(), 100)

	batch := &ledger.Batch{
		BatchID:  uuid.New(), // differs from journal's batch ID
		Journals: []ledger.Journal{j},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_TokenMismatch_Fails(t *testing.T) {
	batchID := uuid.New()
	token := uuid.New()

	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		DebitAccount:  ledger.NewCustodyAccountKey(uuid.New(), token),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, uuid.New()),
		TokenID:       token,
		Amount:        100,
	}

	batch := &ledger.Batch{
		BatchID:  batchID,
		Journals: []ledger.Journal{j},
	}

	if err := batch.Validate(); err == nil {
		t.Error("token mismatch across accounts should fail validation")
	}
}

func TestBatchValidate_ValidBatch_Passes(t *testing.T) {
	batchID := uuid.New()

	j := stakeJournal(uuid.New(), uuid.New(), 1_000_000)
	j.BatchID = batchID

	batch := &ledger.Batch{
		BatchID:  batchID,
		Journals: []ledger.Journal{j},
	}

	if err := batch.Validate(); err != nil {
		t.Errorf("valid batch should pass: %v", err)
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_StakeRoundTrip(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	vaultTypeID := uuid.New()
	token := uuid.New()

	batch, err := jg.GenerateStake("req-1", vaultTypeID, token, 100, 1000)
	if err != nil {
		t.Fatalf("GenerateStake: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if bt.CustodyBalance(vaultTypeID, token) != 100 {
		t.Errorf("custody after stake: got %d, want 100", bt.CustodyBalance(vaultTypeID, token))
	}

	batch, err = jg.GenerateUnstake("req-2", vaultTypeID, token, 100, 1001)
	if err != nil {
		t.Fatalf("GenerateUnstake: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if bt.CustodyBalance(vaultTypeID, token) != 0 {
		t.Errorf("custody after unstake: got %d, want 0", bt.CustodyBalance(vaultTypeID, token))
	}
}

func TestJournalGenerator_UnstakeExceedsCustody_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	_, err := jg.GenerateUnstake("req-1", uuid.New(), uuid.New(), 50, 1000)
	if err == nil {
		t.Error("unstake beyond custody should fail the pre-check")
	}
}

func TestJournalGenerator_BorrowRepayOutstanding(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	debtTypeID := uuid.New()
	token := uuid.New()

	batch, err := jg.GenerateBorrow("req-1", debtTypeID, token, 10, 1000)
	if err != nil {
		t.Fatalf("GenerateBorrow: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if bt.DebtOutstanding(debtTypeID, token) != 10 {
		t.Errorf("outstanding after borrow: got %d, want 10", bt.DebtOutstanding(debtTypeID, token))
	}

	if _, err := jg.GenerateRepay("req-2", debtTypeID, token, 11, 1001); err == nil {
		t.Error("repay beyond outstanding should fail the pre-check")
	}

	batch, err = jg.GenerateRepay("req-3", debtTypeID, token, 10, 1002)
	if err != nil {
		t.Fatalf("GenerateRepay: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if bt.DebtOutstanding(debtTypeID, token) != 0 {
		t.Errorf("outstanding after repay: got %d, want 0", bt.DebtOutstanding(debtTypeID, token))
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	bt.ApplyJournal(stakeJournal(uuid.New(), uuid.New(), 1_000_000))

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_CustodyBacking(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	vaultTypeID := uuid.New()
	token := uuid.New()

	bt.ApplyJournal(stakeJournal(vaultTypeID, token, 350))

	if err := v.ValidateCustodyBacking(vaultTypeID, token, 350); err != nil {
		t.Errorf("custody should back positions: %v", err)
	}
	if err := v.ValidateCustodyBacking(vaultTypeID, token, 300); err == nil {
		t.Error("mismatched position total should fail")
	}
}
