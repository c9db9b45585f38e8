package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeStake JournalType = iota
	JournalTypeUnstake
	JournalTypeBorrow
	JournalTypeRepay
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeStake:
		return "stake"
	case JournalTypeUnstake:
		return "unstake"
	case JournalTypeBorrow:
		return "borrow"
	case JournalTypeRepay:
		return "repay"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	RequestRef    string      // Idempotency key of the source request
	Sequence      int64       // Global operation sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	TokenID       uuid.UUID   // Token being moved
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID    uuid.UUID
	RequestRef string
	Sequence   int64
	Timestamp  int64
	Journals   []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by construction
// (a single positive amount moves from credit account to debit account). Therefore
// Σ debits == Σ credits is guaranteed per-entry.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if uuid.UUID(j.DebitAccount.TokenID) != j.TokenID || uuid.UUID(j.CreditAccount.TokenID) != j.TokenID {
			return fmt.Errorf("journal %s moves token %s across mismatched accounts", j.JournalID, j.TokenID)
		}
	}

	return nil
}
