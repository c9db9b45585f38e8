package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cdpvault/internal/core"
)

// OperationLogWriter writes applied operations and their journal entries to
// Postgres using multi-row INSERT. Writes are idempotent: conflicting rows
// (same sequence, same journal id) are skipped, so the persistence worker can
// safely retry a partially-written batch.
type OperationLogWriter struct {
	db *sql.DB
}

// OperationRow represents a row in cdp_log.operations
type OperationRow struct {
	Sequence  int64
	Op        string
	RequestID string
	VaultID   *uuid.UUID
	Caller    uuid.UUID
	Amount    int64
	Payload   []byte // JSON-encoded request
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// JournalRow represents a row in cdp_log.journal
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	RequestRef    string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	TokenID       uuid.UUID
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// RowsFromOutput converts one engine output into its durable row form.
func RowsFromOutput(out core.EngineOutput) (OperationRow, []JournalRow) {
	rec := out.Record

	op := OperationRow{
		Sequence:  rec.Sequence,
		Op:        rec.Op.String(),
		RequestID: rec.RequestID,
		VaultID:   rec.VaultID,
		Caller:    rec.Caller,
		Amount:    rec.Amount,
		Payload:   rec.Payload,
		StateHash: append([]byte(nil), rec.StateHash[:]...),
		PrevHash:  append([]byte(nil), rec.PrevHash[:]...),
		Timestamp: rec.Timestamp,
	}

	var journals []JournalRow
	if out.Batch != nil {
		journals = make([]JournalRow, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			journals = append(journals, JournalRow{
				JournalID:     j.JournalID,
				BatchID:       j.BatchID,
				RequestRef:    j.RequestRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				TokenID:       j.TokenID,
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	return op, journals
}

// WriteOperationBatch writes a batch of operations to cdp_log.operations
// using multi-row INSERT on the given transaction.
func (w *OperationLogWriter) WriteOperationBatch(ctx context.Context, tx *sql.Tx, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO cdp_log.operations
		(sequence, op, request_id, vault_id, caller, amount, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*10)

	for i, o := range ops {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			o.Sequence, o.Op, o.RequestID, o.VaultID, o.Caller,
			o.Amount, o.Payload, o.StateHash, o.PrevHash, o.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to cdp_log.journal.
func (w *OperationLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO cdp_log.journal
		(journal_id, batch_id, request_ref, sequence, debit_account, credit_account, token_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.RequestRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.TokenID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
