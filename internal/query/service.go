package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the durable operation log and
// journal. Live vault and registry state is served by the engine directly;
// these queries cover history, audit, and integrity checks.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

const operationColumns = `sequence, op, request_id, vault_id, caller, amount,
       payload, state_hash, prev_hash, timestamp`

// GetOperation returns one operation by sequence.
func (qs *QueryService) GetOperation(ctx context.Context, sequence int64) (*OperationResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM cdp_log.operations
		WHERE sequence = $1
	`, sequence)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetOperationByRequestID returns the operation a request produced, if any.
// Lets clients resolve the outcome of a request they may have retried.
func (qs *QueryService) GetOperationByRequestID(ctx context.Context, op string, requestID string) (*OperationResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM cdp_log.operations
		WHERE op = $1 AND request_id = $2
	`, op, requestID)

	resp, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetVaultOperations returns the operation history of one vault,
// newest first, with cursor-based pagination.
func (qs *QueryService) GetVaultOperations(
	ctx context.Context,
	vaultID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]OperationResponse, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM cdp_log.operations
		WHERE vault_id = $1
	`
	args := []interface{}{vaultID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationResponse
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}

	return ops, rows.Err()
}

// GetJournalHistory returns journal entries touching accounts under the given
// path prefix, newest first, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	pattern := accountPrefix + "%"

	query := `
		SELECT journal_id, batch_id, request_ref, sequence,
		       debit_account, credit_account, token_id, amount, journal_type, timestamp
		FROM cdp_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{pattern}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.RequestRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.TokenID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ReconstructBalance recomputes an account balance from the durable journal:
// debits add, credits subtract. Used to reconcile custody and debt accounts
// against the engine's in-memory tracker.
func (qs *QueryService) ReconstructBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN debit_account = $1 THEN amount ELSE -amount END), 0)
		FROM cdp_log.journal
		WHERE debit_account = $1 OR credit_account = $1
	`, accountPath).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance.Int64, nil
}

// VerifyIntegrity checks hash chain continuity over the operation log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	var latest sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM cdp_log.operations
	`).Scan(&latest); err != nil {
		return nil, err
	}
	if latest.Valid {
		report.LatestSequence = latest.Int64
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM cdp_log.operations o1
		JOIN cdp_log.operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.prev_hash != o2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*OperationResponse, error) {
	var (
		op      OperationResponse
		vaultID uuid.NullUUID
	)
	if err := row.Scan(
		&op.Sequence, &op.Op, &op.RequestID, &vaultID, &op.Caller,
		&op.Amount, &op.Payload, &op.StateHash, &op.PrevHash, &op.Timestamp,
	); err != nil {
		return nil, err
	}
	if vaultID.Valid {
		id := vaultID.UUID
		op.VaultID = &id
	}
	return &op, nil
}
