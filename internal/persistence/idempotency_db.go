package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRequestChecker is the durable tier of request deduplication.
// It is consulted only on an LRU miss, against the full operation log.
type PostgresRequestChecker struct {
	db *sql.DB
}

func NewPostgresRequestChecker(db *sql.DB) *PostgresRequestChecker {
	return &PostgresRequestChecker{db: db}
}

// IsDuplicate checks whether a request was already applied and persisted.
func (c *PostgresRequestChecker) IsDuplicate(op string, requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1
		FROM cdp_log.operations
		WHERE op = $1 AND request_id = $2
		LIMIT 1
	`, op, requestID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentRequestKeys returns the dedup keys of the most recent operations,
// oldest first, for warming the in-memory LRU on startup.
func (c *PostgresRequestChecker) RecentRequestKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT op, request_id FROM (
			SELECT sequence, op, request_id
			FROM cdp_log.operations
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var op, requestID string
		if err := rows.Scan(&op, &requestID); err != nil {
			return nil, err
		}
		keys = append(keys, op+":"+requestID)
	}
	return keys, rows.Err()
}
