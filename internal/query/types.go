package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationResponse represents one applied operation for API queries.
type OperationResponse struct {
	Sequence  int64           `json:"sequence"`
	Op        string          `json:"op"`
	RequestID string          `json:"request_id"`
	VaultID   *uuid.UUID      `json:"vault_id,omitempty"`
	Caller    uuid.UUID       `json:"caller"`
	Amount    int64           `json:"amount"`
	Payload   json.RawMessage `json:"payload"`
	StateHash []byte          `json:"state_hash"`
	PrevHash  []byte          `json:"prev_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	RequestRef    string `json:"request_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	TokenID       string `json:"token_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
