package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cdpvault/internal/authority"
	"cdpvault/internal/core"
	"cdpvault/internal/ledger"
	"cdpvault/internal/registry"
	"cdpvault/internal/vault"
)

// SnapshotStore persists point-in-time engine state to Postgres. Snapshots
// bound replay time on restart: load the latest verified snapshot, then
// replay the operation log from snapshot.sequence+1 forward.
type SnapshotStore struct {
	db *sql.DB
}

// SnapshotData is the serialized form of the engine's in-memory state.
type SnapshotData struct {
	Sequence    int64           `json:"sequence"`
	StateHash   []byte          `json:"state_hash"`
	Balances    []BalanceSnap   `json:"balances"`
	DebtTypes   []DebtTypeSnap  `json:"debt_types"`
	VaultTypes  []VaultTypeSnap `json:"vault_types"`
	Vaults      []VaultSnap     `json:"vaults"`
	RequestKeys []string        `json:"request_keys"` // Recent keys for LRU warming
	CreatedAt   time.Time       `json:"created_at"`
}

// BalanceSnap is one ledger account balance.
type BalanceSnap struct {
	Scope    uint8     `json:"scope"`
	EntityID uuid.UUID `json:"entity_id"`
	SubType  uint8     `json:"sub_type"`
	TokenID  uuid.UUID `json:"token_id"`
	Balance  int64     `json:"balance"`
}

// DebtTypeSnap is a serializable debt type registration.
type DebtTypeSnap struct {
	ID            uuid.UUID `json:"id"`
	DebtToken     uuid.UUID `json:"debt_token"`
	MintAuthority []byte    `json:"mint_authority"`
	Nonce         uint8     `json:"nonce"`
	Owner         uuid.UUID `json:"owner"`
}

// VaultTypeSnap is a serializable vault type registration.
type VaultTypeSnap struct {
	ID                uuid.UUID `json:"id"`
	DebtType          uuid.UUID `json:"debt_type"`
	CollateralToken   uuid.UUID `json:"collateral_token"`
	CollateralCustody uuid.UUID `json:"collateral_custody"`
	CustodyAuthority  []byte    `json:"custody_authority"`
	Nonce             uint8     `json:"nonce"`
	Owner             uuid.UUID `json:"owner"`
}

// VaultSnap is a serializable vault position.
type VaultSnap struct {
	ID               uuid.UUID `json:"id"`
	DebtType         uuid.UUID `json:"debt_type"`
	VaultType        uuid.UUID `json:"vault_type"`
	Owner            uuid.UUID `json:"owner"`
	DebtAmount       int64     `json:"debt_amount"`
	CollateralAmount int64     `json:"collateral_amount"`
	State            int32     `json:"state"`
	Version          int64     `json:"version"`
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// EncodeSnapshot converts captured engine state into its serialized form.
func EncodeSnapshot(state *core.SnapshotState) *SnapshotData {
	snap := &SnapshotData{
		Sequence:    state.Sequence,
		StateHash:   append([]byte(nil), state.StateHash[:]...),
		RequestKeys: state.RequestKeys,
		CreatedAt:   time.Now().UTC(),
	}

	for key, bal := range state.Balances {
		snap.Balances = append(snap.Balances, BalanceSnap{
			Scope:    uint8(key.Scope),
			EntityID: uuid.UUID(key.EntityID),
			SubType:  uint8(key.SubType),
			TokenID:  uuid.UUID(key.TokenID),
			Balance:  bal,
		})
	}

	for _, dt := range state.DebtTypes {
		snap.DebtTypes = append(snap.DebtTypes, DebtTypeSnap{
			ID:            dt.ID,
			DebtToken:     dt.DebtToken,
			MintAuthority: append([]byte(nil), dt.MintAuthority[:]...),
			Nonce:         dt.Nonce,
			Owner:         dt.Owner,
		})
	}

	for _, vt := range state.VaultTypes {
		snap.VaultTypes = append(snap.VaultTypes, VaultTypeSnap{
			ID:                vt.ID,
			DebtType:          vt.DebtType,
			CollateralToken:   vt.CollateralToken,
			CollateralCustody: vt.CollateralCustody,
			CustodyAuthority:  append([]byte(nil), vt.CustodyAuthority[:]...),
			Nonce:             vt.Nonce,
			Owner:             vt.Owner,
		})
	}

	for _, v := range state.Vaults {
		snap.Vaults = append(snap.Vaults, VaultSnap{
			ID:               v.ID,
			DebtType:         v.DebtType,
			VaultType:        v.VaultType,
			Owner:            v.Owner,
			DebtAmount:       v.DebtAmount,
			CollateralAmount: v.CollateralAmount,
			State:            int32(v.State),
			Version:          v.Version,
		})
	}

	return snap
}

// DecodeSnapshot converts serialized snapshot data back into engine state.
func DecodeSnapshot(snap *SnapshotData) (*core.SnapshotState, error) {
	state := &core.SnapshotState{
		Sequence:    snap.Sequence,
		Balances:    make(map[ledger.AccountKey]int64, len(snap.Balances)),
		RequestKeys: snap.RequestKeys,
	}
	if len(snap.StateHash) != len(state.StateHash) {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want %d", len(snap.StateHash), len(state.StateHash))
	}
	copy(state.StateHash[:], snap.StateHash)

	for _, b := range snap.Balances {
		key := ledger.AccountKey{
			Scope:    ledger.AccountScope(b.Scope),
			EntityID: b.EntityID,
			SubType:  ledger.AccountSubType(b.SubType),
			TokenID:  b.TokenID,
		}
		state.Balances[key] = b.Balance
	}

	for _, dt := range snap.DebtTypes {
		var auth authority.ID
		copy(auth[:], dt.MintAuthority)
		state.DebtTypes = append(state.DebtTypes, &registry.DebtType{
			ID:            dt.ID,
			DebtToken:     dt.DebtToken,
			MintAuthority: auth,
			Nonce:         dt.Nonce,
			Owner:         dt.Owner,
		})
	}

	for _, vt := range snap.VaultTypes {
		var auth authority.ID
		copy(auth[:], vt.CustodyAuthority)
		state.VaultTypes = append(state.VaultTypes, &registry.VaultType{
			ID:                vt.ID,
			DebtType:          vt.DebtType,
			CollateralToken:   vt.CollateralToken,
			CollateralCustody: vt.CollateralCustody,
			CustodyAuthority:  auth,
			Nonce:             vt.Nonce,
			Owner:             vt.Owner,
		})
	}

	for _, v := range snap.Vaults {
		state.Vaults = append(state.Vaults, &vault.Vault{
			ID:               v.ID,
			DebtType:         v.DebtType,
			VaultType:        v.VaultType,
			Owner:            v.Owner,
			DebtAmount:       v.DebtAmount,
			CollateralAmount: v.CollateralAmount,
			State:            vault.State(v.State),
			Version:          v.Version,
		})
	}

	return state, nil
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are written
// unverified; MarkVerified flips the flag after an integrity check.
func (ss *SnapshotStore) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO cdp_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot.
// Returns nil if there is no snapshot yet (cold start).
func (ss *SnapshotStore) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := ss.db.QueryRowContext(ctx, `
		SELECT data FROM cdp_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (ss *SnapshotStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := ss.db.ExecContext(ctx, `
		UPDATE cdp_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOperationsFrom loads operation records from a given sequence for replay.
// Used for warm restart (replay from snapshot) and cold restart (replay all).
func (ss *SnapshotStore) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]core.OperationRecord, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT sequence, op, request_id, vault_id, caller, amount,
		       payload, state_hash, prev_hash, timestamp
		FROM cdp_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []core.OperationRecord
	for rows.Next() {
		var (
			rec       core.OperationRecord
			opName    string
			vaultID   uuid.NullUUID
			stateHash []byte
			prevHash  []byte
		)
		if err := rows.Scan(
			&rec.Sequence, &opName, &rec.RequestID, &vaultID, &rec.Caller,
			&rec.Amount, &rec.Payload, &stateHash, &prevHash, &rec.Timestamp,
		); err != nil {
			return nil, err
		}

		op, ok := core.ParseOpType(opName)
		if !ok {
			return nil, fmt.Errorf("sequence %d has unknown op %q", rec.Sequence, opName)
		}
		rec.Op = op
		if vaultID.Valid {
			id := vaultID.UUID
			rec.VaultID = &id
		}
		copy(rec.StateHash[:], stateHash)
		copy(rec.PrevHash[:], prevHash)

		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetLatestSequence returns the highest sequence in the operation log.
func (ss *SnapshotStore) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := ss.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM cdp_log.operations
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty operation log
	}
	return seq.Int64, nil
}
