package core

import (
	"encoding/json"
	"fmt"

	"cdpvault/internal/authority"
	"cdpvault/internal/ledger"
	"cdpvault/internal/registry"
	"cdpvault/internal/vault"

	"github.com/google/uuid"
)

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence    int64
	StateHash   [32]byte
	Balances    map[ledger.AccountKey]int64
	DebtTypes   []*registry.DebtType
	VaultTypes  []*registry.VaultType
	Vaults      []*vault.Vault
	RequestKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
// Everything is copied while the lock is held: the caller encodes the
// snapshot asynchronously, and operations keep mutating vaults in the
// meantime. Handing out live pointers would tear the snapshot.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	vaults := e.vaults.All()
	vaultCopies := make([]*vault.Vault, 0, len(vaults))
	for _, v := range vaults {
		clone := *v
		vaultCopies = append(vaultCopies, &clone)
	}

	debtTypes := e.registry.AllDebtTypes()
	debtCopies := make([]*registry.DebtType, 0, len(debtTypes))
	for _, dt := range debtTypes {
		clone := *dt
		debtCopies = append(debtCopies, &clone)
	}

	vaultTypes := e.registry.AllVaultTypes()
	vaultTypeCopies := make([]*registry.VaultType, 0, len(vaultTypes))
	for _, vt := range vaultTypes {
		clone := *vt
		vaultTypeCopies = append(vaultTypeCopies, &clone)
	}

	return &SnapshotState{
		Sequence:    e.sequence - 1, // Last processed sequence
		StateHash:   e.hasher.GetPrevHash(),
		Balances:    e.balanceTracker.Snapshot(),
		DebtTypes:   debtCopies,
		VaultTypes:  vaultTypeCopies,
		Vaults:      vaultCopies,
		RequestKeys: e.requests.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the engine's in-memory state from a snapshot.
// On warm restart, load the latest snapshot then replay the operation log
// from the snapshot sequence forward.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	e.balanceTracker.Restore(snap.Balances)
	e.journalGen.SetSequence(e.sequence)

	for _, dt := range snap.DebtTypes {
		if err := e.registry.PutDebtType(dt); err != nil {
			return fmt.Errorf("restore debt type: %w", err)
		}
	}
	for _, vt := range snap.VaultTypes {
		if err := e.registry.PutVaultType(vt); err != nil {
			return fmt.Errorf("restore vault type: %w", err)
		}
	}
	for _, v := range snap.Vaults {
		e.vaults.Set(v)
	}

	e.requests.lru.WarmFromKeys(snap.RequestKeys)
	return nil
}

// WarmLRU loads recent request keys into the dedup LRU.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests.lru.WarmFromKeys(keys)
}

// ReplayRecord re-applies a logged operation from its recorded payload.
// The token ledger is NOT touched: the external transfers already happened
// when the operation was first applied. State mutations and the hash chain
// are recomputed and verified against the recorded state hash.
func (e *Engine) ReplayRecord(rec *OperationRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	extra, batch, err := e.replayMutations(rec)
	if err != nil {
		return fmt.Errorf("replay seq %d (%s): %w", rec.Sequence, rec.Op, err)
	}

	digest := e.computeStateDigest(batch, extra)
	stateHash := e.hasher.ComputeHash(rec.Sequence, digest)
	if stateHash != rec.StateHash {
		return fmt.Errorf("replay seq %d (%s): state hash mismatch", rec.Sequence, rec.Op)
	}

	e.sequence = rec.Sequence + 1
	e.journalGen.SetSequence(e.sequence)
	e.requests.MarkProcessed(rec.Op.String(), rec.RequestID)

	if e.metrics != nil {
		e.metrics.ReplayOpsTotal.Inc()
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	return nil
}

func (e *Engine) replayMutations(rec *OperationRecord) ([]byte, *ledger.Batch, error) {
	switch rec.Op {
	case OpInitDebtType:
		var req InitDebtTypeRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, nil, err
		}
		mintAuthority, ok := authority.Derive(req.DebtTypeID, req.Nonce)
		if !ok {
			return nil, nil, fmt.Errorf("nonce %d no longer derives an authority", req.Nonce)
		}
		dt := &registry.DebtType{
			ID:            req.DebtTypeID,
			DebtToken:     req.DebtToken,
			MintAuthority: mintAuthority,
			Nonce:         req.Nonce,
			Owner:         req.Owner,
		}
		if err := e.registry.PutDebtType(dt); err != nil {
			return nil, nil, err
		}
		extra := append(append(append([]byte{}, dt.ID[:]...), mintAuthority[:]...), dt.Nonce)
		return extra, nil, nil

	case OpInitVaultType:
		var req InitVaultTypeRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, nil, err
		}
		custodyAuthority, ok := authority.Derive(req.VaultTypeID, req.Nonce)
		if !ok {
			return nil, nil, fmt.Errorf("nonce %d no longer derives an authority", req.Nonce)
		}
		vt := &registry.VaultType{
			ID:                req.VaultTypeID,
			DebtType:          req.DebtTypeID,
			CollateralToken:   req.CollateralToken,
			CollateralCustody: req.CollateralCustody,
			CustodyAuthority:  custodyAuthority,
			Nonce:             req.Nonce,
			Owner:             req.Caller,
		}
		if err := e.registry.PutVaultType(vt); err != nil {
			return nil, nil, err
		}
		extra := append(append(append([]byte{}, vt.ID[:]...), custodyAuthority[:]...), vt.Nonce)
		return extra, nil, nil

	case OpInitVault:
		var req InitVaultRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, nil, err
		}
		vt := e.registry.VaultType(req.VaultTypeID)
		if vt == nil {
			return nil, nil, fmt.Errorf("vault type %s not registered", req.VaultTypeID)
		}
		dt := e.registry.DebtType(vt.DebtType)
		if dt == nil {
			return nil, nil, fmt.Errorf("debt type %s not registered", vt.DebtType)
		}
		v := &vault.Vault{
			ID:               req.VaultID,
			DebtType:         vt.DebtType,
			VaultType:        vt.ID,
			Owner:            req.Owner,
			DebtAmount:       req.InitialDebt,
			CollateralAmount: req.InitialCollateral,
			State:            vault.StateActive,
			Version:          1,
		}
		if err := e.vaults.Put(v); err != nil {
			return nil, nil, err
		}
		batch, err := e.journalGen.GenerateOpeningBalances(req.RequestID, vt.ID, uuid.UUID(vt.CollateralToken),
			dt.ID, uuid.UUID(dt.DebtToken), req.InitialCollateral, req.InitialDebt, rec.Timestamp.UnixMicro())
		if err != nil {
			return nil, nil, err
		}
		if batch != nil {
			e.applyBatch(batch)
		}
		return v.CanonicalBytes(), batch, nil

	case OpStake:
		var req StakeRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, nil, err
		}
		v, vt, _, err := e.resolveReplayVault(req.VaultID)
		if err != nil {
			return nil, nil, err
		}
		batch, err := e.journalGen.GenerateStake(req.RequestID, vt.ID, uuid.UUID(vt.CollateralToken), req.Amount, rec.Timestamp.UnixMicro())
		if err != nil {
			return nil, nil, err
		}
		e.applyBatch(batch)
		v.CollateralAmount += req.Amount
		v.Version++
		return v.CanonicalBytes(), batch, nil

	case OpBorrow:
		var req BorrowRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, nil, err
		}
		v, _, dt, err := e.resolveReplayVault(req.VaultID)
		if err != nil {
			return nil, nil, err
		}
		batch, err := e.journalGen.GenerateBorrow(req.RequestID, dt.ID, uuid.UUID(dt.DebtToken), req.Amount, rec.Timestamp.UnixMicro())
		if err != nil {
			return nil, nil, err
		}
		e.applyBatch(batch)
		v.DebtAmount += req.Amount
		v.Version++
		return v.CanonicalBytes(), batch, nil

	case OpRepay:
		var req RepayRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, nil, err
		}
		v, _, dt, err := e.resolveReplayVault(req.VaultID)
		if err != nil {
			return nil, nil, err
		}
		batch, err := e.journalGen.GenerateRepay(req.RequestID, dt.ID, uuid.UUID(dt.DebtToken), req.Amount, rec.Timestamp.UnixMicro())
		if err != nil {
			return nil, nil, err
		}
		e.applyBatch(batch)
		v.DebtAmount -= req.Amount
		v.Version++
		return v.CanonicalBytes(), batch, nil

	case OpUnstake:
		var req UnstakeRequest
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, nil, err
		}
		v, vt, _, err := e.resolveReplayVault(req.VaultID)
		if err != nil {
			return nil, nil, err
		}
		batch, err := e.journalGen.GenerateUnstake(req.RequestID, vt.ID, uuid.UUID(vt.CollateralToken), req.Amount, rec.Timestamp.UnixMicro())
		if err != nil {
			return nil, nil, err
		}
		e.applyBatch(batch)
		v.CollateralAmount -= req.Amount
		v.Version++
		return v.CanonicalBytes(), batch, nil

	default:
		return nil, nil, fmt.Errorf("unknown operation type %d", rec.Op)
	}
}

func (e *Engine) resolveReplayVault(vaultID uuid.UUID) (*vault.Vault, *registry.VaultType, *registry.DebtType, error) {
	v := e.vaults.Get(vaultID)
	if v == nil {
		return nil, nil, nil, fmt.Errorf("vault %s not found", vaultID)
	}
	vt := e.registry.VaultType(v.VaultType)
	if vt == nil {
		return nil, nil, nil, fmt.Errorf("vault type %s not found", v.VaultType)
	}
	dt := e.registry.DebtType(v.DebtType)
	if dt == nil {
		return nil, nil, nil, fmt.Errorf("debt type %s not found", v.DebtType)
	}
	return v, vt, dt, nil
}
