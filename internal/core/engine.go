package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cdpvault/internal/authority"
	"cdpvault/internal/ledger"
	"cdpvault/internal/observability"
	"cdpvault/internal/registry"
	"cdpvault/internal/token"
	"cdpvault/internal/vault"

	"github.com/google/uuid"
)

// PriceOracle values token amounts in a common unit. When configured, Borrow
// and Unstake reject operations that would leave a vault undercollateralized.
// A nil oracle disables the check entirely.
type PriceOracle interface {
	Value(tok token.AssetID, amount int64) (int64, error)
}

// Config carries engine tunables.
type Config struct {
	StartSequence int64
	DedupCapacity int

	// MinCollateralRatioBps is the minimum collateral/debt ratio in basis
	// points (15000 = 150%). Only enforced when an oracle is configured.
	MinCollateralRatioBps int64
}

// Engine applies vault operations one at a time under a single lock.
// All registry, vault, and balance state is owned by the engine; callers
// interact only through the operation entry points and read accessors.
type Engine struct {
	mu sync.Mutex

	sequence       int64
	hasher         *StateHasher
	tokens         token.Ledger
	registry       *registry.Store
	vaults         *vault.Store
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	requests       *RequestChecker
	oracle         PriceOracle
	minRatioBps    int64
	metrics        *observability.Metrics
	clock          func() time.Time

	persistChan chan<- EngineOutput
	publishChan chan<- EngineOutput
}

func NewEngine(
	cfg Config,
	tokens token.Ledger,
	dbChecker DBRequestChecker,
	metrics *observability.Metrics,
	persistChan, publishChan chan<- EngineOutput,
) *Engine {
	balanceTracker := ledger.NewBalanceTracker()

	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	return &Engine{
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		tokens:         tokens,
		registry:       registry.NewStore(),
		vaults:         vault.NewStore(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(cfg.StartSequence, balanceTracker),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		requests:       NewRequestChecker(capacity, dbChecker),
		minRatioBps:    cfg.MinCollateralRatioBps,
		metrics:        metrics,
		clock:          time.Now,
		persistChan:    persistChan,
		publishChan:    publishChan,
	}
}

// SetOracle installs the collateralization oracle. Must be called before the
// engine starts serving operations.
func (e *Engine) SetOracle(oracle PriceOracle) {
	e.oracle = oracle
}

// --- Registration operations ---

// InitDebtType registers a borrowable debt token. The caller supplies the
// nonce; the engine re-derives the mint authority and rejects nonces that do
// not produce a valid off-curve authority.
func (e *Engine) InitDebtType(req InitDebtTypeRequest) (*registry.DebtType, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := OpInitDebtType
	start := e.clock()

	if err := e.checkDuplicate(op, req.RequestID); err != nil {
		return nil, err
	}

	if existing := e.registry.DebtType(req.DebtTypeID); existing != nil {
		return nil, e.reject(op, fmt.Errorf("%w: debt type %s", ErrDuplicateRegistration, req.DebtTypeID))
	}

	mintAuthority, ok := authority.Derive(req.DebtTypeID, req.Nonce)
	if !ok {
		return nil, e.reject(op, fmt.Errorf("%w: nonce %d for seed %s", ErrAuthorityDerivationFailed, req.Nonce, req.DebtTypeID))
	}

	dt := &registry.DebtType{
		ID:            req.DebtTypeID,
		DebtToken:     req.DebtToken,
		MintAuthority: mintAuthority,
		Nonce:         req.Nonce,
		Owner:         req.Owner,
	}
	if err := e.registry.PutDebtType(dt); err != nil {
		return nil, e.reject(op, fmt.Errorf("%w: %v", ErrDuplicateRegistration, err))
	}

	extra := make([]byte, 0, 64)
	extra = append(extra, dt.ID[:]...)
	extra = append(extra, mintAuthority[:]...)
	extra = append(extra, dt.Nonce)

	e.commit(op, req, req.RequestID, nil, req.Owner, 0, nil, extra, start)
	return dt, nil
}

// InitVaultType registers a collateral class under an existing debt type.
// Only the debt type owner may register vault types for it, and the supplied
// custody account must already be controlled by the derived authority.
func (e *Engine) InitVaultType(req InitVaultTypeRequest) (*registry.VaultType, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := OpInitVaultType
	start := e.clock()

	if err := e.checkDuplicate(op, req.RequestID); err != nil {
		return nil, err
	}

	dt := e.registry.DebtType(req.DebtTypeID)
	if dt == nil {
		return nil, e.reject(op, fmt.Errorf("%w: debt type %s", ErrUnknownReference, req.DebtTypeID))
	}
	if req.Caller != dt.Owner {
		return nil, e.reject(op, fmt.Errorf("%w: caller %s is not the debt type owner", ErrAuthorityMismatch, req.Caller))
	}
	if existing := e.registry.VaultType(req.VaultTypeID); existing != nil {
		return nil, e.reject(op, fmt.Errorf("%w: vault type %s", ErrDuplicateRegistration, req.VaultTypeID))
	}

	custodyAuthority, ok := authority.Derive(req.VaultTypeID, req.Nonce)
	if !ok {
		return nil, e.reject(op, fmt.Errorf("%w: nonce %d for seed %s", ErrAuthorityDerivationFailed, req.Nonce, req.VaultTypeID))
	}

	// The custody account must already be owned by the derived authority,
	// otherwise unstake transfers would fail after deposits are accepted.
	actual, err := e.tokens.AccountAuthority(req.CollateralCustody)
	if err != nil {
		return nil, e.reject(op, mapTokenError(err))
	}
	if actual != token.Authority(custodyAuthority) {
		return nil, e.reject(op, fmt.Errorf("%w: custody account %s is not controlled by the derived authority", ErrAuthorityMismatch, req.CollateralCustody))
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
		return nil, e.reject(op, fmt.Errorf("%w: %v", ErrDuplicateRegistration, err))
	}

	extra := make([]byte, 0, 64)
	extra = append(extra, vt.ID[:]...)
	extra = append(extra, custodyAuthority[:]...)
	extra = append(extra, vt.Nonce)

	e.commit(op, req, req.RequestID, nil, req.Caller, 0, nil, extra, start)
	return vt, nil
}

// InitVault creates a position for an owner under a vault type. Opening
// balances, when supplied, are recorded on the books without moving tokens.
func (e *Engine) InitVault(req InitVaultRequest) (*vault.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := OpInitVault
	start := e.clock()

	if err := e.checkDuplicate(op, req.RequestID); err != nil {
		return nil, err
	}

	if req.InitialDebt < 0 || req.InitialCollateral < 0 {
		return nil, e.reject(op, fmt.Errorf("%w: initial debt %d, initial collateral %d",
			ErrInvalidAmount, req.InitialDebt, req.InitialCollateral))
	}

	vt := e.registry.VaultType(req.VaultTypeID)
	if vt == nil {
		return nil, e.reject(op, fmt.Errorf("%w: vault type %s", ErrUnknownReference, req.VaultTypeID))
	}
	dt := e.registry.DebtType(vt.DebtType)
	if dt == nil {
		return nil, e.reject(op, fmt.Errorf("%w: debt type %s", ErrUnknownReference, vt.DebtType))
	}
	if existing := e.vaults.Get(req.VaultID); existing != nil {
		return nil, e.reject(op, fmt.Errorf("%w: vault %s", ErrDuplicateRegistration, req.VaultID))
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
		return nil, e.reject(op, fmt.Errorf("%w: %v", ErrDuplicateRegistration, err))
	}

	batch, err := e.journalGen.GenerateOpeningBalances(req.RequestID, vt.ID, uuid.UUID(vt.CollateralToken),
		dt.ID, uuid.UUID(dt.DebtToken), req.InitialCollateral, req.InitialDebt, start.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: opening balance journal after validation: %v", err))
	}
	if batch != nil {
		e.applyBatch(batch)
	}

	vaultID := req.VaultID
	e.commit(op, req, req.RequestID, &vaultID, req.Owner, 0, batch, v.CanonicalBytes(), start)
	if batch != nil {
		e.updatePositionGauges(vt, dt)
	}

	if e.metrics != nil {
		e.metrics.VaultsActive.Set(float64(len(e.vaults.All())))
	}
	return v, nil
}

// --- Position operations ---

// Stake deposits collateral into a vault. The caller must hold transfer
// authority over the source account; vault ownership is not required.
func (e *Engine) Stake(req StakeRequest) (*vault.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := OpStake
	start := e.clock()

	v, vt, _, err := e.beginPositionOp(op, req.RequestID, req.VaultID, req.Amount, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	if err := e.tokens.Transfer(req.Source, token.UserAuthority(req.Caller), vt.CollateralCustody, req.Amount); err != nil {
		return nil, e.reject(op, mapTokenError(err))
	}

	batch, err := e.journalGen.GenerateStake(req.RequestID, vt.ID, uuid.UUID(vt.CollateralToken), req.Amount, start.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: stake journal after successful transfer: %v", err))
	}
	e.applyBatch(batch)

	v.CollateralAmount += req.Amount
	v.Version++

	vaultID := req.VaultID
	e.commit(op, req, req.RequestID, &vaultID, req.Caller, req.Amount, batch, v.CanonicalBytes(), start)
	e.updatePositionGauges(vt, nil)
	return v, nil
}

// Borrow mints debt tokens against a vault's collateral. Only the vault owner
// may borrow.
func (e *Engine) Borrow(req BorrowRequest) (*vault.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := OpBorrow
	start := e.clock()

	v, vt, dt, err := e.beginPositionOp(op, req.RequestID, req.VaultID, req.Amount, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	if req.Caller != v.Owner {
		return nil, e.reject(op, fmt.Errorf("%w: caller %s does not own vault %s", ErrAuthorityMismatch, req.Caller, v.ID))
	}

	if err := e.checkCollateralization(vt, dt, v.CollateralAmount, v.DebtAmount+req.Amount); err != nil {
		return nil, e.reject(op, err)
	}

	if err := e.tokens.Mint(dt.DebtToken, token.Authority(dt.MintAuthority), req.Destination, req.Amount); err != nil {
		return nil, e.reject(op, mapTokenError(err))
	}

	batch, err := e.journalGen.GenerateBorrow(req.RequestID, dt.ID, uuid.UUID(dt.DebtToken), req.Amount, start.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: borrow journal after successful mint: %v", err))
	}
	e.applyBatch(batch)

	v.DebtAmount += req.Amount
	v.Version++

	vaultID := req.VaultID
	e.commit(op, req, req.RequestID, &vaultID, req.Caller, req.Amount, batch, v.CanonicalBytes(), start)
	e.updatePositionGauges(nil, dt)
	return v, nil
}

// Repay burns debt tokens from the caller's account and reduces the vault's
// debt. Anyone holding the debt token may repay a vault.
func (e *Engine) Repay(req RepayRequest) (*vault.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := OpRepay
	start := e.clock()

	v, _, dt, err := e.beginPositionOp(op, req.RequestID, req.VaultID, req.Amount, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	if req.Amount > v.DebtAmount {
		return nil, e.reject(op, fmt.Errorf("%w: repaying %d exceeds outstanding debt %d", ErrInsufficientBalance, req.Amount, v.DebtAmount))
	}

	if err := e.tokens.Burn(req.Source, token.UserAuthority(req.Caller), req.Amount); err != nil {
		return nil, e.reject(op, mapTokenError(err))
	}

	batch, err := e.journalGen.GenerateRepay(req.RequestID, dt.ID, uuid.UUID(dt.DebtToken), req.Amount, start.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: repay journal after successful burn: %v", err))
	}
	e.applyBatch(batch)

	v.DebtAmount -= req.Amount
	v.Version++

	vaultID := req.VaultID
	e.commit(op, req, req.RequestID, &vaultID, req.Caller, req.Amount, batch, v.CanonicalBytes(), start)
	e.updatePositionGauges(nil, dt)
	return v, nil
}

// Unstake withdraws collateral from a vault's custody back to the caller.
// Only the vault owner may withdraw.
func (e *Engine) Unstake(req UnstakeRequest) (*vault.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := OpUnstake
	start := e.clock()

	v, vt, dt, err := e.beginPositionOp(op, req.RequestID, req.VaultID, req.Amount, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	if req.Caller != v.Owner {
		return nil, e.reject(op, fmt.Errorf("%w: caller %s does not own vault %s", ErrAuthorityMismatch, req.Caller, v.ID))
	}
	if req.Amount > v.CollateralAmount {
		return nil, e.reject(op, fmt.Errorf("%w: withdrawing %d exceeds collateral %d", ErrInsufficientBalance, req.Amount, v.CollateralAmount))
	}

	if err := e.checkCollateralization(vt, dt, v.CollateralAmount-req.Amount, v.DebtAmount); err != nil {
		return nil, e.reject(op, err)
	}

	if err := e.tokens.Transfer(vt.CollateralCustody, token.Authority(vt.CustodyAuthority), req.Destination, req.Amount); err != nil {
		return nil, e.reject(op, mapTokenError(err))
	}

	batch, err := e.journalGen.GenerateUnstake(req.RequestID, vt.ID, uuid.UUID(vt.CollateralToken), req.Amount, start.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: unstake journal after successful transfer: %v", err))
	}
	e.applyBatch(batch)

	v.CollateralAmount -= req.Amount
	v.Version++

	vaultID := req.VaultID
	e.commit(op, req, req.RequestID, &vaultID, req.Caller, req.Amount, batch, v.CanonicalBytes(), start)
	e.updatePositionGauges(vt, nil)
	return v, nil
}

// --- Pipeline helpers ---

func (e *Engine) checkDuplicate(op OpType, requestID string) error {
	if requestID == "" {
		return e.reject(op, fmt.Errorf("%w: empty", ErrInvalidRequestID))
	}
	if e.requests.IsDuplicate(op.String(), requestID) {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op.String(), "duplicate").Inc()
		}
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
	}
	return nil
}

// beginPositionOp runs the checks shared by the four position operations and
// resolves the vault together with its registry records.
func (e *Engine) beginPositionOp(
	op OpType,
	requestID string,
	vaultID uuid.UUID,
	amount int64,
	expectedVersion int64,
) (*vault.Vault, *registry.VaultType, *registry.DebtType, error) {
	if amount <= 0 {
		return nil, nil, nil, e.reject(op, fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	if err := e.checkDuplicate(op, requestID); err != nil {
		return nil, nil, nil, err
	}

	v := e.vaults.Get(vaultID)
	if v == nil {
		return nil, nil, nil, e.reject(op, fmt.Errorf("%w: vault %s", ErrUnknownReference, vaultID))
	}
	if expectedVersion != 0 && v.Version != expectedVersion {
		return nil, nil, nil, e.reject(op, fmt.Errorf("%w: vault %s is at version %d, expected %d", ErrVersionConflict, vaultID, v.Version, expectedVersion))
	}

	vt := e.registry.VaultType(v.VaultType)
	if vt == nil {
		return nil, nil, nil, e.reject(op, fmt.Errorf("%w: vault type %s", ErrUnknownReference, v.VaultType))
	}
	dt := e.registry.DebtType(v.DebtType)
	if dt == nil {
		return nil, nil, nil, e.reject(op, fmt.Errorf("%w: debt type %s", ErrUnknownReference, v.DebtType))
	}

	return v, vt, dt, nil
}

// checkCollateralization enforces the minimum collateral ratio on the
// prospective post-operation position. A nil oracle disables the check.
func (e *Engine) checkCollateralization(vt *registry.VaultType, dt *registry.DebtType, collateral, debt int64) error {
	if e.oracle == nil || debt == 0 {
		return nil
	}

	collateralValue, err := e.oracle.Value(vt.CollateralToken, collateral)
	if err != nil {
		return fmt.Errorf("%w: oracle: %v", ErrExternalLedgerFailure, err)
	}
	debtValue, err := e.oracle.Value(dt.DebtToken, debt)
	if err != nil {
		return fmt.Errorf("%w: oracle: %v", ErrExternalLedgerFailure, err)
	}

	minRatio := e.minRatioBps
	if minRatio <= 0 {
		minRatio = 10_000
	}
	if collateralValue*10_000 < debtValue*minRatio {
		return fmt.Errorf("%w: collateral value %d against debt value %d (min ratio %d bps)",
			ErrUndercollateralized, collateralValue, debtValue, minRatio)
	}
	return nil
}

func (e *Engine) applyBatch(batch *ledger.Batch) {
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := e.balanceTracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch: %v", err))
	}
	if e.metrics != nil {
		for _, j := range batch.Journals {
			e.metrics.JournalsWritten.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
}

// commit finalizes an applied operation: hash chain, durable record, channel
// emission, dedup marking, metrics.
func (e *Engine) commit(
	op OpType,
	req any,
	requestID string,
	vaultID *uuid.UUID,
	caller uuid.UUID,
	amount int64,
	batch *ledger.Batch,
	extraDigest []byte,
	start time.Time,
) *OperationRecord {
	digest := e.computeStateDigest(batch, extraDigest)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	payload, err := json.Marshal(req)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode operation payload: %v", err))
	}

	record := &OperationRecord{
		Sequence:  e.sequence,
		RequestID: requestID,
		Op:        op,
		VaultID:   vaultID,
		Caller:    caller,
		Amount:    amount,
		Timestamp: start,
		StateHash: stateHash,
		PrevHash:  prevHash,
		Payload:   payload,
	}
	e.sequence++
	// Registration ops don't run the journal generator, so realign its
	// sequence counter after every commit.
	e.journalGen.SetSequence(e.sequence)

	output := EngineOutput{Record: record, Batch: batch}

	// Persistence: blocking send. The engine stalls until the persistence
	// worker drains, so no applied operation is ever lost.
	if e.persistChan != nil {
		e.persistChan <- output
	}

	// Outbound publish: non-blocking send with drop. Subscribers can
	// re-read the operation log if they fall behind.
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	e.requests.MarkProcessed(op.String(), requestID)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op.String()).Inc()
		e.metrics.OpDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.DedupLRUSize.Set(float64(e.requests.lru.Size()))
	}

	return record
}

func (e *Engine) reject(op OpType, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op.String(), rejectReason(err)).Inc()
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateRegistration):
		return "duplicate_registration"
	case errors.Is(err, ErrAuthorityDerivationFailed):
		return "authority_derivation"
	case errors.Is(err, ErrAuthorityMismatch):
		return "authority_mismatch"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidRequestID):
		return "invalid_request_id"
	case errors.Is(err, ErrUnknownReference):
		return "unknown_reference"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrUndercollateralized):
		return "undercollateralized"
	case errors.Is(err, ErrExternalLedgerFailure):
		return "external_ledger"
	default:
		return "other"
	}
}

func (e *Engine) updatePositionGauges(vt *registry.VaultType, dt *registry.DebtType) {
	if e.metrics == nil {
		return
	}
	if vt != nil {
		e.metrics.CustodyBalance.WithLabelValues(vt.ID.String()).
			Set(float64(e.balanceTracker.CustodyBalance(vt.ID, uuid.UUID(vt.CollateralToken))))
	}
	if dt != nil {
		e.metrics.DebtOutstanding.WithLabelValues(dt.ID.String()).
			Set(float64(e.balanceTracker.DebtOutstanding(dt.ID, uuid.UUID(dt.DebtToken))))
	}
}

// computeStateDigest creates canonical bytes for the state hash: the
// post-operation balances of every account the batch touched (sorted by
// path), followed by operation-specific state bytes.
func (e *Engine) computeStateDigest(batch *ledger.Batch, extra []byte) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(extra))
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, e.balanceTracker.GetBalance(key))
	}

	return append(digest, extra...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// CheckInvariants verifies custody and debt backing for every registered
// type plus the global zero-sum property. Intended for tests and the
// periodic health sweep.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, vt := range e.registry.AllVaultTypes() {
		total := e.vaults.TotalCollateral(vt.ID)
		if err := e.validator.ValidateCustodyBacking(vt.ID, uuid.UUID(vt.CollateralToken), total); err != nil {
			return err
		}
		if err := e.validator.ValidateCustodyNonNegative(vt.ID, uuid.UUID(vt.CollateralToken)); err != nil {
			return err
		}
	}
	for _, dt := range e.registry.AllDebtTypes() {
		total := e.vaults.TotalDebt(dt.ID)
		if err := e.validator.ValidateDebtBacking(dt.ID, uuid.UUID(dt.DebtToken), total); err != nil {
			return err
		}
	}
	return e.validator.ValidateGlobalBalance()
}

// --- Read accessors ---

func (e *Engine) GetDebtType(id uuid.UUID) *registry.DebtType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.DebtType(id)
}

func (e *Engine) GetVaultType(id uuid.UUID) *registry.VaultType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.VaultType(id)
}

func (e *Engine) GetVault(id uuid.UUID) *vault.Vault {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.vaults.Get(id)
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

func (e *Engine) GetVaultsByOwner(owner uuid.UUID) []*vault.Vault {
	e.mu.Lock()
	defer e.mu.Unlock()
	vaults := e.vaults.ByOwner(owner)
	result := make([]*vault.Vault, 0, len(vaults))
	for _, v := range vaults {
		clone := *v
		result = append(result, &clone)
	}
	return result
}

func (e *Engine) GetDebtTypes() []*registry.DebtType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.AllDebtTypes()
}

func (e *Engine) GetVaultTypes() []*registry.VaultType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.AllVaultTypes()
}

func (e *Engine) CustodyBalance(vaultTypeID uuid.UUID) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	vt := e.registry.VaultType(vaultTypeID)
	if vt == nil {
		return 0
	}
	return e.balanceTracker.CustodyBalance(vt.ID, uuid.UUID(vt.CollateralToken))
}

func (e *Engine) DebtOutstanding(debtTypeID uuid.UUID) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	dt := e.registry.DebtType(debtTypeID)
	if dt == nil {
		return 0
	}
	return e.balanceTracker.DebtOutstanding(dt.ID, uuid.UUID(dt.DebtToken))
}

// GetSequence returns the next sequence number to assign.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}
