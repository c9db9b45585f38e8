package token

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Ledger with per-account authority
// enforcement. It backs tests and single-node deployments where the token
// ledger runs in the same process as the vault engine.
type MemoryLedger struct {
	mu       sync.Mutex
	assets   map[AssetID]*assetRecord
	accounts map[AccountID]*accountRecord
}

type assetRecord struct {
	mintAuthority Authority
	decimals      uint8
	supply        int64
}

type accountRecord struct {
	asset     AssetID
	authority Authority
	balance   int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		assets:   make(map[AssetID]*assetRecord),
		accounts: make(map[AccountID]*accountRecord),
	}
}

func (ml *MemoryLedger) CreateMintableAsset(mintAuthority Authority, decimals uint8) (AssetID, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	id := uuid.New()
	ml.assets[id] = &assetRecord{
		mintAuthority: mintAuthority,
		decimals:      decimals,
	}
	return id, nil
}

func (ml *MemoryLedger) CreateHoldingAccount(asset AssetID, owner Authority) (AccountID, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if _, ok := ml.assets[asset]; !ok {
		return AccountID{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}

	id := uuid.New()
	ml.accounts[id] = &accountRecord{
		asset:     asset,
		authority: owner,
	}
	return id, nil
}

func (ml *MemoryLedger) Mint(asset AssetID, auth Authority, dest AccountID, amount int64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	a, ok := ml.assets[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if a.mintAuthority != auth {
		return fmt.Errorf("%w: not the mint authority of %s", ErrAuthorityRejected, asset)
	}

	acct, ok := ml.accounts[dest]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, dest)
	}
	if acct.asset != asset {
		return fmt.Errorf("%w: account %s does not hold %s", ErrAssetMismatch, dest, asset)
	}

	acct.balance += amount
	a.supply += amount
	return nil
}

func (ml *MemoryLedger) Transfer(source AccountID, sourceAuth Authority, dest AccountID, amount int64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	src, ok := ml.accounts[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, source)
	}
	if src.authority != sourceAuth {
		return fmt.Errorf("%w: not the authority of %s", ErrAuthorityRejected, source)
	}

	dst, ok := ml.accounts[dest]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, dest)
	}
	if dst.asset != src.asset {
		return fmt.Errorf("%w: %s and %s hold different assets", ErrAssetMismatch, source, dest)
	}

	if src.balance < amount {
		return fmt.Errorf("%w: have=%d, need=%d", ErrInsufficientFunds, src.balance, amount)
	}

	src.balance -= amount
	dst.balance += amount
	return nil
}

func (ml *MemoryLedger) Burn(account AccountID, auth Authority, amount int64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	acct, ok := ml.accounts[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if acct.authority != auth {
		return fmt.Errorf("%w: not the authority of %s", ErrAuthorityRejected, account)
	}
	if acct.balance < amount {
		return fmt.Errorf("%w: have=%d, need=%d", ErrInsufficientFunds, acct.balance, amount)
	}

	acct.balance -= amount

	if a, ok := ml.assets[acct.asset]; ok {
		a.supply -= amount
	}
	return nil
}

func (ml *MemoryLedger) Balance(account AccountID) (int64, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	acct, ok := ml.accounts[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return acct.balance, nil
}

func (ml *MemoryLedger) AccountAuthority(account AccountID) (Authority, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	acct, ok := ml.accounts[account]
	if !ok {
		return Authority{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return acct.authority, nil
}

// Supply returns the current total supply of an asset.
func (ml *MemoryLedger) Supply(asset AssetID) (int64, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	a, ok := ml.assets[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return a.supply, nil
}
