package registry

import (
	"fmt"

	"cdpvault/internal/authority"
	"cdpvault/internal/token"

	"github.com/google/uuid"
)

// DebtType defines one borrowable synthetic asset: the mintable token and the
// derived authority empowered to mint it. Immutable after registration.
type DebtType struct {
	ID            uuid.UUID
	DebtToken     token.AssetID
	MintAuthority authority.ID
	Nonce         uint8
	Owner         uuid.UUID
}

// VaultType defines one acceptable collateral asset: the token, the pooled
// custody account holding all deposits of it, and the derived authority
// controlling withdrawals from custody. Immutable after registration.
type VaultType struct {
	ID                uuid.UUID
	DebtType          uuid.UUID
	CollateralToken   token.AssetID
	CollateralCustody token.AccountID
	CustodyAuthority  authority.ID
	Nonce             uint8
	Owner             uuid.UUID
}

// Store holds the shared registry records read by every vault. Records are
// write-once; there is no update or delete.
// Not thread-safe: accessed only under the engine's operation lock.
type Store struct {
	debtTypes  map[uuid.UUID]*DebtType
	vaultTypes map[uuid.UUID]*VaultType
}

func NewStore() *Store {
	return &Store{
		debtTypes:  make(map[uuid.UUID]*DebtType),
		vaultTypes: make(map[uuid.UUID]*VaultType),
	}
}

// PutDebtType registers a DebtType. Registering the same identity twice is an
// error.
func (s *Store) PutDebtType(dt *DebtType) error {
	if _, exists := s.debtTypes[dt.ID]; exists {
		return fmt.Errorf("debt type %s already registered", dt.ID)
	}
	s.debtTypes[dt.ID] = dt
	return nil
}

// PutVaultType registers a VaultType. Registering the same identity twice is
// an error.
func (s *Store) PutVaultType(vt *VaultType) error {
	if _, exists := s.vaultTypes[vt.ID]; exists {
		return fmt.Errorf("vault type %s already registered", vt.ID)
	}
	s.vaultTypes[vt.ID] = vt
	return nil
}

// DebtType returns the record for an identity, or nil.
func (s *Store) DebtType(id uuid.UUID) *DebtType {
	return s.debtTypes[id]
}

// VaultType returns the record for an identity, or nil.
func (s *Store) VaultType(id uuid.UUID) *VaultType {
	return s.vaultTypes[id]
}

// AllDebtTypes returns every registered DebtType (for snapshot creation).
func (s *Store) AllDebtTypes() []*DebtType {
	result := make([]*DebtType, 0, len(s.debtTypes))
	for _, dt := range s.debtTypes {
		result = append(result, dt)
	}
	return result
}

// AllVaultTypes returns every registered VaultType (for snapshot creation).
func (s *Store) AllVaultTypes() []*VaultType {
	result := make([]*VaultType, 0, len(s.vaultTypes))
	for _, vt := range s.vaultTypes {
		result = append(result, vt)
	}
	return result
}
