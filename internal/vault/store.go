package vault

import (
	"fmt"

	"github.com/google/uuid"
)

// Store is the explicit position store keyed by vault identity. Each vault is
// exclusively owned by one user; all mutation flows through the engine's
// operation entry points, which hold the store for the duration of one atomic
// unit.
// Not thread-safe: accessed only under the engine's operation lock.
type Store struct {
	vaults map[uuid.UUID]*Vault
}

func NewStore() *Store {
	return &Store{
		vaults: make(map[uuid.UUID]*Vault),
	}
}

// Put creates a vault. Creating the same identity twice is an error.
func (s *Store) Put(v *Vault) error {
	if _, exists := s.vaults[v.ID]; exists {
		return fmt.Errorf("vault %s already exists", v.ID)
	}
	s.vaults[v.ID] = v
	return nil
}

// Get returns the vault for an identity, or nil.
func (s *Store) Get(id uuid.UUID) *Vault {
	return s.vaults[id]
}

// Set directly installs a vault (used for snapshot restore).
func (s *Store) Set(v *Vault) {
	s.vaults[v.ID] = v
}

// All returns every vault (for snapshot creation and invariant checks).
func (s *Store) All() []*Vault {
	result := make([]*Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		result = append(result, v)
	}
	return result
}

// ByVaultType returns all vaults denominated in a VaultType.
func (s *Store) ByVaultType(vaultTypeID uuid.UUID) []*Vault {
	result := make([]*Vault, 0)
	for _, v := range s.vaults {
		if v.VaultType == vaultTypeID {
			result = append(result, v)
		}
	}
	return result
}

// ByOwner returns all vaults owned by a user.
func (s *Store) ByOwner(owner uuid.UUID) []*Vault {
	result := make([]*Vault, 0)
	for _, v := range s.vaults {
		if v.Owner == owner {
			result = append(result, v)
		}
	}
	return result
}

// TotalCollateral sums collateral across all vaults of a VaultType. After
// every stake and unstake this must equal the custody account balance.
func (s *Store) TotalCollateral(vaultTypeID uuid.UUID) int64 {
	var total int64
	for _, v := range s.vaults {
		if v.VaultType == vaultTypeID {
			total += v.CollateralAmount
		}
	}
	return total
}

// TotalDebt sums outstanding debt across all vaults of a DebtType.
func (s *Store) TotalDebt(debtTypeID uuid.UUID) int64 {
	var total int64
	for _, v := range s.vaults {
		if v.DebtType == debtTypeID {
			total += v.DebtAmount
		}
	}
	return total
}
