package registry_test

import (
	"cdpvault/internal/authority"
	"cdpvault/internal/registry"
	"testing"

	"github.com/google/uuid"
)

func TestStore_PutDebtType_Duplicate(t *testing.T) {
	s := registry.NewStore()
	id := uuid.New()

	mintAuth, nonce, err := authority.Find(id)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	dt := &registry.DebtType{
		ID:            id,
		DebtToken:     uuid.New(),
		MintAuthority: mintAuth,
		Nonce:         nonce,
		Owner:         uuid.New(),
	}

	if err := s.PutDebtType(dt); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.PutDebtType(dt); err == nil {
		t.Error("second registration of the same identity should fail")
	}
}

func TestStore_PutVaultType_Duplicate(t *testing.T) {
	s := registry.NewStore()
	id := uuid.New()

	custodyAuth, nonce, err := authority.Find(id)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	vt := &registry.VaultType{
		ID:                id,
		DebtType:          uuid.New(),
		CollateralToken:   uuid.New(),
		CollateralCustody: uuid.New(),
		CustodyAuthority:  custodyAuth,
		Nonce:             nonce,
		Owner:             uuid.New(),
	}

	if err := s.PutVaultType(vt); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.PutVaultType(vt); err == nil {
		t.Error("second registration of the same identity should fail")
	}
}

func TestStore_LookupMiss(t *testing.T) {
	s := registry.NewStore()

	if s.DebtType(uuid.New()) != nil {
		t.Error("unknown debt type should return nil")
	}
	if s.VaultType(uuid.New()) != nil {
		t.Error("unknown vault type should return nil")
	}
}

func TestStore_AllRecords(t *testing.T) {
	s := registry.NewStore()

	for i := 0; i < 3; i++ {
		id := uuid.New()
		auth, nonce, _ := authority.Find(id)
		if err := s.PutDebtType(&registry.DebtType{ID: id, MintAuthority: auth, Nonce: nonce}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if got := len(s.AllDebtTypes()); got != 3 {
		t.Errorf("AllDebtTypes: got %d, want 3", got)
	}
	if got := len(s.AllVaultTypes()); got != 0 {
		t.Errorf("AllVaultTypes: got %d, want 0", got)
	}
}
