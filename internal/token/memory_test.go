package token_test

import (
	"cdpvault/internal/token"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryLedger_MintRequiresMintAuthority(t *testing.T) {
	ml := token.NewMemoryLedger()
	mintAuth := token.UserAuthority(uuid.New())

	asset, err := ml.CreateMintableAsset(mintAuth, 8)
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}

	holder := token.UserAuthority(uuid.New())
	acct, err := ml.CreateHoldingAccount(asset, holder)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	// Wrong authority must be rejected.
	if err := ml.Mint(asset, holder, acct, 100); !errors.Is(err, token.ErrAuthorityRejected) {
		t.Errorf("mint with wrong authority: got %v, want ErrAuthorityRejected", err)
	}

	if err := ml.Mint(asset, mintAuth, acct, 100); err != nil {
		t.Fatalf("mint with correct authority: %v", err)
	}

	bal, err := ml.Balance(acct)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 100 {
		t.Errorf("balance: got %d, want 100", bal)
	}
}

func TestMemoryLedger_TransferRequiresSourceAuthority(t *testing.T) {
	ml := token.NewMemoryLedger()
	mintAuth := token.UserAuthority(uuid.New())
	asset, _ := ml.CreateMintableAsset(mintAuth, 8)

	aliceAuth := token.UserAuthority(uuid.New())
	bobAuth := token.UserAuthority(uuid.New())
	alice, _ := ml.CreateHoldingAccount(asset, aliceAuth)
	bob, _ := ml.CreateHoldingAccount(asset, bobAuth)

	if err := ml.Mint(asset, mintAuth, alice, 50); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ml.Transfer(alice, bobAuth, bob, 10); !errors.Is(err, token.ErrAuthorityRejected) {
		t.Errorf("transfer with wrong authority: got %v, want ErrAuthorityRejected", err)
	}

	if err := ml.Transfer(alice, aliceAuth, bob, 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBal, _ := ml.Balance(alice)
	bobBal, _ := ml.Balance(bob)
	if aliceBal != 40 || bobBal != 10 {
		t.Errorf("balances after transfer: alice=%d bob=%d, want 40/10", aliceBal, bobBal)
	}
}

func TestMemoryLedger_TransferInsufficientFunds(t *testing.T) {
	ml := token.NewMemoryLedger()
	mintAuth := token.UserAuthority(uuid.New())
	asset, _ := ml.CreateMintableAsset(mintAuth, 8)

	aliceAuth := token.UserAuthority(uuid.New())
	alice, _ := ml.CreateHoldingAccount(asset, aliceAuth)
	bob, _ := ml.CreateHoldingAccount(asset, token.UserAuthority(uuid.New()))

	err := ml.Transfer(alice, aliceAuth, bob, 1)
	if !errors.Is(err, token.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestMemoryLedger_TransferAcrossAssetsRejected(t *testing.T) {
	ml := token.NewMemoryLedger()
	mintAuth := token.UserAuthority(uuid.New())
	assetA, _ := ml.CreateMintableAsset(mintAuth, 8)
	assetB, _ := ml.CreateMintableAsset(mintAuth, 8)

	auth := token.UserAuthority(uuid.New())
	a, _ := ml.CreateHoldingAccount(assetA, auth)
	b, _ := ml.CreateHoldingAccount(assetB, auth)

	if err := ml.Mint(assetA, mintAuth, a, 5); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ml.Transfer(a, auth, b, 5); !errors.Is(err, token.ErrAssetMismatch) {
		t.Errorf("got %v, want ErrAssetMismatch", err)
	}
}

func TestMemoryLedger_BurnShrinksSupply(t *testing.T) {
	ml := token.NewMemoryLedger()
	mintAuth := token.UserAuthority(uuid.New())
	asset, _ := ml.CreateMintableAsset(mintAuth, 8)

	auth := token.UserAuthority(uuid.New())
	acct, _ := ml.CreateHoldingAccount(asset, auth)

	if err := ml.Mint(asset, mintAuth, acct, 30); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ml.Burn(acct, auth, 30); err != nil {
		t.Fatalf("burn: %v", err)
	}

	supply, err := ml.Supply(asset)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply != 0 {
		t.Errorf("supply after full burn: got %d, want 0", supply)
	}

	// Burning more than held must fail.
	if err := ml.Burn(acct, auth, 1); !errors.Is(err, token.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestMemoryLedger_InvalidAmounts(t *testing.T) {
	ml := token.NewMemoryLedger()
	mintAuth := token.UserAuthority(uuid.New())
	asset, _ := ml.CreateMintableAsset(mintAuth, 8)
	acct, _ := ml.CreateHoldingAccount(asset, mintAuth)

	if err := ml.Mint(asset, mintAuth, acct, 0); !errors.Is(err, token.ErrInvalidAmount) {
		t.Errorf("mint zero: got %v, want ErrInvalidAmount", err)
	}
	if err := ml.Transfer(acct, mintAuth, acct, -5); !errors.Is(err, token.ErrInvalidAmount) {
		t.Errorf("transfer negative: got %v, want ErrInvalidAmount", err)
	}
}

func TestMemoryLedger_AccountAuthority(t *testing.T) {
	ml := token.NewMemoryLedger()
	mintAuth := token.UserAuthority(uuid.New())
	asset, _ := ml.CreateMintableAsset(mintAuth, 8)

	owner := token.UserAuthority(uuid.New())
	acct, _ := ml.CreateHoldingAccount(asset, owner)

	got, err := ml.AccountAuthority(acct)
	if err != nil {
		t.Fatalf("account authority: %v", err)
	}
	if got != owner {
		t.Errorf("got %s, want %s", got, owner)
	}

	if _, err := ml.AccountAuthority(uuid.New()); !errors.Is(err, token.ErrUnknownAccount) {
		t.Errorf("got %v, want ErrUnknownAccount", err)
	}
}
