package token

import (
	"errors"

	"cdpvault/internal/authority"

	"github.com/google/uuid"
)

// AssetID identifies a mintable asset on the token ledger.
type AssetID = uuid.UUID

// AccountID identifies a holding account on the token ledger.
type AccountID = uuid.UUID

// Authority is the 32-byte controlling identity of an asset or account.
// It is either a program-derived authority or a user identity lifted via
// UserAuthority. The ledger compares authorities byte-for-byte; producing the
// right value is the caller's proof of control.
type Authority = authority.ID

// UserAuthority embeds a user identity into the authority space. User-held
// accounts are controlled by this value; custody accounts are controlled by a
// derived authority that no user can produce.
func UserAuthority(user uuid.UUID) Authority {
	var a Authority
	copy(a[:16], user[:])
	return a
}

var (
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrAuthorityRejected = errors.New("authority rejected")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetMismatch     = errors.New("account asset mismatch")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Ledger is the external token-ledger collaborator. Every mutation either
// fully applies or fails without side effects; the vault engine treats any
// error as grounds for a total rollback of the operation that requested it.
type Ledger interface {
	// CreateMintableAsset registers a new asset whose supply can only be
	// grown by the given mint authority.
	CreateMintableAsset(mintAuthority Authority, decimals uint8) (AssetID, error)

	// CreateHoldingAccount opens a zero-balance account for an asset under
	// the given controlling authority.
	CreateHoldingAccount(asset AssetID, owner Authority) (AccountID, error)

	// Mint grows supply into dest. Fails unless auth equals the asset's mint
	// authority.
	Mint(asset AssetID, auth Authority, dest AccountID, amount int64) error

	// Transfer moves amount between accounts of the same asset. Fails unless
	// sourceAuth equals the source account's controlling authority.
	Transfer(source AccountID, sourceAuth Authority, dest AccountID, amount int64) error

	// Burn retires amount from the account, shrinking supply. Fails unless
	// auth equals the account's controlling authority.
	Burn(account AccountID, auth Authority, amount int64) error

	// Balance returns the current balance of an account.
	Balance(account AccountID) (int64, error)

	// AccountAuthority returns the controlling authority of an account.
	AccountAuthority(account AccountID) (Authority, error)
}
