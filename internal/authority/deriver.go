package authority

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3/group/edwards25519"
)

// ID is a 32-byte program-derived authority identifier. A valid ID is never a
// decodable edwards25519 point, so no private key can exist that signs as it.
// The protocol proves control by re-deriving the ID from (seed, nonce) at the
// point of use.
type ID [32]byte

// DomainTag namespaces derived authorities so they cannot collide with
// identifiers derived by unrelated protocols from the same seed.
const DomainTag = "cdpvault:authority:v1"

// DefaultNonce is the canonical starting point of the nonce search. The search
// walks downward so every registry record converges on the highest valid nonce
// for its seed.
const DefaultNonce = uint8(255)

var suite = edwards25519.NewBlakeSHA256Ed25519()

// Derive computes the candidate authority for (seed, nonce) and reports
// whether it is valid, i.e. off-curve. The same (seed, nonce) always yields
// the same ID.
func Derive(seed uuid.UUID, nonce uint8) (ID, bool) {
	h := sha256.New()
	h.Write([]byte(DomainTag))
	h.Write(seed[:])
	h.Write([]byte{nonce})

	var id ID
	copy(id[:], h.Sum(nil))

	return id, offCurve(id)
}

// Find searches nonces from DefaultNonce downward and returns the first
// (ID, nonce) pair whose candidate is off-curve. The search space is bounded
// at 256 nonces; exhausting it is unexpected and fatal to the registration
// that requested it.
func Find(seed uuid.UUID) (ID, uint8, error) {
	for n := int(DefaultNonce); n >= 0; n-- {
		if id, ok := Derive(seed, uint8(n)); ok {
			return id, uint8(n), nil
		}
	}
	return ID{}, 0, fmt.Errorf("authority derivation failed: no valid nonce for seed %s", seed)
}

// Verify re-derives the authority for (seed, nonce) and checks it matches the
// expected ID. This is the call-time proof of control: an operation that can
// name the (seed, nonce) pair behind an authority may act with its power.
func Verify(seed uuid.UUID, nonce uint8, expected ID) bool {
	id, ok := Derive(seed, nonce)
	return ok && id == expected
}

// offCurve returns true when the candidate bytes do not decode as an
// edwards25519 point. On-curve candidates are rejected because a keypair
// could, in principle, exist for them.
func offCurve(id ID) bool {
	p := suite.Point()
	return p.UnmarshalBinary(id[:]) != nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is the zero value (no authority).
func (id ID) IsZero() bool {
	return id == ID{}
}
