package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisSeed = "cdpvault:genesis:v1"

// StateHasher maintains the running hash chain over applied operations:
// state_hash[N] = SHA-256(state_hash[N-1] || sequence || state_digest).
// The chain tip before the first operation is SHA-256 of a fixed seed, so
// two nodes replaying the same log always converge on the same hashes.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(genesisSeed))}
}

// ComputeHash extends the chain with one operation and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	buf := make([]byte, 0, len(h.tip)+8+len(stateDigest))
	buf = append(buf, h.tip[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, stateDigest...)

	h.tip = sha256.Sum256(buf)
	return h.tip
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.tip
}

// SetPrevHash resets the chain tip when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.tip = hash
}
