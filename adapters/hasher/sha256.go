package hasher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mi6Fsoc/reroom-prototype/domain"
)

// New returns a domain.Hasher backed by SHA‑256.
func New() domain.Hasher { return sha256Hasher{} }

type sha256Hasher struct{}

// Hash returns the hex digest of data, or "" for an empty payload so that a
// missing image never shares a digest with a real one.
func (h sha256Hasher) Hash(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
