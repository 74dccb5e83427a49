package domain

// Hasher is the core port for any hashing strategy. It digests image
// payloads for download ETags and session events.
type Hasher interface {
	Hash(data []byte) string
}
