package hasher

import "testing"

func TestHash(t *testing.T) {
	h := New()

	if got := h.Hash(nil); got != "" {
		t.Errorf("Hash(nil) = %q, want empty", got)
	}

	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := h.Hash([]byte("abc")); got != abc {
		t.Errorf("Hash(abc) = %q, want %q", got, abc)
	}
}
