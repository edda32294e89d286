package verifier

import (
	"crypto/sha256"
	"crypto/subtle"
)

// BindingHashSize is the number of leading user-data bytes that carry the
// session key hash.
const BindingHashSize = sha256.Size

// VerifyKeyBinding reports whether the leading bytes of userData equal
// sha256(candidate). Short user data never matches.
func VerifyKeyBinding(userData, candidate []byte) bool {
	if len(userData) < BindingHashSize || len(candidate) == 0 {
		return false
	}
	sum := sha256.Sum256(candidate)
	return subtle.ConstantTimeCompare(sum[:], userData[:BindingHashSize]) == 1
}

// VerifyNonceBinding reports whether the user-data bytes after the key hash
// equal sha256(nonce).
func VerifyNonceBinding(userData, nonce []byte) bool {
	if len(userData) < 2*BindingHashSize || len(nonce) == 0 {
		return false
	}
	sum := sha256.Sum256(nonce)
	return subtle.ConstantTimeCompare(sum[:], userData[BindingHashSize:2*BindingHashSize]) == 1
}
