package security

import (
	"crypto/sha256"
	"crypto/subtle"
)

// VerifyClientKey compares the presented key against the configured set in
// constant time per candidate. An empty key never matches.
func VerifyClientKey(presented string, keys []string) bool {
	if presented == "" {
		return false
	}
	ph := sha256.Sum256([]byte(presented))
	ok := false
	for _, k := range keys {
		kh := sha256.Sum256([]byte(k))
		if subtle.ConstantTimeCompare(ph[:], kh[:]) == 1 {
			ok = true
		}
	}
	return ok
}
