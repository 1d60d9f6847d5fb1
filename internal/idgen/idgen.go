// Package idgen generates the prefixed entity IDs used across the platform:
// pol_ policies, cus_ customers, dev_ devices, rdg_ readings, inc_ incidents,
// clm_ claims, scr_ scoring results, pay_ payments.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 hex chars (12 random bytes).
// The prefix makes an ID self-describing in logs and API payloads.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns a random hex string of numBytes random bytes. Used for
// request IDs and gateway transaction references.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
