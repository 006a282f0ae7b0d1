package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewToken returns an unguessable opaque token. Ghost identity tokens and
// board admin secrets are UUIDv4 on the wire, matching what clients generate.
func NewToken() string {
	return uuid.NewString()
}
