package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// inviteAlphabet leaves out ambiguous characters (0/O, 1/I/L).
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewInviteCode returns a 10-character invite code.
func NewInviteCode() string {
	bytes := make([]byte, 10)
	_, _ = rand.Read(bytes)
	code := make([]byte, len(bytes))
	for i, b := range bytes {
		code[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(code)
}
