package quorumlock

import (
	"crypto/rand"
	"encoding/hex"
)

const tokenBytes = 16

func newToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func validToken(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
