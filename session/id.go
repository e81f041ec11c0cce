package session

import (
	"crypto/rand"
	"encoding/base64"
)

// idBytes is the entropy of a session id.
const idBytes = 16

// NewID returns a random session id: 16 bytes, unpadded base64url.
func NewID() (string, error) {
	var raw [idBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
