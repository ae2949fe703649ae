package settlement

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var ErrBadSignature = errors.New("invalid callback signature")

// Sign returns the hex keyed BLAKE2b-256 of body.
func Sign(secret string, body []byte) (string, error) {
	h, err := blake2b.New256([]byte(secret))
	if err != nil {
		return "", err
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySignature checks a callback signature. Without a secret nothing verifies.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return ErrBadSignature
	}
	want, err := Sign(secret, body)
	if err != nil {
		return err
	}
	got := strings.ToLower(strings.TrimSpace(signature))
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrBadSignature
	}
	return nil
}
