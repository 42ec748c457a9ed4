package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// The version suffix leaves room for changing the algorithm later.
const (
	DomainState   = "fluxtor/state/v1"
	DomainPayload = "fluxtor/payload/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest identifies a state snapshot by content. Two snapshots with the
// same keys and canonically equal values have the same digest, whatever
// their map iteration order or numeric Go types.
func StateDigest(state any) (string, error) {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("StateDigest: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// PayloadDigest identifies an action payload by content.
func PayloadDigest(payload any) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadDigest: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// MustStateDigest is like StateDigest but panics on error.
// Use only in tests or when the state is known to be serializable.
func MustStateDigest(state any) string {
	d, err := StateDigest(state)
	if err != nil {
		panic(err)
	}
	return d
}
