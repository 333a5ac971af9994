package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainEffect       = "effectcore/effect/v1"
	DomainContinuation = "effectcore/continuation/v1"
	DomainOutcome      = "effectcore/outcome/v1"
	DomainState        = "effectcore/state/v1"
	DomainTemporal     = "effectcore/temporal/v1"
	DomainRecord       = "effectcore/record/v1"
)

// GenesisHash is the parent link of the first record touching a resource.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonically encodes v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when the input is known to be canonical.
func MustHash(domain string, v any) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}

// StateHash identifies the value of a resource at a point in time. An absent
// resource hashes differently from every present value.
func StateHash(v Value, present bool) string {
	if !present {
		return hashWithDomain(DomainState, []byte("absent"))
	}
	if _, isNull := v.(Null); isNull || v == nil {
		return hashWithDomain(DomainState, []byte("null"))
	}
	return MustHash(DomainState, Obj(O("value", v)))
}
