package ir

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterminism(t *testing.T) {
	payload := Obj(O("account", String("alice")), O("amount", Int(50)))

	h1, err := Hash(DomainEffect, payload)
	require.NoError(t, err)
	h2, err := Hash(DomainEffect, payload.Clone())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
	_, err = hex.DecodeString(h1)
	assert.NoError(t, err)
}

func TestHashIgnoresKeyInsertionOrder(t *testing.T) {
	a := Object{}
	a["x"] = Int(1)
	a["y"] = Int(2)
	b := Object{}
	b["y"] = Int(2)
	b["x"] = Int(1)

	assert.Equal(t, MustHash(DomainOutcome, a), MustHash(DomainOutcome, b))
}

func TestDomainSeparation(t *testing.T) {
	payload := Obj(O("k", String("v")))
	domains := []string{DomainEffect, DomainContinuation, DomainOutcome, DomainState, DomainTemporal, DomainRecord}

	seen := map[string]string{}
	for _, d := range domains {
		h := MustHash(d, payload)
		prev, dup := seen[h]
		assert.False(t, dup, "%s collides with %s", d, prev)
		seen[h] = d
	}
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide.
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestHashErrors(t *testing.T) {
	_, err := Hash(DomainEffect, Object{"f": Null{}})
	assert.Error(t, err)

	assert.Panics(t, func() { MustHash(DomainEffect, 1.5) })
}

func TestStateHash(t *testing.T) {
	absent := StateHash(nil, false)
	null := StateHash(Null{}, true)
	zero := StateHash(Int(0), true)
	hundred := StateHash(Int(100), true)

	assert.NotEqual(t, absent, null)
	assert.NotEqual(t, absent, zero)
	assert.NotEqual(t, zero, hundred)
	assert.Equal(t, hundred, StateHash(Int(100), true))
}
