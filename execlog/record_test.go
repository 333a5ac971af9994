package execlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
)

func TestRecordEncodeDecode(t *testing.T) {
	log := New()
	r := newRunner(t, log, balances("a", 100, "b", 0), handler.Ledger())
	r.run(deposit(t, "a", 1))

	tc := effect.TemporalContext{"now": 1700000000}
	e, err := effect.NewTransfer("a", "b", 40, effect.WithTemporal(tc))
	require.NoError(t, err)
	rec, _ := r.run(e)

	data, err := rec.Encode()
	require.NoError(t, err)
	got, err := DecodeRecord(data)
	require.NoError(t, err)

	assert.Equal(t, rec.Hash, got.Hash)
	assert.Equal(t, rec.Seq, got.Seq)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, tc, got.Temporal)
	assert.Equal(t, rec.Resources, got.Resources)
	assert.Equal(t, rec.InputHashes, got.InputHashes)
	assert.Equal(t, rec.Parents, got.Parents)
	assert.Equal(t, rec.OutcomeHash, got.OutcomeHash)
	assert.Equal(t, rec.Outcome.MustHash(), got.Outcome.MustHash())

	recomputed, err := got.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, recomputed)
}

func TestRecordEncodingIsCanonical(t *testing.T) {
	rec, err := New().Append(context.Background(), Draft{
		EffectID:    "e1",
		Kind:        effect.KindObserve,
		Payload:     ir.Obj(ir.O("target", ir.String("a"))),
		Resources:   []effect.ResourceID{"a"},
		InputHashes: map[effect.ResourceID]string{"a": ir.StateHash(nil, false)},
		Outcome:     effect.Success(ir.Int(7)),
	})
	require.NoError(t, err)

	first, err := rec.Encode()
	require.NoError(t, err)
	decoded, err := DecodeRecord(first)
	require.NoError(t, err)
	second, err := decoded.Encode()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestDecodeRecordRejectsGarbage(t *testing.T) {
	_, err := DecodeRecord([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = DecodeRecord([]byte(`{"seq":1}`))
	assert.ErrorContains(t, err, "missing hash")

	_, err = DecodeRecord([]byte(`{"hash":"h","seq":1,"kind":"teleport"}`))
	assert.Error(t, err)
}

func TestRecordHashCoversParentsAndInputs(t *testing.T) {
	base := Record{
		Seq:         1,
		EffectID:    "e1",
		Resources:   []effect.ResourceID{"a"},
		InputHashes: map[effect.ResourceID]string{"a": "x"},
		OutcomeHash: "o",
		Parents:     map[effect.ResourceID]string{"a": ir.GenesisHash},
	}
	h, err := base.ComputeHash()
	require.NoError(t, err)

	changedInput := base
	changedInput.InputHashes = map[effect.ResourceID]string{"a": "y"}
	h2, err := changedInput.ComputeHash()
	require.NoError(t, err)

	changedParent := base
	changedParent.Parents = map[effect.ResourceID]string{"a": "p"}
	h3, err := changedParent.ComputeHash()
	require.NoError(t, err)

	assert.NotEqual(t, h, h2)
	assert.NotEqual(t, h, h3)
	assert.NotEqual(t, h2, h3)
}
