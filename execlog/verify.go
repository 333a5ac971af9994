package execlog

import (
	"context"
	"fmt"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// Verify recomputes every record hash in store and checks that seq strictly
// increases and that each record's parents are the previous records for its
// resources. It returns the number of records checked and the first
// *IntegrityError found.
func Verify(ctx context.Context, store Store) (int, error) {
	heads := make(map[effect.ResourceID]string)
	var last int64
	checked := 0

	err := store.Scan(ctx, func(rec Record) error {
		want, err := rec.ComputeHash()
		if err != nil {
			return &IntegrityError{Seq: rec.Seq, Hash: rec.Hash, Reason: fmt.Sprintf("hash: %v", err)}
		}
		if want != rec.Hash {
			return &IntegrityError{Seq: rec.Seq, Hash: rec.Hash, Reason: "content hash mismatch, computed " + short(want)}
		}
		outcomeHash, err := rec.Outcome.Hash()
		if err != nil || outcomeHash != rec.OutcomeHash {
			return &IntegrityError{Seq: rec.Seq, Hash: rec.Hash, Reason: "outcome does not match outcome hash"}
		}
		if rec.Seq <= last {
			return &IntegrityError{Seq: rec.Seq, Hash: rec.Hash, Reason: fmt.Sprintf("seq not increasing after %d", last)}
		}
		for _, r := range rec.Resources {
			want := ir.GenesisHash
			if h, ok := heads[r]; ok {
				want = h
			}
			if got := rec.Parent(r); got != want {
				return &IntegrityError{
					Seq:    rec.Seq,
					Hash:   rec.Hash,
					Reason: fmt.Sprintf("parent for %s is %s, expected %s", r, short(got), short(want)),
				}
			}
		}
		for _, r := range rec.Resources {
			heads[r] = rec.Hash
		}
		last = rec.Seq
		checked++
		return nil
	})
	return checked, err
}
