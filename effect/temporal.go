package effect

import (
	"maps"

	"github.com/roach88/effectcore/internal/ir"
)

// TemporalContext is an opaque snapshot of external positions, domain to
// position. The core hashes and forwards it but never interprets it.
type TemporalContext map[string]int64

// Clone copies tc. A nil context clones to nil.
func (tc TemporalContext) Clone() TemporalContext {
	if tc == nil {
		return nil
	}
	return maps.Clone(tc)
}

// Object is the canonical form of tc.
func (tc TemporalContext) Object() ir.Object {
	obj := make(ir.Object, len(tc))
	for domain, pos := range tc {
		obj[domain] = ir.Int(pos)
	}
	return obj
}

// Hash is the content hash of tc. Empty and nil contexts hash equally.
func (tc TemporalContext) Hash() string {
	return ir.MustHash(ir.DomainTemporal, tc.Object())
}

// TemporalFromObject decodes the form produced by Object.
func TemporalFromObject(obj ir.Object) TemporalContext {
	if len(obj) == 0 {
		return nil
	}
	tc := make(TemporalContext, len(obj))
	for domain, v := range obj {
		if n, ok := v.(ir.Int); ok {
			tc[domain] = int64(n)
		}
	}
	return tc
}
