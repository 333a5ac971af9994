package state

import (
	"slices"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// Overlay collects the writes of finished nested effects on top of a
// Reader, with no access restriction. Overlays stack: an effect's handler
// reads through its own overlay, which reads through its caller's, down to
// the store. Nothing reaches the store until the outermost effect applies
// Writes.
type Overlay struct {
	base   Reader
	writes map[effect.ResourceID]Write
}

// NewOverlay returns an empty overlay over base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, writes: make(map[effect.ResourceID]Write)}
}

func (o *Overlay) Get(r effect.ResourceID) (ir.Value, bool, error) {
	if w, ok := o.writes[r]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return ir.CloneValue(w.Value), true, nil
	}
	return o.base.Get(r)
}

// Hash is the content hash of r as seen through o.
func (o *Overlay) Hash(r effect.ResourceID) (string, error) {
	v, ok, err := o.Get(r)
	if err != nil {
		return "", err
	}
	return ir.StateHash(v, ok), nil
}

// Add records ws, later writes to a resource replacing earlier ones.
func (o *Overlay) Add(ws ...Write) {
	for _, w := range ws {
		o.writes[w.Resource] = w
	}
}

// Writes returns the collected writes in canonical resource order.
func (o *Overlay) Writes() []Write {
	keys := make([]effect.ResourceID, 0, len(o.writes))
	for r := range o.writes {
		keys = append(keys, r)
	}
	slices.SortFunc(keys, effect.Compare)
	out := make([]Write, len(keys))
	for i, r := range keys {
		out[i] = o.writes[r]
	}
	return out
}
