package execlog

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// Draft is what the executor knows about an applied effect before the log
// assigns it a place.
type Draft struct {
	EffectID       string
	Kind           effect.Kind
	Payload        ir.Object
	Temporal       effect.TemporalContext
	Resources      []effect.ResourceID
	InputHashes    map[effect.ResourceID]string
	Outcome        effect.Outcome
	ContinuationID string
	Task           string
	// Depth is 0 for effects submitted by a caller and n for effects run
	// through Env.Nested n levels deep.
	Depth int
}

// Record is one applied effect in the log.
//
// Hash covers the effect id, the resources with their input state hashes,
// the outcome hash, the previous record for each resource, and the record's
// place in the log. Parents link every resource's records into a causal
// chain rooted at ir.GenesisHash.
type Record struct {
	Hash           string
	Seq            int64
	EffectID       string
	Kind           effect.Kind
	Payload        ir.Object
	Temporal       effect.TemporalContext
	Resources      []effect.ResourceID
	InputHashes    map[effect.ResourceID]string
	OutcomeHash    string
	Outcome        effect.Outcome
	Parents        map[effect.ResourceID]string
	ContinuationID string
	Task           string
	Depth          int
}

// ComputeHash derives r's content hash from its fields.
func (r Record) ComputeHash() (string, error) {
	return ir.Hash(ir.DomainRecord, ir.Obj(
		ir.O("seq", ir.Int(r.Seq)),
		ir.O("effect_id", ir.String(r.EffectID)),
		ir.O("resources", resourceArray(r.Resources)),
		ir.O("input_hashes", hashMap(r.InputHashes)),
		ir.O("outcome_hash", ir.String(r.OutcomeHash)),
		ir.O("parents", hashMap(r.Parents)),
		ir.O("continuation_id", ir.String(r.ContinuationID)),
		ir.O("task", ir.String(r.Task)),
		ir.O("depth", ir.Int(r.Depth)),
	))
}

// Object is the full canonical form of r, used by the persistent stores.
func (r Record) Object() ir.Object {
	return ir.Obj(
		ir.O("hash", ir.String(r.Hash)),
		ir.O("seq", ir.Int(r.Seq)),
		ir.O("effect_id", ir.String(r.EffectID)),
		ir.O("kind", ir.String(r.Kind.String())),
		ir.O("payload", r.Payload.Clone()),
		ir.O("temporal", r.Temporal.Object()),
		ir.O("resources", resourceArray(r.Resources)),
		ir.O("input_hashes", hashMap(r.InputHashes)),
		ir.O("outcome_hash", ir.String(r.OutcomeHash)),
		ir.O("outcome", r.Outcome.Object()),
		ir.O("parents", hashMap(r.Parents)),
		ir.O("continuation_id", ir.String(r.ContinuationID)),
		ir.O("task", ir.String(r.Task)),
		ir.O("depth", ir.Int(r.Depth)),
	)
}

// Encode returns r as canonical JSON.
func (r Record) Encode() ([]byte, error) {
	return ir.MarshalCanonical(r.Object())
}

// DecodeRecord parses the output of Record.Encode.
func DecodeRecord(data []byte) (Record, error) {
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return Record{}, fmt.Errorf("decode record: expected object, got %T", v)
	}
	return RecordFromObject(obj)
}

// RecordFromObject is the inverse of Record.Object.
func RecordFromObject(obj ir.Object) (Record, error) {
	var r Record
	var ok bool
	if r.Hash, ok = obj.Str("hash"); !ok {
		return Record{}, fmt.Errorf("decode record: missing hash")
	}
	if r.Seq, ok = obj.Int64("seq"); !ok {
		return Record{}, fmt.Errorf("decode record %s: missing seq", short(r.Hash))
	}
	r.EffectID, _ = obj.Str("effect_id")
	kind, _ := obj.Str("kind")
	k, err := effect.ParseKind(kind)
	if err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", short(r.Hash), err)
	}
	r.Kind = k
	r.Payload, _ = obj["payload"].(ir.Object)
	temporal, _ := obj["temporal"].(ir.Object)
	r.Temporal = effect.TemporalFromObject(temporal)
	resources, _ := obj["resources"].(ir.Array)
	for _, v := range resources {
		s, _ := v.(ir.String)
		r.Resources = append(r.Resources, effect.ResourceID(s))
	}
	r.InputHashes = hashMapFrom(obj["input_hashes"])
	r.OutcomeHash, _ = obj.Str("outcome_hash")
	outcome, _ := obj["outcome"].(ir.Object)
	if r.Outcome, err = effect.OutcomeFromObject(outcome); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", short(r.Hash), err)
	}
	r.Parents = hashMapFrom(obj["parents"])
	r.ContinuationID, _ = obj.Str("continuation_id")
	r.Task, _ = obj.Str("task")
	depth, _ := obj.Int64("depth")
	r.Depth = int(depth)
	return r, nil
}

// Parent returns the previous record hash for resource res.
func (r Record) Parent(res effect.ResourceID) string {
	if p, ok := r.Parents[res]; ok {
		return p
	}
	return ir.GenesisHash
}

func resourceArray(rs []effect.ResourceID) ir.Array {
	out := make(ir.Array, len(rs))
	for i, r := range rs {
		out[i] = ir.String(r)
	}
	return out
}

func hashMap(m map[effect.ResourceID]string) ir.Object {
	obj := make(ir.Object, len(m))
	for _, r := range slices.Sorted(maps.Keys(m)) {
		obj[string(r)] = ir.String(m[r])
	}
	return obj
}

func hashMapFrom(v ir.Value) map[effect.ResourceID]string {
	obj, _ := v.(ir.Object)
	out := make(map[effect.ResourceID]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(ir.String); ok {
			out[effect.ResourceID(k)] = string(s)
		}
	}
	return out
}
