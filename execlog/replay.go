package execlog

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/state"
)

// Mismatch is one disagreement between the log and a replay.
type Mismatch struct {
	Seq      int64
	Hash     string
	Field    string
	Resource effect.ResourceID
	Want     string
	Got      string
	// Diff is a go-cmp diff of the recorded and replayed values, when
	// there are values to compare.
	Diff string
}

func (m Mismatch) String() string {
	if m.Resource != "" {
		return fmt.Sprintf("seq=%d %s[%s]: want %s got %s", m.Seq, m.Field, m.Resource, short(m.Want), short(m.Got))
	}
	return fmt.Sprintf("seq=%d %s: want %s got %s", m.Seq, m.Field, short(m.Want), short(m.Got))
}

// Report summarizes a replay.
type Report struct {
	Checked    int
	Mismatches []Mismatch
	// Final is the resource state after replaying every record.
	Final map[effect.ResourceID]ir.Value
}

// OK reports whether the replay reproduced the log exactly.
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// ReplayOption configures Replay.
type ReplayOption func(*replayer)

// WithReplayLogger sets the logger used during replay.
func WithReplayLogger(l *zap.Logger) ReplayOption {
	return func(r *replayer) { r.log = l }
}

// Replay re-runs every record in store against a copy of initial using h,
// and checks that each record sees the same input state and produces the
// same outcome hash.
//
// Effects run through Env.Nested are logged before the effect that ran
// them. Replay defers them and re-runs them when the outer handler asks for
// them again, so each one sees the state it saw originally. As in the
// executor, nested writes stay with their caller and reach the state only
// if the top-level effect succeeds. A recorded rejection is handed back to
// the handler as *handler.RejectedError without running anything.
func Replay(ctx context.Context, store Store, initial *state.Snapshot, h handler.Handler, opts ...ReplayOption) (Report, error) {
	rp := &replayer{h: h, st: initial.Thaw(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(rp)
	}

	records, err := All(ctx, store)
	if err != nil {
		return Report{}, fmt.Errorf("replay: %w", err)
	}
	for _, rec := range records {
		if rec.Depth > 0 {
			rp.pending = append(rp.pending, rec)
			continue
		}
		eff, err := effect.Decode(rec.Kind, rec.Payload, effect.WithTemporal(rec.Temporal))
		if err != nil {
			return rp.report, fmt.Errorf("replay seq=%d: %w", rec.Seq, err)
		}
		out, writes, err := rp.replay(ctx, rec, eff, rp.st)
		if err != nil {
			return rp.report, err
		}
		if out.IsSuccess() {
			if err := rp.st.Apply(writes); err != nil {
				return rp.report, fmt.Errorf("replay seq=%d: %w", rec.Seq, err)
			}
		}
	}
	for _, orphan := range rp.pending {
		rp.mismatch(Mismatch{
			Seq:   orphan.Seq,
			Hash:  orphan.Hash,
			Field: "nested",
			Want:  orphan.EffectID,
			Got:   "not requested",
		})
	}

	final, err := rp.st.Dump()
	if err != nil {
		return rp.report, fmt.Errorf("replay: %w", err)
	}
	rp.report.Final = final
	return rp.report, nil
}

type replayer struct {
	h       handler.Handler
	st      *state.Store
	log     *zap.Logger
	pending []Record
	report  Report
}

func (rp *replayer) mismatch(m Mismatch) {
	rp.log.Warn("replay mismatch", zap.Stringer("mismatch", m))
	rp.report.Mismatches = append(rp.report.Mismatches, m)
}

// replay re-runs rec over base. It returns the outcome and, on success,
// the writes of the effect and of every nested effect it ran, for the
// caller to apply.
func (rp *replayer) replay(ctx context.Context, rec Record, eff effect.Effect, base state.Reader) (effect.Outcome, []state.Write, error) {
	rp.report.Checked++
	view := state.NewOverlay(base)

	for _, r := range rec.Resources {
		got, err := view.Hash(r)
		if err != nil {
			return effect.Outcome{}, nil, fmt.Errorf("replay seq=%d: %w", rec.Seq, err)
		}
		if want := rec.InputHashes[r]; got != want {
			rp.mismatch(Mismatch{Seq: rec.Seq, Hash: rec.Hash, Field: "input", Resource: r, Want: want, Got: got})
		}
	}

	stage := state.NewStage(view, rec.Resources)
	env := handler.NewEnv(stage, rec.Task, func(ctx context.Context, nested effect.Effect) (effect.Outcome, error) {
		return rp.nested(ctx, rec, view, nested)
	})
	out, err := rp.run(ctx, env, eff)
	if err != nil {
		rp.mismatch(Mismatch{Seq: rec.Seq, Hash: rec.Hash, Field: "handler", Want: rec.OutcomeHash, Got: err.Error()})
		return effect.Failure(effect.Conflict, err.Error()), nil, nil
	}

	got, err := out.Hash()
	if err != nil {
		return effect.Outcome{}, nil, fmt.Errorf("replay seq=%d: hash outcome: %w", rec.Seq, err)
	}
	if got != rec.OutcomeHash {
		rp.mismatch(Mismatch{
			Seq:   rec.Seq,
			Hash:  rec.Hash,
			Field: "outcome",
			Want:  rec.OutcomeHash,
			Got:   got,
			Diff:  cmp.Diff(rec.Outcome.Object(), out.Object()),
		})
	}
	if !out.IsSuccess() {
		return out, nil, nil
	}
	view.Add(stage.Writes()...)
	return out, view.Writes(), nil
}

// nested finds the deferred record for an effect requested by parent's
// handler, replays it over the parent's view and applies the effect's
// continuation the way the executor does.
func (rp *replayer) nested(ctx context.Context, parent Record, view *state.Overlay, eff effect.Effect) (effect.Outcome, error) {
	id, err := effect.ID(eff)
	if err != nil {
		return effect.Outcome{}, err
	}
	for i, rec := range rp.pending {
		if rec.Depth != parent.Depth+1 || rec.Task != parent.Task || rec.EffectID != id {
			continue
		}
		rp.pending = append(rp.pending[:i], rp.pending[i+1:]...)
		if rec.Outcome.Status() == effect.StatusRejected {
			rp.report.Checked++
			eff.Continuation().Discard()
			return rejection(rec.Outcome)
		}
		out, writes, err := rp.replay(ctx, rec, eff, view)
		if err != nil {
			return effect.Outcome{}, err
		}
		if !out.IsSuccess() {
			eff.Continuation().Discard()
			return out, nil
		}
		view.Add(writes...)
		return eff.Continuation().Apply(out)
	}
	rp.mismatch(Mismatch{Seq: parent.Seq, Hash: parent.Hash, Field: "nested", Want: "recorded nested effect", Got: id})
	return effect.Failuref(effect.NotFound, "no recorded nested effect %s", short(id)), nil
}

// rejection turns a logged refusal back into what Env.Nested returned: a
// TemporalInvalid failure outcome, or a *handler.RejectedError.
func rejection(o effect.Outcome) (effect.Outcome, error) {
	if o.Kind() == effect.TemporalInvalid {
		return effect.Failure(effect.TemporalInvalid, o.Message()), nil
	}
	return effect.Outcome{}, &handler.RejectedError{Kind: o.Kind(), Message: o.Message()}
}

func (rp *replayer) run(ctx context.Context, env handler.Env, eff effect.Effect) (out effect.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return rp.h.Handle(ctx, env, eff), nil
}
