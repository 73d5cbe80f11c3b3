package navigation_test

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/p-n-ai/pai-player/internal/completion"
	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/course/coursetest"
	"github.com/p-n-ai/pai-player/internal/gating"
	"github.com/p-n-ai/pai-player/internal/navigation"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/sequence"
)

type fixture struct {
	course *course.Course
	gate   *gating.Engine
	store  *progress.Store
	nav    *navigation.Controller
}

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, identified bool) *fixture {
	t.Helper()
	c := coursetest.New(t)
	r := sequence.New(c)
	g := gating.New(c, r)
	store := progress.NewStore(progress.NewMemoryBackend(), progress.StoreConfig{
		Key:           "test:fixture:alice",
		CourseVersion: c.Version,
		IDs:           course.NewNormalizer(c),
	})
	if identified {
		rec := progress.NewRecord(c.Version)
		rec.LearnerIdentity = &progress.Identity{Name: "Ana", Role: "operator"}
		if err := store.Save(t.Context(), rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	nav := navigation.New(c, r, g, store, completion.New(c), func() time.Time { return fixedNow })
	return &fixture{course: c, gate: g, store: store, nav: nav}
}

func TestGoTo_IdentityRequired(t *testing.T) {
	f := newFixture(t, false)

	out, err := f.nav.GoTo(t.Context(), "m1", "m1s1")
	if err != nil {
		t.Fatalf("GoTo() error = %v", err)
	}
	if out.Accepted || out.Reason != navigation.ReasonIdentityRequired {
		t.Errorf("GoTo() = %+v, want identity_required", out)
	}
}

func TestGoTo(t *testing.T) {
	f := newFixture(t, true)
	ctx := t.Context()

	out, err := f.nav.GoTo(ctx, "m1", "m1s2")
	if err != nil {
		t.Fatalf("GoTo(m1s2) error = %v", err)
	}
	if out.Accepted || out.Reason != gating.ReasonLocked {
		t.Errorf("GoTo(m1s2) on a fresh record = %+v, want locked", out)
	}

	if out, err = f.nav.GoTo(ctx, "m1", "m1s1"); err != nil || !out.Accepted {
		t.Fatalf("GoTo(m1s1) = %+v, %v; want accepted", out, err)
	}
	out, err = f.nav.GoTo(ctx, "m1", "m1s2")
	if err != nil || !out.Accepted {
		t.Fatalf("GoTo(m1s2) = %+v, %v; want accepted", out, err)
	}
	rec, _ := f.store.Load(ctx)
	if rec.Cursor == nil || rec.Cursor.StepID != "m1s2" {
		t.Errorf("Cursor = %v, want m1s2", rec.Cursor)
	}

	out, err = f.nav.GoTo(ctx, "m2", "m2s2")
	if err != nil {
		t.Fatalf("GoTo(m2s2) error = %v", err)
	}
	if out.Accepted || out.Reason != gating.ReasonLocked || !slices.Equal(out.Missing, []string{"m1"}) {
		t.Errorf("GoTo(m2s2) = %+v, want locked missing [m1]", out)
	}
	rec, _ = f.store.Load(ctx)
	if rec.Cursor.StepID != "m1s2" {
		t.Errorf("denied GoTo moved the cursor to %v", rec.Cursor)
	}

	out, _ = f.nav.GoTo(ctx, "m2", "m1s1")
	if out.Reason != gating.ReasonNotFound {
		t.Errorf("GoTo(wrong module) = %+v, want not_found", out)
	}
}

func TestAdvanceAndBack(t *testing.T) {
	f := newFixture(t, true)
	ctx := t.Context()

	out, err := f.nav.Advance(ctx)
	if err != nil || !out.Accepted || out.Location.StepID != "m1s1" {
		t.Fatalf("Advance() from no cursor = %+v, %v; want m1s1", out, err)
	}
	out, _ = f.nav.Advance(ctx)
	if out.Location.StepID != "m1s2" {
		t.Errorf("Advance() = %+v, want m1s2", out)
	}
	out, _ = f.nav.Back(ctx)
	if !out.Accepted || out.Location.StepID != "m1s1" {
		t.Errorf("Back() = %+v, want m1s1", out)
	}
	out, _ = f.nav.Back(ctx)
	if out.Accepted || out.Reason != navigation.ReasonAtStart {
		t.Errorf("Back() at first step = %+v, want at_start", out)
	}
}

func TestAdvance_ExamLocked(t *testing.T) {
	f := newFixture(t, true)
	ctx := t.Context()

	f.store.Update(ctx, func(r *progress.Record) error {
		r.Cursor = &course.Location{ModuleID: "m2", StepID: "m2s2"}
		r.AddCompletedStep("m1s1")
		r.AddCompletedStep("m1s2")
		r.AddCompletedModule("m1")
		return nil
	})

	out, err := f.nav.Advance(ctx)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if out.Accepted || out.Reason != gating.ReasonLocked || !slices.Equal(out.Missing, []string{"m2"}) {
		t.Errorf("Advance() into the exam module = %+v, want locked missing [m2]", out)
	}
}

func TestAdvance_Finished(t *testing.T) {
	f := newFixture(t, true)
	ctx := t.Context()
	f.store.Update(ctx, func(r *progress.Record) error {
		r.Cursor = &course.Location{ModuleID: "m3", StepID: "m3s2"}
		return nil
	})

	out, err := f.nav.Advance(ctx)
	if err != nil || !out.Finished || out.Accepted {
		t.Errorf("Advance() at last step = %+v, %v; want finished", out, err)
	}
}

func TestMarkStepComplete(t *testing.T) {
	f := newFixture(t, true)
	ctx := t.Context()

	_, modules, err := f.nav.MarkStepComplete(ctx, "m1s1")
	if err != nil || len(modules) != 0 {
		t.Fatalf("MarkStepComplete(m1s1) = %v, %v", modules, err)
	}
	once, modules, err := f.nav.MarkStepComplete(ctx, "m1s2")
	if err != nil || !slices.Equal(modules, []string{"m1"}) {
		t.Fatalf("MarkStepComplete(m1s2) modules = %v, %v; want [m1]", modules, err)
	}

	twice, modules, err := f.nav.MarkStepComplete(ctx, "m1s2")
	if err != nil || len(modules) != 0 {
		t.Fatalf("repeat MarkStepComplete() = %v, %v", modules, err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("MarkStepComplete() is not idempotent:\n once = %+v\ntwice = %+v", once, twice)
	}

	_, _, err = f.nav.MarkStepComplete(ctx, "nope")
	if !errors.Is(err, course.ErrNotFound) {
		t.Errorf("MarkStepComplete(nope) error = %v, want ErrNotFound", err)
	}
}

func TestMarkStepComplete_StampsCompletion(t *testing.T) {
	f := newFixture(t, true)
	ctx := t.Context()
	f.store.Update(ctx, func(r *progress.Record) error {
		r.ExamResult = &progress.AttemptResult{Score: 5, Total: 5, Percent: 100, Passed: true}
		return nil
	})

	var rec progress.Record
	for _, id := range f.course.RequiredStepIDs() {
		var err error
		rec, _, err = f.nav.MarkStepComplete(ctx, id)
		if err != nil {
			t.Fatalf("MarkStepComplete(%s) error = %v", id, err)
		}
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.Equal(fixedNow) {
		t.Fatalf("CompletedAt = %v, want %v", rec.CompletedAt, fixedNow)
	}
}

func TestReconcile(t *testing.T) {
	c := coursetest.New(t)
	rec := progress.NewRecord("1.0")
	rec.CompletedSteps = []string{"m2s1", "m2s2", "m1s1"}

	added := navigation.Reconcile(&rec, c)
	if !slices.Equal(added, []string{"m2"}) || !slices.Equal(rec.CompletedModules, []string{"m2"}) {
		t.Errorf("Reconcile() = %v, modules %v; want [m2]", added, rec.CompletedModules)
	}
	if again := navigation.Reconcile(&rec, c); len(again) != 0 {
		t.Errorf("second Reconcile() = %v, want nothing new", again)
	}
}

// Random walks of Advance and MarkStepComplete never shrink the completion
// sets and always leave the cursor reachable.
func TestProperties_RandomWalk(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		f := newFixture(t, true)
		ctx := t.Context()
		rng := rand.New(rand.NewPCG(seed, seed))
		var prev progress.Record

		for i := 0; i < 40; i++ {
			if rng.IntN(2) == 0 {
				if _, err := f.nav.Advance(ctx); err != nil {
					t.Fatalf("seed %d: Advance() error = %v", seed, err)
				}
			} else {
				rec, _ := f.store.Load(ctx)
				if rec.Cursor != nil {
					if _, _, err := f.nav.MarkStepComplete(ctx, rec.Cursor.StepID); err != nil {
						t.Fatalf("seed %d: MarkStepComplete() error = %v", seed, err)
					}
				}
			}

			rec, err := f.store.Load(ctx)
			if err != nil {
				t.Fatalf("seed %d: Load() error = %v", seed, err)
			}
			for _, id := range prev.CompletedSteps {
				if !rec.HasCompletedStep(id) {
					t.Fatalf("seed %d: completed step %s was lost", seed, id)
				}
			}
			for _, id := range prev.CompletedModules {
				if !rec.HasCompletedModule(id) {
					t.Fatalf("seed %d: completed module %s was lost", seed, id)
				}
			}
			if rec.Cursor != nil && !f.gate.IsStepReachable(rec, rec.Cursor.ModuleID, rec.Cursor.StepID) {
				t.Fatalf("seed %d: cursor %v is not reachable", seed, rec.Cursor)
			}
			prev = rec
		}
	}
}
