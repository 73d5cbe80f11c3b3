// Package navigation applies navigation and completion requests to a
// learner's stored progress.
package navigation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-player/internal/completion"
	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/gating"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/sequence"
)

// Denial reasons added on top of the gating reasons.
const (
	ReasonIdentityRequired gating.Reason = "identity_required"
	ReasonAtStart          gating.Reason = "at_start"
)

// Store is the subset of progress.Store the controller needs.
type Store interface {
	Load(ctx context.Context) (progress.Record, error)
	Update(ctx context.Context, fn func(*progress.Record) error) (progress.Record, error)
}

// Outcome is the result of a navigation request. A denial is a normal
// outcome, not an error.
type Outcome struct {
	Accepted bool            `json:"accepted"`
	Location course.Location `json:"location"`
	Reason   gating.Reason   `json:"reason,omitempty"`
	Missing  []string        `json:"missing,omitempty"`
	// Finished is set when advancing past the last step of the course.
	Finished bool `json:"finished,omitempty"`

	Record progress.Record `json:"-"`
}

var errDenied = errors.New("navigation denied")

// Controller is the only component that moves the cursor or marks steps
// complete.
type Controller struct {
	course   *course.Course
	resolver *sequence.Resolver
	gate     *gating.Engine
	store    Store
	done     *completion.Gate
	now      func() time.Time
}

// New creates a controller. A nil now uses time.Now.
func New(c *course.Course, r *sequence.Resolver, g *gating.Engine, store Store, done *completion.Gate, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		course:   c,
		resolver: r,
		gate:     g,
		store:    store,
		done:     done,
		now:      now,
	}
}

// GoTo moves the cursor to a step if the learner may open it.
func (c *Controller) GoTo(ctx context.Context, moduleID, stepID string) (Outcome, error) {
	loc := course.Location{ModuleID: moduleID, StepID: stepID}
	var out Outcome
	rec, err := c.store.Update(ctx, func(rec *progress.Record) error {
		out = c.authorize(*rec, loc)
		if !out.Accepted {
			out.Record = *rec
			return errDenied
		}
		rec.Cursor = &loc
		return nil
	})
	if errors.Is(err, errDenied) {
		slog.Debug("navigation denied",
			"course_id", c.course.ID,
			"module_id", moduleID,
			"step_id", stepID,
			"reason", out.Reason,
		)
		return out, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	out.Record = rec
	return out, nil
}

// Advance moves the cursor to the linear successor of the current step, or
// to the first step when there is no cursor. Past the last step it reports
// Finished without moving.
func (c *Controller) Advance(ctx context.Context) (Outcome, error) {
	rec, err := c.store.Load(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if rec.Cursor == nil {
		first := c.resolver.First()
		return c.GoTo(ctx, first.ModuleID, first.StepID)
	}

	next, ok := c.resolver.Next(rec.Cursor.ModuleID, rec.Cursor.StepID)
	if !ok {
		return Outcome{Location: *rec.Cursor, Finished: true, Record: rec}, nil
	}
	// The successor of a reachable step is reachable, except entry to a
	// still-locked exam module, which GoTo reports as locked.
	return c.GoTo(ctx, next.ModuleID, next.StepID)
}

// Back moves the cursor to the linear predecessor of the current step.
func (c *Controller) Back(ctx context.Context) (Outcome, error) {
	rec, err := c.store.Load(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if rec.Cursor == nil {
		return Outcome{Reason: ReasonAtStart, Record: rec}, nil
	}

	prev, ok := c.resolver.Previous(rec.Cursor.ModuleID, rec.Cursor.StepID)
	if !ok {
		return Outcome{Location: *rec.Cursor, Reason: ReasonAtStart, Record: rec}, nil
	}
	return c.GoTo(ctx, prev.ModuleID, prev.StepID)
}

// MarkStepComplete records a step as complete and returns the updated record
// with the ids of modules completed by this call. It is idempotent.
func (c *Controller) MarkStepComplete(ctx context.Context, stepID string) (progress.Record, []string, error) {
	if _, _, err := c.course.Step(stepID); err != nil {
		return progress.Record{}, nil, err
	}

	var modules []string
	rec, err := c.store.Update(ctx, func(rec *progress.Record) error {
		modules = MarkComplete(rec, c.course, stepID)
		c.done.Evaluate(rec, c.now())
		return nil
	})
	if err != nil {
		return progress.Record{}, nil, err
	}
	return rec, modules, nil
}

func (c *Controller) authorize(rec progress.Record, loc course.Location) Outcome {
	out := Outcome{Location: loc}
	if !rec.HasIdentity() {
		out.Reason = ReasonIdentityRequired
		return out
	}
	d := c.gate.Check(rec, loc.ModuleID, loc.StepID)
	if !d.Allowed {
		out.Reason = d.Reason
		out.Missing = d.Missing
		return out
	}
	out.Accepted = true
	return out
}

// MarkComplete adds stepID to the completed steps and appends every module
// it fully covers. It returns the newly completed module ids.
func MarkComplete(rec *progress.Record, c *course.Course, stepID string) []string {
	rec.AddCompletedStep(stepID)
	return Reconcile(rec, c)
}

// Reconcile appends every module whose steps are all complete. Modules are
// never removed.
func Reconcile(rec *progress.Record, c *course.Course) []string {
	var added []string
	for _, m := range c.AllModules() {
		if rec.HasCompletedModule(m.ID) {
			continue
		}
		complete := true
		for _, s := range m.Steps {
			if !rec.HasCompletedStep(s.ID) {
				complete = false
				break
			}
		}
		if complete && rec.AddCompletedModule(m.ID) {
			added = append(added, m.ID)
		}
	}
	return added
}
