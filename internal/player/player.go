// Package player serves one learner's session in one course: identity,
// navigation, step completion, assessments and the certificate.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-player/internal/bridge"
	"github.com/p-n-ai/pai-player/internal/completion"
	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/gating"
	"github.com/p-n-ai/pai-player/internal/navigation"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/quiz"
	"github.com/p-n-ai/pai-player/internal/sequence"
)

// Denial reasons for player requests, on top of the gating and navigation
// reasons.
const (
	ReasonStepIncomplete     gating.Reason = "step_incomplete"
	ReasonAssessmentRequired gating.Reason = "assessment_required"
	ReasonNotAssessment      gating.Reason = "not_assessment"
)

var (
	ErrInvalidName = errors.New("learner name is required")
	ErrUnknownRole = errors.New("unknown role")
)

// Store is the persistence a Player needs. *progress.Store implements it.
type Store interface {
	Load(ctx context.Context) (progress.Record, error)
	Update(ctx context.Context, fn func(*progress.Record) error) (progress.Record, error)
	Reset(ctx context.Context) error
	SetCertificateID(ctx context.Context, id string) error
}

// Config holds the dependencies of a Player.
type Config struct {
	Course    *course.Course
	LearnerID string
	Store     Store
	Events    EventLogger // default NopEventLogger
	Policy    quiz.Policy // default PolicyLast
	Now       func() time.Time
}

// Player handles every request of one learner in one course. Requests are
// serialised.
type Player struct {
	mu        sync.Mutex
	course    *course.Course
	ids       *course.Normalizer
	learnerID string
	store     Store
	events    EventLogger
	policy    quiz.Policy
	now       func() time.Time

	// role the cached view was built for
	role string
	view *view
}

// view is the course as seen by one role, with the engines built over it.
type view struct {
	course   *course.Course
	resolver *sequence.Resolver
	gate     *gating.Engine
	done     *completion.Gate
	nav      *navigation.Controller
}

// NewPlayer creates a Player.
func NewPlayer(cfg Config) *Player {
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	policy := cfg.Policy
	if policy == "" {
		policy = quiz.PolicyLast
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Player{
		course:    cfg.Course,
		ids:       course.NewNormalizer(cfg.Course),
		learnerID: cfg.LearnerID,
		store:     cfg.Store,
		events:    events,
		policy:    policy,
		now:       now,
	}
}

// ModuleView is one entry of the course map.
type ModuleView struct {
	gating.ModuleStatus
	Title string `json:"title"`
}

// Status is a snapshot of the learner's progress.
type Status struct {
	CourseID            string                            `json:"courseId"`
	CourseTitle         string                            `json:"courseTitle"`
	CourseVersion       string                            `json:"courseVersion"`
	LearnerID           string                            `json:"learnerId"`
	Identity            *progress.Identity                `json:"identity,omitempty"`
	Cursor              *course.Location                  `json:"cursor,omitempty"`
	Modules             []ModuleView                      `json:"modules"`
	CompletedModules    int                               `json:"completedModules"`
	TotalModules        int                               `json:"totalModules"`
	CompletedSteps      int                               `json:"completedSteps"`
	TotalSteps          int                               `json:"totalSteps"`
	Percent             int                               `json:"percent"`
	QuizResults         map[string]progress.AttemptResult `json:"quizResults"`
	ExamResult          *progress.AttemptResult           `json:"examResult,omitempty"`
	LockedInputs        []string                          `json:"lockedInputs"`
	CanStartExam        bool                              `json:"canStartExam"`
	CertificateEligible bool                              `json:"certificateEligible"`
	CompletedAt         *time.Time                        `json:"completedAt,omitempty"`
}

// StepResult is the outcome of a step completion request.
type StepResult struct {
	Accepted         bool          `json:"accepted"`
	Reason           gating.Reason `json:"reason,omitempty"`
	Missing          []string      `json:"missing,omitempty"`
	ModuleID         string        `json:"moduleId,omitempty"`
	StepID           string        `json:"stepId"`
	CompletedModules []string      `json:"completedModules,omitempty"`
	CourseCompleted  bool          `json:"courseCompleted"`
}

// SubmitResult is the outcome of an assessment submission.
type SubmitResult struct {
	StepResult
	Attempt progress.AttemptResult `json:"attempt"`
	Stored  progress.AttemptResult `json:"stored"`
}

// Identify records the learner's name and role. The name is trimmed and NFC
// normalised.
func (p *Player) Identify(ctx context.Context, name, role string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name = norm.NFC.String(strings.TrimSpace(name))
	role = strings.TrimSpace(role)
	if name == "" {
		return Status{}, ErrInvalidName
	}
	if role == "" || !p.course.HasRole(role) {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	if _, err := p.store.Update(ctx, func(rec *progress.Record) error {
		rec.LearnerIdentity = &progress.Identity{Name: name, Role: role}
		return nil
	}); err != nil {
		return Status{}, fmt.Errorf("saving identity: %w", err)
	}

	slog.Info("learner identified",
		"course_id", p.course.ID,
		"learner_id", p.learnerID,
		"role", role,
	)
	return p.status(ctx)
}

// Status returns the current progress snapshot.
func (p *Player) Status(ctx context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status(ctx)
}

// Resume returns the stored cursor, or moves to the first step when there is
// no usable cursor.
func (p *Player) Resume(ctx context.Context) (navigation.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, v, err := p.load(ctx)
	if err != nil {
		return navigation.Outcome{}, err
	}
	return p.resume(ctx, rec, v)
}

func (p *Player) resume(ctx context.Context, rec progress.Record, v *view) (navigation.Outcome, error) {
	if !rec.HasIdentity() {
		return navigation.Outcome{Reason: navigation.ReasonIdentityRequired, Record: rec}, nil
	}
	if rec.Cursor != nil && v.gate.IsStepReachable(rec, rec.Cursor.ModuleID, rec.Cursor.StepID) {
		return navigation.Outcome{Accepted: true, Location: *rec.Cursor, Record: rec}, nil
	}
	first := v.resolver.First()
	out, err := v.nav.GoTo(ctx, first.ModuleID, first.StepID)
	if err != nil {
		return navigation.Outcome{}, err
	}
	p.logNavigation(out)
	return out, nil
}

// GoTo moves to a step. Legacy module and step ids are accepted.
func (p *Player) GoTo(ctx context.Context, moduleID, stepID string) (navigation.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, v, err := p.load(ctx)
	if err != nil {
		return navigation.Outcome{}, err
	}
	if m, ok := p.ids.ModuleID(moduleID); ok {
		moduleID = m
	}
	if s, ok := p.ids.StepID(stepID); ok {
		stepID = s
	}
	if !rec.HasIdentity() {
		out := navigation.Outcome{
			Location: course.Location{ModuleID: moduleID, StepID: stepID},
			Reason:   navigation.ReasonIdentityRequired,
			Record:   rec,
		}
		p.logNavigation(out)
		return out, nil
	}

	out, err := v.nav.GoTo(ctx, moduleID, stepID)
	if err != nil {
		return navigation.Outcome{}, err
	}
	p.logNavigation(out)
	return out, nil
}

// Back moves to the previous step.
func (p *Player) Back(ctx context.Context) (navigation.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, v, err := p.load(ctx)
	if err != nil {
		return navigation.Outcome{}, err
	}
	out, err := v.nav.Back(ctx)
	if err != nil {
		return navigation.Outcome{}, err
	}
	if out.Reason != navigation.ReasonAtStart {
		p.logNavigation(out)
	}
	return out, nil
}

// Next completes the current step when it is an overview and moves to the
// following step. Other steps must be completed first.
func (p *Player) Next(ctx context.Context) (navigation.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, v, err := p.load(ctx)
	if err != nil {
		return navigation.Outcome{}, err
	}
	if !rec.HasIdentity() {
		return navigation.Outcome{Reason: navigation.ReasonIdentityRequired, Record: rec}, nil
	}
	if rec.Cursor == nil {
		return p.resume(ctx, rec, v)
	}

	cur := *rec.Cursor
	step, mod, err := v.course.Step(cur.StepID)
	if err != nil || mod.ID != cur.ModuleID {
		// The cursor is not part of this role's view.
		return p.resume(ctx, rec, v)
	}

	if !rec.HasCompletedStep(step.ID) {
		if step.Type != course.StepOverview {
			out := navigation.Outcome{Location: cur, Reason: ReasonStepIncomplete, Record: rec}
			p.logNavigation(out)
			return out, nil
		}
		if _, err := p.markComplete(ctx, v, rec, step, mod); err != nil {
			return navigation.Outcome{}, err
		}
	}

	out, err := v.nav.Advance(ctx)
	if err != nil {
		return navigation.Outcome{}, err
	}
	if !out.Finished {
		p.logNavigation(out)
	}
	return out, nil
}

// CompleteStep marks an overview or runtime step complete. Assessed steps are
// completed by passing Submit.
func (p *Player) CompleteStep(ctx context.Context, stepID string) (StepResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completeStep(ctx, "", stepID)
}

// HandleStepComplete applies a completion message from an embedded page. The
// step must belong to moduleID.
func (p *Player) HandleStepComplete(ctx context.Context, moduleID, stepID string) (bridge.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.completeStep(ctx, moduleID, stepID)
	if err != nil {
		return bridge.Ack{}, err
	}
	ack := bridge.Ack{OK: res.Accepted, Reason: string(res.Reason), ModuleID: res.ModuleID, StepID: res.StepID}
	if ack.ModuleID == "" {
		ack.ModuleID = moduleID
	}
	return ack, nil
}

func (p *Player) completeStep(ctx context.Context, moduleID, stepID string) (StepResult, error) {
	rec, v, err := p.load(ctx)
	if err != nil {
		return StepResult{}, err
	}

	res := StepResult{StepID: stepID}
	step, mod, ok := p.lookupStep(v, moduleID, stepID)
	if !ok {
		res.Reason = gating.ReasonNotFound
		p.logDenied(res)
		return res, nil
	}
	res.ModuleID, res.StepID = mod.ID, step.ID

	switch {
	case !rec.HasIdentity():
		res.Reason = navigation.ReasonIdentityRequired
	case step.Type.IsAssessment():
		res.Reason = ReasonAssessmentRequired
	default:
		if d := v.gate.Check(rec, mod.ID, step.ID); !d.Allowed {
			res.Reason, res.Missing = d.Reason, d.Missing
		}
	}
	if res.Reason != gating.ReasonNone {
		p.logDenied(res)
		return res, nil
	}

	return p.markComplete(ctx, v, rec, step, mod)
}

// markComplete records step as complete and logs what the call completed.
// before is the record as loaded ahead of the change.
func (p *Player) markComplete(ctx context.Context, v *view, before progress.Record, step course.Step, mod course.Module) (StepResult, error) {
	updated, modules, err := v.nav.MarkStepComplete(ctx, step.ID)
	if err != nil {
		return StepResult{}, fmt.Errorf("completing step %s: %w", step.ID, err)
	}

	res := StepResult{
		Accepted:         true,
		ModuleID:         mod.ID,
		StepID:           step.ID,
		CompletedModules: modules,
		CourseCompleted:  updated.CompletedAt != nil,
	}
	p.logCompletion(before, updated, step.ID, modules)
	return res, nil
}

// Submit scores answers for a quiz or the exam, stores the attempt under the
// retake policy and completes the step when it passes. A submission missing
// answers returns a quiz.IncompleteSubmissionError.
func (p *Player) Submit(ctx context.Context, stepID string, answers map[int]int) (SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, v, err := p.load(ctx)
	if err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{StepResult: StepResult{StepID: stepID}}
	step, mod, ok := p.lookupStep(v, "", stepID)
	if !ok {
		res.Reason = gating.ReasonNotFound
		p.logDenied(res.StepResult)
		return res, nil
	}
	res.ModuleID, res.StepID = mod.ID, step.ID

	switch {
	case !rec.HasIdentity():
		res.Reason = navigation.ReasonIdentityRequired
	case !step.Type.IsAssessment():
		res.Reason = ReasonNotAssessment
	default:
		if d := v.gate.Check(rec, mod.ID, step.ID); !d.Allowed {
			res.Reason, res.Missing = d.Reason, d.Missing
		}
	}
	if res.Reason != gating.ReasonNone {
		p.logDenied(res.StepResult)
		return res, nil
	}

	attempt, err := quiz.Score(step.Questions, answers, quiz.Threshold(step))
	if err != nil {
		return SubmitResult{}, err
	}

	var modules []string
	updated, err := p.store.Update(ctx, func(r *progress.Record) error {
		if _, err := quiz.Apply(r, step, attempt, p.policy); err != nil {
			return err
		}
		if attempt.Passed {
			modules = navigation.MarkComplete(r, v.course, step.ID)
		}
		v.done.Evaluate(r, p.now())
		return nil
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("saving attempt for %s: %w", step.ID, err)
	}

	res.Accepted = true
	res.Attempt = attempt
	res.Stored, _ = quiz.Result(updated, step)
	res.CompletedModules = modules
	res.CourseCompleted = updated.CompletedAt != nil

	p.emit(EventAssessmentSubmitted, map[string]any{
		"step_id": step.ID,
		"score":   attempt.Score,
		"total":   attempt.Total,
		"percent": attempt.Percent,
		"passed":  attempt.Passed,
	})
	p.logCompletion(rec, updated, step.ID, modules)
	return res, nil
}

// Reset clears the learner's progress and identity.
func (p *Player) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Reset(ctx); err != nil {
		return fmt.Errorf("resetting progress: %w", err)
	}
	p.view = nil
	p.emit(EventProgressReset, nil)
	slog.Info("progress reset", "course_id", p.course.ID, "learner_id", p.learnerID)
	return nil
}

// Certificate returns the learner's certificate once the course is complete.
// The certificate id is stored alongside the record.
func (p *Player) Certificate(ctx context.Context) (completion.Certificate, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, v, err := p.load(ctx)
	if err != nil {
		return completion.Certificate{}, false, err
	}
	cert, ok := v.done.Certificate(rec)
	if !ok {
		return completion.Certificate{}, false, nil
	}
	if err := p.store.SetCertificateID(ctx, cert.ID); err != nil {
		return completion.Certificate{}, false, fmt.Errorf("saving certificate id: %w", err)
	}
	return cert, true, nil
}

// Course returns the course as seen by the learner's current role.
func (p *Player) Course(ctx context.Context) (*course.Course, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, v, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	return v.course, nil
}

func (p *Player) status(ctx context.Context) (Status, error) {
	rec, v, err := p.load(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		CourseID:            p.course.ID,
		CourseTitle:         p.course.Title,
		CourseVersion:       rec.CourseVersion,
		LearnerID:           p.learnerID,
		Identity:            rec.LearnerIdentity,
		Cursor:              rec.Cursor,
		QuizResults:         rec.QuizResults,
		ExamResult:          rec.ExamResult,
		LockedInputs:        []string{},
		CanStartExam:        v.gate.CanStartExam(rec),
		CertificateEligible: v.done.CertificateEligible(rec),
		CompletedAt:         rec.CompletedAt,
	}

	for i, ms := range v.gate.ModuleStates(rec) {
		m := v.course.Modules[i]
		st.Modules = append(st.Modules, ModuleView{ModuleStatus: ms, Title: m.Title})
		if ms.State == gating.StateComplete {
			st.CompletedModules++
		}
		st.CompletedSteps += ms.StepsDone
		st.TotalSteps += ms.StepsTotal
		for _, s := range m.Steps {
			if s.Type.IsAssessment() && quiz.InputsLocked(rec, s) {
				st.LockedInputs = append(st.LockedInputs, s.ID)
			}
		}
	}
	st.TotalModules = len(v.course.Modules)
	if st.TotalSteps > 0 {
		st.Percent = quiz.Percent(st.CompletedSteps, st.TotalSteps)
	}
	return st, nil
}

// load reads the record, selects the view for the learner's role and
// persists any module or course completion the record implies.
func (p *Player) load(ctx context.Context) (progress.Record, *view, error) {
	rec, err := p.store.Load(ctx)
	if err != nil {
		return progress.Record{}, nil, fmt.Errorf("loading progress: %w", err)
	}
	v := p.viewFor(rec)

	probe := rec.Clone()
	changed := len(navigation.Reconcile(&probe, v.course)) > 0
	changed = v.done.Evaluate(&probe, p.now()) || changed
	if !changed {
		return rec, v, nil
	}

	rec, err = p.store.Update(ctx, func(r *progress.Record) error {
		navigation.Reconcile(r, v.course)
		v.done.Evaluate(r, p.now())
		return nil
	})
	if err != nil {
		return progress.Record{}, nil, fmt.Errorf("reconciling progress: %w", err)
	}
	return rec, v, nil
}

func (p *Player) viewFor(rec progress.Record) *view {
	role := ""
	if rec.LearnerIdentity != nil {
		role = rec.LearnerIdentity.Role
	}
	if p.view != nil && p.role == role {
		return p.view
	}

	c := p.course
	if role != "" && len(c.Roles) > 0 {
		c = c.ForRole(role)
	}
	r := sequence.New(c)
	g := gating.New(c, r)
	done := completion.New(c)
	p.view = &view{
		course:   c,
		resolver: r,
		gate:     g,
		done:     done,
		nav:      navigation.New(c, r, g, p.store, done, p.now),
	}
	p.role = role
	return p.view
}

// lookupStep resolves a step id in any known form within the view. When
// moduleID is set the step must belong to it.
func (p *Player) lookupStep(v *view, moduleID, stepID string) (course.Step, course.Module, bool) {
	id, ok := p.ids.StepID(stepID)
	if !ok {
		return course.Step{}, course.Module{}, false
	}
	step, mod, err := v.course.Step(id)
	if err != nil {
		return course.Step{}, course.Module{}, false
	}
	if moduleID != "" {
		if m, ok := p.ids.ModuleID(moduleID); !ok || m != mod.ID {
			return course.Step{}, course.Module{}, false
		}
	}
	return step, mod, true
}

func (p *Player) logNavigation(out navigation.Outcome) {
	data := map[string]any{
		"module_id": out.Location.ModuleID,
		"step_id":   out.Location.StepID,
	}
	if out.Accepted {
		p.emit(EventStepViewed, data)
		return
	}
	data["reason"] = string(out.Reason)
	p.emit(EventNavigationDenied, data)
}

func (p *Player) logDenied(res StepResult) {
	p.emit(EventNavigationDenied, map[string]any{
		"module_id": res.ModuleID,
		"step_id":   res.StepID,
		"reason":    string(res.Reason),
	})
}

func (p *Player) logCompletion(before, after progress.Record, stepID string, modules []string) {
	if !before.HasCompletedStep(stepID) && after.HasCompletedStep(stepID) {
		p.emit(EventStepCompleted, map[string]any{"step_id": stepID})
	}
	for _, m := range modules {
		p.emit(EventModuleCompleted, map[string]any{"module_id": m})
	}
	if before.CompletedAt == nil && after.CompletedAt != nil {
		p.emit(EventCourseCompleted, map[string]any{"completed_at": after.CompletedAt.Format(time.RFC3339)})
		slog.Info("course completed", "course_id", p.course.ID, "learner_id", p.learnerID)
	}
}

func (p *Player) emit(eventType string, data map[string]any) {
	err := p.events.LogEvent(Event{
		CourseID:  p.course.ID,
		LearnerID: p.learnerID,
		EventType: eventType,
		Data:      data,
		CreatedAt: p.now(),
	})
	if err != nil {
		slog.Warn("failed to log event", "type", eventType, "error", err)
	}
}
