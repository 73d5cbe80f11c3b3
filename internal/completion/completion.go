// Package completion derives course completion and certificate eligibility.
package completion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/quiz"
)

// Certificate is the data printed on a completion certificate.
type Certificate struct {
	ID          string    `json:"id"`
	LearnerName string    `json:"learnerName"`
	Role        string    `json:"role"`
	RoleLabel   string    `json:"roleLabel"`
	CourseTitle string    `json:"courseTitle"`
	CompletedAt time.Time `json:"completedAt"`
}

// Gate evaluates completion rules for one course.
type Gate struct {
	course *course.Course
}

// New creates a completion gate for c.
func New(c *course.Course) *Gate {
	return &Gate{course: c}
}

// IsCourseComplete reports whether every required step is complete and the
// exam is passed.
func IsCourseComplete(rec progress.Record, requiredStepIDs []string) bool {
	for _, id := range requiredStepIDs {
		if !rec.HasCompletedStep(id) {
			return false
		}
	}
	return rec.ExamResult != nil && rec.ExamResult.Passed
}

// IsCourseComplete applies the package-level rule with the course's required
// steps.
func (g *Gate) IsCourseComplete(rec progress.Record) bool {
	return IsCourseComplete(rec, g.course.RequiredStepIDs())
}

// CertificateEligible reports whether the course is complete and every
// declared certificate gate is satisfied. An assessed gate must be passed.
func (g *Gate) CertificateEligible(rec progress.Record) bool {
	if !g.IsCourseComplete(rec) {
		return false
	}
	for _, id := range g.course.CertificateGates {
		if !rec.HasCompletedStep(id) {
			return false
		}
		step, _, err := g.course.Step(id)
		if err != nil {
			return false
		}
		if step.Type.IsAssessment() {
			if r, ok := quiz.Result(rec, step); !ok || !r.Passed {
				return false
			}
		}
	}
	return true
}

// Evaluate stamps CompletedAt with now the first time the record becomes
// eligible. It reports whether it stamped. An existing stamp is never
// overwritten.
func (g *Gate) Evaluate(rec *progress.Record, now time.Time) bool {
	if rec.CompletedAt != nil || !g.CertificateEligible(*rec) {
		return false
	}
	t := now.UTC()
	rec.CompletedAt = &t
	return true
}

// Certificate returns the certificate for an eligible, stamped record.
func (g *Gate) Certificate(rec progress.Record) (Certificate, bool) {
	if rec.CompletedAt == nil || !rec.HasIdentity() || !g.CertificateEligible(rec) {
		return Certificate{}, false
	}
	id := rec.LearnerIdentity
	return Certificate{
		ID:          CertificateID(id.Name, id.Role, *rec.CompletedAt),
		LearnerName: id.Name,
		Role:        id.Role,
		RoleLabel:   g.course.RoleLabel(id.Role),
		CourseTitle: g.course.Title,
		CompletedAt: *rec.CompletedAt,
	}, true
}

// CertificateID returns the first 16 hex characters of the SHA-256 of
// "name-role-YYYY-MM-DD".
func CertificateID(name, role string, completedAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", name, role, completedAt.UTC().Format(time.DateOnly))))
	return hex.EncodeToString(sum[:])[:16]
}
