// Package server exposes the course player over HTTP.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-player/internal/bridge"
	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/player"
	"github.com/p-n-ai/pai-player/internal/quiz"
	"github.com/p-n-ai/pai-player/internal/report"
)

const maxBodyBytes = 64 << 10

// Config holds HTTP surface settings.
type Config struct {
	// AllowedOrigins may post step completion messages.
	AllowedOrigins []string
}

// Server routes HTTP requests to players.
type Server struct {
	svc    *player.Service
	bridge bridge.Config
}

// New creates a Server over svc.
func New(svc *player.Service, cfg Config) *Server {
	return &Server{
		svc:    svc,
		bridge: bridge.Config{AllowedOrigins: cfg.AllowedOrigins},
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("GET /api/courses", s.handleCourses)
	mux.HandleFunc("GET /api/courses/{course}", s.handleCourse)

	const learner = "/api/courses/{course}/learners/{learner}"
	mux.HandleFunc("GET "+learner+"/progress", s.withPlayer(s.handleProgress))
	mux.HandleFunc("POST "+learner+"/identity", s.withPlayer(s.handleIdentity))
	mux.HandleFunc("POST "+learner+"/navigate", s.withPlayer(s.handleNavigate))
	mux.HandleFunc("POST "+learner+"/next", s.withPlayer(s.handleNext))
	mux.HandleFunc("POST "+learner+"/back", s.withPlayer(s.handleBack))
	mux.HandleFunc("POST "+learner+"/steps/{step}/complete", s.withPlayer(s.handleComplete))
	mux.HandleFunc("POST "+learner+"/steps/{step}/attempts", s.withPlayer(s.handleAttempt))
	mux.HandleFunc("POST "+learner+"/reset", s.withPlayer(s.handleReset))
	mux.HandleFunc("GET "+learner+"/certificate", s.withPlayer(s.handleCertificate))
	mux.HandleFunc("GET "+learner+"/report.xlsx", s.withPlayer(s.handleReport))
	mux.HandleFunc("POST "+learner+"/messages", s.withPlayer(s.handleMessages))
	mux.HandleFunc("GET "+learner+"/bridge", s.withPlayer(s.handleBridge))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.svc.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	courses := s.svc.Courses()
	out := make([]courseSummary, 0, len(courses))
	for _, c := range courses {
		out = append(out, summarize(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCourse(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Course(r.PathValue("course"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outline(c))
}

type playerHandler func(w http.ResponseWriter, r *http.Request, p *player.Player)

func (s *Server) withPlayer(h playerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.svc.Player(r.PathValue("course"), r.PathValue("learner"))
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, p)
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, p *player.Player) {
	st, err := p.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type identityRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request, p *player.Player) {
	var req identityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := p.Identify(r.Context(), req.Name, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type navigateRequest struct {
	ModuleID string `json:"moduleId"`
	StepID   string `json:"stepId"`
}

// handleNavigate moves to the requested step, or resumes when no step is
// given.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, p *player.Player) {
	var req navigateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.StepID == "" {
		out, err := p.Resume(r.Context())
		writeResult(w, out, err)
		return
	}
	out, err := p.GoTo(r.Context(), req.ModuleID, req.StepID)
	writeResult(w, out, err)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, p *player.Player) {
	out, err := p.Next(r.Context())
	writeResult(w, out, err)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request, p *player.Player) {
	out, err := p.Back(r.Context())
	writeResult(w, out, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, p *player.Player) {
	res, err := p.CompleteStep(r.Context(), r.PathValue("step"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type attemptRequest struct {
	// Answers maps question index to the chosen option index.
	Answers map[int]int `json:"answers"`
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request, p *player.Player) {
	var req attemptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := p.Submit(r.Context(), r.PathValue("step"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, p *player.Player) {
	if err := p.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

type certificateResponse struct {
	Eligible    bool             `json:"eligible"`
	Certificate *certificateView `json:"certificate,omitempty"`
}

type certificateView struct {
	ID          string `json:"id"`
	LearnerName string `json:"learnerName"`
	Role        string `json:"role"`
	RoleLabel   string `json:"roleLabel"`
	CourseTitle string `json:"courseTitle"`
	CompletedOn string `json:"completedOn"`
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request, p *player.Player) {
	cert, ok, err := p.Certificate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, certificateResponse{})
		return
	}
	writeJSON(w, http.StatusOK, certificateResponse{
		Eligible: true,
		Certificate: &certificateView{
			ID:          cert.ID,
			LearnerName: cert.LearnerName,
			Role:        cert.Role,
			RoleLabel:   cert.RoleLabel,
			CourseTitle: cert.CourseTitle,
			CompletedOn: cert.CompletedAt.Format(time.DateOnly),
		},
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, p *player.Player) {
	st, err := p.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := p.Course(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, c, st); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.xlsx"`, st.CourseID, st.LearnerID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, p *player.Player) {
	bridge.ServeHTTP(w, r, p, s.bridge)
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request, p *player.Player) {
	bridge.ServeWebSocket(w, r, p, s.bridge)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

type errorResponse struct {
	Error   string `json:"error"`
	Missing []int  `json:"missing,omitempty"`
}

// writeError maps err to a status code. Storage and other unexpected
// failures are logged and reported as 500.
func writeError(w http.ResponseWriter, err error) {
	var incomplete *quiz.IncompleteSubmissionError
	switch {
	case errors.Is(err, course.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Missing: incomplete.Missing})
	case errors.Is(err, player.ErrInvalidLearner),
		errors.Is(err, player.ErrInvalidName),
		errors.Is(err, player.ErrUnknownRole):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}
