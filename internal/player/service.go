package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/quiz"
)

const (
	defaultKeyPrefix   = "pai_player"
	maxLearnerIDBytes  = 128
	learnerPlaceholder = "{learner}"
)

var ErrInvalidLearner = errors.New("invalid learner id")

// CourseSource supplies course descriptors. *course.Loader implements it.
type CourseSource interface {
	Get(id string) (*course.Course, bool)
	All() []*course.Course
}

// ServiceConfig holds the dependencies shared by every Player.
type ServiceConfig struct {
	Courses   CourseSource
	Backend   progress.Backend
	KeyPrefix string // default "pai_player"
	Events    EventLogger
	Policy    quiz.Policy
	Now       func() time.Time
}

// Service hands out one Player per course and learner.
type Service struct {
	cfg     ServiceConfig
	mu      sync.Mutex
	players map[string]*Player
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Events == nil {
		cfg.Events = NopEventLogger{}
	}
	if cfg.Backend == nil {
		cfg.Backend = progress.NewMemoryBackend()
	}
	return &Service{
		cfg:     cfg,
		players: make(map[string]*Player),
	}
}

// Courses returns every loaded course sorted by id.
func (s *Service) Courses() []*course.Course {
	return s.cfg.Courses.All()
}

// Course returns a course by id.
func (s *Service) Course(id string) (*course.Course, error) {
	c, ok := s.cfg.Courses.Get(id)
	if !ok {
		return nil, &course.NotFoundError{Kind: "course", ID: id}
	}
	return c, nil
}

// Player returns the player for a learner in a course, creating it on first
// use.
func (s *Service) Player(courseID, learnerID string) (*Player, error) {
	if err := ValidateLearnerID(learnerID); err != nil {
		return nil, err
	}
	c, err := s.Course(courseID)
	if err != nil {
		return nil, err
	}

	key := progress.Key(s.cfg.KeyPrefix, c.ID, learnerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A reloaded descriptor gets a fresh player.
	if p, ok := s.players[key]; ok && p.course == c {
		return p, nil
	}

	store := progress.NewStore(s.cfg.Backend, progress.StoreConfig{
		Key:           key,
		CourseVersion: c.Version,
		IDs:           course.NewNormalizer(c),
		LegacyKeys:    legacyKeys(c, learnerID),
	})
	p := NewPlayer(Config{
		Course:    c,
		LearnerID: learnerID,
		Store:     store,
		Events:    s.cfg.Events,
		Policy:    s.cfg.Policy,
		Now:       s.cfg.Now,
	})
	s.players[key] = p
	return p, nil
}

// Ping checks the storage backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.cfg.Backend.Ping(ctx)
}

// ValidateLearnerID checks that id can be used inside a storage key.
func ValidateLearnerID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidLearner)
	case len(id) > maxLearnerIDBytes:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidLearner, maxLearnerIDBytes)
	case strings.ContainsAny(id, ": \t\r\n"):
		return fmt.Errorf("%w: %q", ErrInvalidLearner, id)
	}
	return nil
}

// legacyKeys expands the course's legacy storage keys for one learner.
// "{learner}" is replaced by the learner id.
func legacyKeys(c *course.Course, learnerID string) []string {
	keys := make([]string, 0, len(c.LegacyStorageKeys))
	for _, k := range c.LegacyStorageKeys {
		keys = append(keys, strings.ReplaceAll(k, learnerPlaceholder, learnerID))
	}
	return keys
}
