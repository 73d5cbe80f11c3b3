package course

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Loader loads and caches course descriptors from the filesystem.
type Loader struct {
	rootDir string
	courses map[string]*Course
	mu      sync.RWMutex
}

// NewLoader creates a new course loader and loads all descriptors under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]*Course),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading courses: %w", err)
	}

	slog.Info("courses loaded", "courses", len(l.courses), "root", rootDir)
	return l, nil
}

// Get returns a course by ID.
func (l *Loader) Get(id string) (*Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[id]
	return c, ok
}

// All returns all loaded courses sorted by ID.
func (l *Loader) All() []*Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]*Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses
}

// Add registers an already built course, replacing any with the same ID.
func (l *Loader) Add(c *Course) {
	l.mu.Lock()
	l.courses[c.ID] = c
	l.mu.Unlock()
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			return l.loadCourse(path)
		}
		return nil
	})
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c, err := Parse(data)
	if err != nil {
		slog.Warn("skipping invalid course descriptor", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	if _, dup := l.courses[c.ID]; dup {
		slog.Warn("duplicate course id, later descriptor wins", "course_id", c.ID, "path", path)
	}
	l.courses[c.ID] = c
	l.mu.Unlock()

	return nil
}

// Parse decodes, schema-checks and validates one YAML or JSON descriptor.
func Parse(data []byte) (*Course, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding descriptor: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("descriptor is empty")
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var c Course
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding course: %w", err)
	}
	return New(c)
}

func validateSchema(doc any) error {
	result, err := descriptorSchema().Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating descriptor: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("descriptor does not match schema: %s", strings.Join(msgs, "; "))
}
