package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Side keys mirror single fields of the record so older pages that read them
// directly keep working.
const (
	sideName        = "name"
	sideRole        = "role"
	sideExam        = "exam"
	sideCertificate = "certificate"
)

// StoreConfig scopes a Store to one learner in one course.
type StoreConfig struct {
	// Key is the learner namespace, e.g. "pai_player:csir-cert:alice". The
	// record lives at Key+":progress" and each side key at Key+":"+name.
	Key           string
	CourseVersion string
	IDs           IDResolver
	// LegacyKeys are full keys of records written by older builds. The first
	// one found is moved to the record key when that key is empty.
	LegacyKeys []string
}

// Store reads and writes the progress record of one learner.
type Store struct {
	backend Backend
	cfg     StoreConfig
}

// Key returns the learner namespace for a course.
func Key(prefix, courseID, learnerID string) string {
	return strings.Join([]string{prefix, courseID, learnerID}, ":")
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, cfg StoreConfig) *Store {
	return &Store{backend: backend, cfg: cfg}
}

// RecordKey returns the key holding the progress record.
func (s *Store) RecordKey() string {
	return s.sideKey("progress")
}

func (s *Store) sideKey(name string) string {
	return s.cfg.Key + ":" + name
}

// Load returns the stored record. A missing record yields the default; a
// corrupt record or one written for another course version is replaced by a
// fresh default.
func (s *Store) Load(ctx context.Context) (Record, error) {
	if err := s.migrateLegacy(ctx); err != nil {
		return Record{}, err
	}

	data, err := s.backend.Get(ctx, s.RecordKey())
	if errors.Is(err, ErrKeyNotFound) {
		rec := NewRecord(s.cfg.CourseVersion)
		return rec, s.backfill(ctx, &rec)
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading progress: %w", err)
	}

	rec, err := Decode(data, s.cfg.IDs)
	if err != nil {
		slog.Warn("resetting corrupt progress record", "key", s.RecordKey(), "error", err)
		return s.fresh(ctx)
	}
	if rec.CourseVersion == "" {
		rec.CourseVersion = s.cfg.CourseVersion
	}
	if rec.CourseVersion != s.cfg.CourseVersion {
		slog.Info("course version changed, discarding progress",
			"key", s.RecordKey(),
			"stored_version", rec.CourseVersion,
			"course_version", s.cfg.CourseVersion,
		)
		return s.fresh(ctx)
	}

	return rec, s.backfill(ctx, &rec)
}

// fresh replaces the stored record with a default one. The exam and
// certificate side keys belong to the discarded record; identity survives.
func (s *Store) fresh(ctx context.Context) (Record, error) {
	for _, name := range []string{sideExam, sideCertificate} {
		if err := s.backend.Delete(ctx, s.sideKey(name)); err != nil {
			return Record{}, fmt.Errorf("clearing %s: %w", name, err)
		}
	}
	rec := NewRecord(s.cfg.CourseVersion)
	if err := s.backfillIdentity(ctx, &rec); err != nil {
		return Record{}, err
	}
	if err := s.write(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Save writes rec and mirrors its identity and exam result into side keys.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.CourseVersion == "" {
		rec.CourseVersion = s.cfg.CourseVersion
	}
	if err := s.write(ctx, rec); err != nil {
		return err
	}

	if rec.LearnerIdentity != nil {
		if err := s.setSide(ctx, sideName, []byte(rec.LearnerIdentity.Name)); err != nil {
			return err
		}
		if err := s.setSide(ctx, sideRole, []byte(rec.LearnerIdentity.Role)); err != nil {
			return err
		}
	}
	if rec.ExamResult != nil {
		exam, err := json.Marshal(rec.ExamResult)
		if err != nil {
			return fmt.Errorf("encoding exam result: %w", err)
		}
		if err := s.setSide(ctx, sideExam, exam); err != nil {
			return err
		}
	}
	return nil
}

// Update loads the record, applies fn to a copy and saves the result. An error
// from fn aborts the update without writing.
func (s *Store) Update(ctx context.Context, fn func(*Record) error) (Record, error) {
	rec, err := s.Load(ctx)
	if err != nil {
		return Record{}, err
	}

	next := rec.Clone()
	if err := fn(&next); err != nil {
		return Record{}, err
	}
	if err := s.Save(ctx, next); err != nil {
		return Record{}, err
	}
	return next, nil
}

// Reset deletes the record and every side key.
func (s *Store) Reset(ctx context.Context) error {
	keys := []string{
		s.RecordKey(),
		s.sideKey(sideName),
		s.sideKey(sideRole),
		s.sideKey(sideExam),
		s.sideKey(sideCertificate),
	}
	for _, key := range keys {
		if err := s.backend.Delete(ctx, key); err != nil {
			return fmt.Errorf("resetting progress: %w", err)
		}
	}
	return nil
}

// SetCertificateID stores the issued certificate id.
func (s *Store) SetCertificateID(ctx context.Context, id string) error {
	return s.setSide(ctx, sideCertificate, []byte(id))
}

// CertificateID returns the stored certificate id, or "" when none was issued.
func (s *Store) CertificateID(ctx context.Context) (string, error) {
	v, err := s.getSide(ctx, sideCertificate)
	return string(v), err
}

func (s *Store) write(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, s.RecordKey(), data); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	return nil
}

// backfill fills identity and exam result from side keys when the record
// lacks them.
func (s *Store) backfill(ctx context.Context, rec *Record) error {
	if err := s.backfillIdentity(ctx, rec); err != nil {
		return err
	}

	if rec.ExamResult == nil {
		exam, err := s.getSide(ctx, sideExam)
		if err != nil {
			return err
		}
		if len(exam) > 0 {
			var res AttemptResult
			if err := json.Unmarshal(exam, &res); err != nil {
				slog.Warn("ignoring unreadable exam side key", "key", s.sideKey(sideExam), "error", err)
			} else {
				rec.ExamResult = &res
			}
		}
	}
	return nil
}

func (s *Store) backfillIdentity(ctx context.Context, rec *Record) error {
	if !rec.HasIdentity() {
		name, err := s.getSide(ctx, sideName)
		if err != nil {
			return err
		}
		role, err := s.getSide(ctx, sideRole)
		if err != nil {
			return err
		}
		id := Identity{}
		if rec.LearnerIdentity != nil {
			id = *rec.LearnerIdentity
		}
		if id.Name == "" {
			id.Name = string(name)
		}
		if id.Role == "" {
			id.Role = string(role)
		}
		if id.Name != "" || id.Role != "" {
			rec.LearnerIdentity = &id
		}
	}
	return nil
}

func (s *Store) migrateLegacy(ctx context.Context) error {
	if len(s.cfg.LegacyKeys) == 0 {
		return nil
	}
	_, err := s.backend.Get(ctx, s.RecordKey())
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("reading progress: %w", err)
	}

	for _, legacy := range s.cfg.LegacyKeys {
		data, err := s.backend.Get(ctx, legacy)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading legacy progress: %w", err)
		}
		if err := s.backend.Set(ctx, s.RecordKey(), data); err != nil {
			return fmt.Errorf("migrating legacy progress: %w", err)
		}
		if err := s.backend.Delete(ctx, legacy); err != nil {
			return fmt.Errorf("removing legacy progress: %w", err)
		}
		slog.Info("migrated legacy progress key", "from", legacy, "to", s.RecordKey())
		return nil
	}
	return nil
}

func (s *Store) getSide(ctx context.Context, name string) ([]byte, error) {
	v, err := s.backend.Get(ctx, s.sideKey(name))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return v, nil
}

func (s *Store) setSide(ctx context.Context, name string, value []byte) error {
	if err := s.backend.Set(ctx, s.sideKey(name), value); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
