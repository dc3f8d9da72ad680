package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"schoolroster/internal/model"
)

// ErrAlreadyExists is returned when creating a school under a taken id.
var ErrAlreadyExists = fmt.Errorf("storage: school already exists")

// MemStore keeps school records in memory and implements the Store
// contract. The mutex exists only to make the version check and the roster
// swap one indivisible step (the store-side CAS primitive); the update
// engine itself takes no locks. When a changelog is attached, every commit
// is appended to it inside the critical section, and a failed append leaves
// memory untouched.
type MemStore struct {
	mu        sync.RWMutex
	schools   map[string]*model.School
	changelog *Changelog
}

// NewMemStore returns an empty store. changelog may be nil for ephemeral
// (test) stores.
func NewMemStore(changelog *Changelog) *MemStore {
	return &MemStore{
		schools:   make(map[string]*model.School),
		changelog: changelog,
	}
}

// Replay rebuilds store state from changelog records, in sequence order.
// Used once at startup, before the store is shared; it never re-appends.
func (s *MemStore) Replay(records []model.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		switch rec.Op {
		case model.OpCreateSchool:
			var school model.School
			if err := json.Unmarshal(rec.Payload, &school); err != nil {
				return fmt.Errorf("replay create (seq %d): %w", rec.Sequence, err)
			}
			s.schools[school.ID] = &school
		case model.OpWriteStudents:
			school, ok := s.schools[rec.SchoolID]
			if !ok {
				return fmt.Errorf("replay write (seq %d): unknown school %q", rec.Sequence, rec.SchoolID)
			}
			var students []model.Student
			if err := json.Unmarshal(rec.Payload, &students); err != nil {
				return fmt.Errorf("replay write (seq %d): %w", rec.Sequence, err)
			}
			school.Students = students
			school.Version = rec.Version
		default:
			return fmt.Errorf("replay: unknown op %d (seq %d)", rec.Op, rec.Sequence)
		}
	}
	return nil
}

// CreateSchool inserts a new school record. Seed/bootstrap path only; the
// update engine never creates schools.
func (s *MemStore) CreateSchool(school model.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schools[school.ID]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, school.ID)
	}

	if s.changelog != nil {
		payload, err := json.Marshal(school)
		if err != nil {
			return fmt.Errorf("encode school: %w", err)
		}
		if err := s.changelog.Append(model.ChangeRecord{
			Op:       model.OpCreateSchool,
			SchoolID: school.ID,
			Version:  school.Version,
			Payload:  payload,
		}); err != nil {
			return fmt.Errorf("%w: changelog append: %v", ErrUnavailable, err)
		}
	}

	stored := school
	stored.Students = copyStudents(school.Students)
	s.schools[school.ID] = &stored
	return nil
}

// GetSchool returns a deep copy of the full record, for the read endpoint.
func (s *MemStore) GetSchool(_ context.Context, schoolID string) (model.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	school, ok := s.schools[schoolID]
	if !ok {
		return model.School{}, fmt.Errorf("%w: %q", ErrNotFound, schoolID)
	}
	out := *school
	out.Students = copyStudents(school.Students)
	return out, nil
}

func (s *MemStore) ReadStudents(_ context.Context, schoolID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	school, ok := s.schools[schoolID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrNotFound, schoolID)
	}
	return Snapshot{
		Students: copyStudents(school.Students),
		Version:  school.Version,
	}, nil
}

func (s *MemStore) ConditionalWriteStudents(_ context.Context, schoolID string, students []model.Student, expectedVersion uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	school, ok := s.schools[schoolID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, schoolID)
	}
	if school.Version != expectedVersion {
		return 0, fmt.Errorf("%w: have %d, expected %d", ErrVersionMismatch, school.Version, expectedVersion)
	}

	newVersion := expectedVersion + 1
	stored := copyStudents(students)

	if s.changelog != nil {
		payload, err := json.Marshal(stored)
		if err != nil {
			return 0, fmt.Errorf("encode students: %w", err)
		}
		if err := s.changelog.Append(model.ChangeRecord{
			Op:       model.OpWriteStudents,
			SchoolID: schoolID,
			Version:  newVersion,
			Payload:  payload,
		}); err != nil {
			return 0, fmt.Errorf("%w: changelog append: %v", ErrUnavailable, err)
		}
	}

	school.Students = stored
	school.Version = newVersion
	return newVersion, nil
}

// copyStudents decouples stored state from caller-held slices and maps.
func copyStudents(in []model.Student) []model.Student {
	if in == nil {
		return nil
	}
	out := make([]model.Student, len(in))
	for i, st := range in {
		out[i] = model.Student{Key: st.Key, Attrs: maps.Clone(st.Attrs)}
	}
	return out
}
