package main

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"schoolroster/internal/model"
	"schoolroster/internal/storage"
)

// seedSchoolID is fixed so clients of a fresh instance have a known target.
const seedSchoolID = "central-high"

// seed creates a demo school on first boot. A replayed changelog already
// contains it, in which case this is a no-op.
func seed(store *storage.MemStore, logger zerolog.Logger) error {
	students := make([]model.Student, 0, 5)
	for i := 0; i < 5; i++ {
		students = append(students, model.Student{
			Key: fmt.Sprintf("s%d", i),
			Attrs: map[string]any{
				"name":      fmt.Sprintf("Student %d", i),
				"grade":     9 + i%4,
				"studentNo": ulid.Make().String(),
			},
		})
	}

	err := store.CreateSchool(model.School{
		ID:       seedSchoolID,
		Name:     "Central High",
		Address:  "1 Main St",
		Version:  1,
		Students: students,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info().Str("school_id", seedSchoolID).Int("students", len(students)).Msg("seeded demo school")
	return nil
}
