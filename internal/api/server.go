package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"schoolroster/internal/model"
)

// Applier is the update engine surface the HTTP layer calls into.
type Applier interface {
	Apply(ctx context.Context, schoolID string, patch model.PatchSet) (model.ApplyResult, error)
}

// SchoolReader serves the companion read endpoint.
type SchoolReader interface {
	GetSchool(ctx context.Context, schoolID string) (model.School, error)
}

// Server glues the engine to HTTP: routing, parsing and status mapping
// only. All batch semantics live behind Applier.
type Server struct {
	applier      Applier
	reader       SchoolReader
	applyTimeout time.Duration
	logger       zerolog.Logger
}

// NewServer wires the handlers into a router and exposes a health check.
func NewServer(applier Applier, reader SchoolReader, applyTimeout time.Duration, logger zerolog.Logger) http.Handler {
	s := &Server{
		applier:      applier,
		reader:       reader,
		applyTimeout: applyTimeout,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/schools/{schoolId}/students", s.getStudents)
	r.Patch("/schools/{schoolId}/students", s.patchStudents)

	return r
}
