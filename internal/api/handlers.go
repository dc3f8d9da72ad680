package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"schoolroster/internal/model"
	"schoolroster/internal/roster"
	"schoolroster/internal/storage"
)

type errorBody struct {
	Message string `json:"message"`
}

type studentsBody struct {
	SchoolID string          `json:"schoolId"`
	Version  uint64          `json:"version"`
	Students []model.Student `json:"students"`
}

// getStudents returns the current roster and version for one school.
func (s *Server) getStudents(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := s.bindSchoolID(w, r)
	if !ok {
		return
	}

	school, err := s.reader.GetSchool(r.Context(), schoolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "school not found")
			return
		}
		s.logger.Error().Err(err).Str("school_id", schoolID).Msg("read school failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, studentsBody{
		SchoolID: school.ID,
		Version:  school.Version,
		Students: school.Students,
	})
}

// patchStudents applies a batch of per-student updates as one atomic unit.
// The body is an ordered JSON array of {key, attrs} entries.
func (s *Server) patchStudents(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := s.bindSchoolID(w, r)
	if !ok {
		return
	}

	var patch model.PatchSet
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of {key, attrs} entries")
		return
	}

	ctx := r.Context()
	if s.applyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.applyTimeout)
		defer cancel()
	}

	result, err := s.applier.Apply(ctx, schoolID, patch)
	if err != nil {
		status, msg := mapApplyError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("school_id", schoolID).Msg("apply failed")
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) bindSchoolID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var schoolID string
	err := runtime.BindStyledParameterWithOptions("simple", "schoolId", chi.URLParam(r, "schoolId"), &schoolID, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Required:      true,
	})
	if err != nil || schoolID == "" {
		writeError(w, http.StatusBadRequest, "invalid schoolId path parameter")
		return "", false
	}
	return schoolID, true
}

// mapApplyError translates the engine's terminal error kinds onto HTTP
// statuses. The engine never leaks raw retryable conditions, so anything
// unrecognized is a server bug.
func mapApplyError(err error) (int, string) {
	switch {
	case errors.Is(err, roster.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, roster.ErrNotFound):
		return http.StatusNotFound, "school not found"
	case errors.Is(err, roster.ErrConflict):
		return http.StatusConflict, "concurrent updates exhausted retries; resubmit the batch"
	case errors.Is(err, roster.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable"
	case errors.Is(err, roster.ErrTimeout):
		return http.StatusGatewayTimeout, "apply deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}
