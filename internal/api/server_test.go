package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/rs/zerolog"

	"schoolroster/internal/model"
	"schoolroster/internal/roster"
	"schoolroster/internal/storage"
)

func newTestHandler(t *testing.T) (http.Handler, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore(nil)
	err := store.CreateSchool(model.School{
		ID:      "1",
		Name:    "Central High",
		Version: 5,
		Students: []model.Student{
			{Key: "s0", Attrs: map[string]any{"name": "A"}},
			{Key: "s1", Attrs: map[string]any{"name": "B"}},
		},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	coordinator := roster.NewCoordinator(store, roster.Config{}, zerolog.Nop())
	return NewServer(coordinator, store, time.Second, zerolog.Nop()), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
}

func TestPatchStudentsAppliesBatch(t *testing.T) {
	handler, store := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPatch, "/schools/1/students", model.PatchSet{
		{Key: "s0", Attrs: map[string]any{"name": "A2"}},
		{Key: "sX", Attrs: map[string]any{"name": "Z"}},
	})

	assert.Equal(t, rec.Code, http.StatusOK)

	var result model.ApplyResult
	err := json.Unmarshal(rec.Body.Bytes(), &result)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Applied, 1)
	assert.Equal(t, result.SkippedKeys, []string{"sX"})
	assert.Equal(t, result.NewVersion, uint64(6))

	snap, err := store.ReadStudents(context.Background(), "1")
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Students[0].Attrs["name"], "A2")
	assert.Equal(t, snap.Students[1].Attrs["name"], "B")
}

func TestPatchStudentsUnknownSchool(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPatch, "/schools/nope/students", model.PatchSet{
		{Key: "s0", Attrs: map[string]any{"name": "A2"}},
	})

	assert.Equal(t, rec.Code, http.StatusNotFound)
}

func TestPatchStudentsRejectsMalformedBody(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPatch, "/schools/1/students", bytes.NewBufferString(`{"not":"an array"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestPatchStudentsRejectsEmptyKey(t *testing.T) {
	handler, store := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPatch, "/schools/1/students", model.PatchSet{
		{Key: "", Attrs: map[string]any{"name": "ghost"}},
	})

	assert.Equal(t, rec.Code, http.StatusBadRequest)

	// Failed applies never change the version.
	snap, err := store.ReadStudents(context.Background(), "1")
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Version, uint64(5))
}

func TestGetStudentsReturnsRosterAndVersion(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/schools/1/students", nil)
	assert.Equal(t, rec.Code, http.StatusOK)

	var body studentsBody
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	assert.Equal(t, err, nil)
	assert.Equal(t, body.SchoolID, "1")
	assert.Equal(t, body.Version, uint64(5))
	assert.Equal(t, len(body.Students), 2)
	assert.Equal(t, body.Students[0].Key, "s0")
}

func TestGetStudentsUnknownSchool(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/schools/nope/students", nil)
	assert.Equal(t, rec.Code, http.StatusNotFound)
}
