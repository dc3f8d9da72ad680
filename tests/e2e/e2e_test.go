package e2e

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

// seededSchoolID matches the demo school the server creates on first boot.
const seededSchoolID = "central-high"

func TestPatchAndReadLifecycle(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	client := NewClient(sut.BaseURL, nil)
	ctx := testContext(t)

	before, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get before patch: %v", err)
	}
	if len(before.Students) == 0 {
		t.Fatal("seeded school has no students")
	}

	target := before.Students[0].Key
	outcome, err := client.PatchStudents(ctx, seededSchoolID, []PatchEntry{
		{Key: target, Attrs: map[string]any{"name": "Renamed"}},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if outcome.Applied != 1 || len(outcome.SkippedKeys) != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Version != before.Version+1 {
		t.Fatalf("version: got %d want %d", outcome.Version, before.Version+1)
	}

	after, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get after patch: %v", err)
	}
	if after.Students[0].Key != target {
		t.Fatalf("roster order changed: got key %q at position 0", after.Students[0].Key)
	}
	if after.Students[0].Attrs["name"] != "Renamed" {
		t.Fatalf("attrs not replaced: %v", after.Students[0].Attrs)
	}
	if len(after.Students) != len(before.Students) {
		t.Fatalf("roster length changed: got %d want %d", len(after.Students), len(before.Students))
	}
}

func TestUnmatchedKeysAreReportedNotCreated(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	client := NewClient(sut.BaseURL, nil)
	ctx := testContext(t)

	before, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get before patch: %v", err)
	}

	outcome, err := client.PatchStudents(ctx, seededSchoolID, []PatchEntry{
		{Key: before.Students[0].Key, Attrs: map[string]any{"name": "Touched"}},
		{Key: "no-such-student", Attrs: map[string]any{"name": "Ghost"}},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if outcome.Applied != 1 {
		t.Fatalf("applied: got %d want 1", outcome.Applied)
	}
	if len(outcome.SkippedKeys) != 1 || outcome.SkippedKeys[0] != "no-such-student" {
		t.Fatalf("skipped keys: got %v", outcome.SkippedKeys)
	}

	after, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get after patch: %v", err)
	}
	if len(after.Students) != len(before.Students) {
		t.Fatalf("unmatched key must not create a student: %d -> %d students", len(before.Students), len(after.Students))
	}
}

func TestRepeatApplyIsDistinctMutation(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	client := NewClient(sut.BaseURL, nil)
	ctx := testContext(t)

	before, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	patch := []PatchEntry{{Key: before.Students[0].Key, Attrs: map[string]any{"name": "Same"}}}

	first, err := client.PatchStudents(ctx, seededSchoolID, patch)
	if err != nil {
		t.Fatalf("first patch: %v", err)
	}
	second, err := client.PatchStudents(ctx, seededSchoolID, patch)
	if err != nil {
		t.Fatalf("second patch: %v", err)
	}

	if second.Version != first.Version+1 {
		t.Fatalf("each apply bumps version: got %d then %d", first.Version, second.Version)
	}

	after, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get after: %v", err)
	}
	if after.Students[0].Attrs["name"] != "Same" {
		t.Fatalf("roster state: %v", after.Students[0].Attrs)
	}
}

func TestConcurrentDisjointPatchesBothLand(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	client := NewClient(sut.BaseURL, nil)
	ctx := testContext(t)

	before, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(before.Students) < 2 {
		t.Fatalf("need at least 2 seeded students, got %d", len(before.Students))
	}

	keys := []string{before.Students[0].Key, before.Students[1].Key}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			_, errs[i] = client.PatchStudents(ctx, seededSchoolID, []PatchEntry{
				{Key: key, Attrs: map[string]any{"name": fmt.Sprintf("Concurrent-%s", key)}},
			})
		}(i, key)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent patch %d: %v", i, err)
		}
	}

	after, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get after: %v", err)
	}
	if after.Version != before.Version+2 {
		t.Fatalf("version: got %d want %d", after.Version, before.Version+2)
	}
	for i, key := range keys {
		if after.Students[i].Attrs["name"] != fmt.Sprintf("Concurrent-%s", key) {
			t.Fatalf("update to %q lost: %v", key, after.Students[i].Attrs)
		}
	}
}

func TestPatchUnknownSchool(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	client := NewClient(sut.BaseURL, nil)
	ctx := testContext(t)

	_, err := client.PatchStudents(ctx, "no-such-school", []PatchEntry{
		{Key: "s0", Attrs: map[string]any{"name": "x"}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBadRequestOnMalformedBody(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	ctx := testContext(t)

	// The body must be a JSON array; send an object instead.
	endpoint := sut.BaseURL + "/schools/" + seededSchoolID + "/students"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewBufferString(`{"key":"s0"}`))
	if err != nil {
		t.Fatalf("build malformed request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do malformed request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestCrashRecovery(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	if sut.restart == nil {
		t.Skip("restart testing requires a controllable server process")
	}

	client := NewClient(sut.BaseURL, nil)
	ctx := testContext(t)

	before, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get before crash: %v", err)
	}
	target := before.Students[0].Key

	outcome, err := client.PatchStudents(ctx, seededSchoolID, []PatchEntry{
		{Key: target, Attrs: map[string]any{"name": "persist-me"}},
	})
	if err != nil {
		t.Fatalf("patch before crash: %v", err)
	}

	// The changelog flushes on a periodic ticker; give it one interval
	// before killing the process.
	time.Sleep(1500 * time.Millisecond)

	sut.restart(t)

	after, err := client.GetStudents(ctx, seededSchoolID)
	if err != nil {
		t.Fatalf("get after restart: %v", err)
	}
	if after.Version != outcome.Version {
		t.Fatalf("crash recovery lost version: got %d want %d", after.Version, outcome.Version)
	}
	if after.Students[0].Attrs["name"] != "persist-me" {
		t.Fatalf("crash recovery lost data: %v", after.Students[0].Attrs)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
