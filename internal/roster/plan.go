package roster

import (
	"maps"

	"schoolroster/internal/model"
)

// PlanResult is the computed replacement roster plus what the patch set
// actually touched.
type PlanResult struct {
	Students    []model.Student
	Applied     int
	SkippedKeys []string
}

// Plan computes the new roster from the current one and a patch set without
// touching storage. Pure and deterministic.
//
// Semantics:
//   - last-wins: on duplicate keys within the patch set the later entry
//     replaces the earlier one;
//   - full replace: a matched student keeps its key and position but its
//     whole attribute map is swapped for the patch's;
//   - silent miss: a patch key with no matching student is dropped from the
//     output and reported in SkippedKeys (deduplicated, first-appearance
//     order). It never creates a student and never fails the batch.
//
// Runs in O(len(current) + len(patch)).
func Plan(current []model.Student, patch model.PatchSet) PlanResult {
	index := make(map[string]model.PatchEntry, len(patch))
	order := make([]string, 0, len(patch))
	for _, entry := range patch {
		if _, seen := index[entry.Key]; !seen {
			order = append(order, entry.Key)
		}
		index[entry.Key] = entry
	}

	out := make([]model.Student, len(current))
	matched := make(map[string]struct{}, len(index))
	for i, st := range current {
		if entry, ok := index[st.Key]; ok {
			out[i] = model.Student{Key: st.Key, Attrs: maps.Clone(entry.Attrs)}
			matched[st.Key] = struct{}{}
			continue
		}
		out[i] = st
	}

	skipped := make([]string, 0)
	for _, key := range order {
		if _, ok := matched[key]; !ok {
			skipped = append(skipped, key)
		}
	}

	return PlanResult{Students: out, Applied: len(matched), SkippedKeys: skipped}
}
