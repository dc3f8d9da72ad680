package model

// Student is one element of a school's embedded roster. Key is unique
// within its school, not globally. Attrs holds arbitrary scalar fields the
// engine never inspects.
type Student struct {
	Key   string         `json:"key"`
	Attrs map[string]any `json:"attrs"`
}

// School is the outer record. Version increases by exactly one on every
// committed roster write and is the compare-and-swap token for concurrent
// writers.
type School struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Version  uint64    `json:"version"`
	Students []Student `json:"students"`
}

// PatchEntry replaces the whole Attrs of the student with the matching key.
// There is no field-level merge.
type PatchEntry struct {
	Key   string         `json:"key"`
	Attrs map[string]any `json:"attrs"`
}

// PatchSet is an ordered batch of patches for one school. When two entries
// share a key, the later one wins.
type PatchSet []PatchEntry

// ApplyResult reports the outcome of a committed batch.
type ApplyResult struct {
	Applied     int      `json:"applied"`
	SkippedKeys []string `json:"skippedKeys"`
	NewVersion  uint64   `json:"version"`
}

type ChangeOp byte

const (
	OpCreateSchool ChangeOp = iota
	OpWriteStudents
)

// ChangeRecord is one entry in the durability changelog. For OpCreateSchool
// the payload is the JSON-encoded School; for OpWriteStudents it is the
// JSON-encoded replacement roster and Version carries the new version.
type ChangeRecord struct {
	Sequence uint64
	Op       ChangeOp
	SchoolID string
	Version  uint64
	Payload  []byte
}
