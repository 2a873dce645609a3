package model

// FieldHints accumulates per-field descriptions across a run. Entries are
// overwritten or added, never removed. It is owned by a single goroutine.
type FieldHints struct {
	m map[string]string
}

// NewFieldHints returns an empty hint map.
func NewFieldHints() *FieldHints {
	return &FieldHints{m: make(map[string]string)}
}

// Merge applies updates with last-write-wins semantics.
func (h *FieldHints) Merge(updates map[string]string) {
	if h.m == nil {
		h.m = make(map[string]string, len(updates))
	}
	for k, v := range updates {
		h.m[k] = v
	}
}

// Get returns the description for a field.
func (h *FieldHints) Get(field string) (string, bool) {
	v, ok := h.m[field]
	return v, ok
}

// Len returns the number of described fields.
func (h *FieldHints) Len() int {
	return len(h.m)
}

// Snapshot returns a copy that later merges do not affect.
func (h *FieldHints) Snapshot() map[string]string {
	out := make(map[string]string, len(h.m))
	for k, v := range h.m {
		out[k] = v
	}
	return out
}
