package core

// TechniqueFilters holds listing parameters for technique queries.
// Cursor is the id of the last technique returned by the previous page.
type TechniqueFilters struct {
	OperationID string `json:"operation_id,omitempty"`
	Limit       int    `json:"limit"`
	Cursor      string `json:"cursor,omitempty"`
}

// Normalize clamps the limit into the 1..MaxListLimit range, applying the
// default when unset.
func (f *TechniqueFilters) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
}
