package domain

// Record is one canvas document record. Props is the host's schema; this
// system never interprets it beyond copying.
type Record struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"props,omitempty"`
}

// CloneRecord returns a copy with an independent shallow copy of Props.
func CloneRecord(r Record) Record {
	props := make(map[string]any, len(r.Props))
	for k, v := range r.Props {
		props[k] = v
	}
	r.Props = props
	return r
}

// RecordChange is one updated record with its before and after states.
type RecordChange struct {
	Before Record `json:"before"`
	After  Record `json:"after"`
}

// Diff is the set of added, updated, and removed records produced by one
// operation. Keys are record ids.
type Diff struct {
	Added   map[string]Record       `json:"added,omitempty"`
	Updated map[string]RecordChange `json:"updated,omitempty"`
	Removed map[string]Record       `json:"removed,omitempty"`
}

// Empty reports whether the diff touches no records.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Document is the host document collaborator. The orchestrator mutates the
// canvas only through it; diff extraction and exact inverse application are
// what make provisional actions revertible.
type Document interface {
	// ExtractDiff runs fn and returns the diff of every record it touched.
	ExtractDiff(fn func()) Diff
	ApplyDiff(diff Diff)
	ApplyInverseDiff(diff Diff)

	CreateRecord(r Record)
	UpdateRecord(r Record)
	DeleteRecord(id string)
	GetRecord(id string) (Record, bool)
	GetSelectedRecords() []Record
	GetViewportBounds() Rect
}
