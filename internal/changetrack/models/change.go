package models

import (
	"net/url"
	"sort"
	"strings"
)

// ChangeType names the operation being tracked. The four constants below are
// the known variants; any other value is carried through verbatim and treated
// as an incremental change by the classifier.
type ChangeType string

const (
	ChangeTypeChange    ChangeType = "Change"
	ChangeTypePublish   ChangeType = "Publish"
	ChangeTypeUnpublish ChangeType = "Unpublish"
	ChangeTypeDelete    ChangeType = "Delete"
)

var knownChangeTypes = []ChangeType{
	ChangeTypeChange,
	ChangeTypePublish,
	ChangeTypeUnpublish,
	ChangeTypeDelete,
}

// ParseChangeType maps a case-insensitive known name onto its constant.
// Unknown names are returned unchanged; an empty string defaults to Change.
func ParseChangeType(s string) ChangeType {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChangeTypeChange
	}
	for _, ct := range knownChangeTypes {
		if strings.EqualFold(s, string(ct)) {
			return ct
		}
	}
	return ChangeType(s)
}

// Known reports whether ct is one of the closed set of change types.
func (ct ChangeType) Known() bool {
	for _, k := range knownChangeTypes {
		if ct == k {
			return true
		}
	}
	return false
}

func (ct ChangeType) String() string { return string(ct) }

// Reading modes. A delete observed while reading the live stage is not
// recorded; see classifier.Classify.
const (
	StageLive  = "Stage.Live"
	StageDraft = "Stage.Stage"
)

// FieldChange is the before/after pair for a single field.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// FieldChangeSet maps field names to their before/after pair.
type FieldChangeSet map[string]FieldChange

// Keys returns the field names in lexicographic order.
func (s FieldChangeSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the set.
func (s FieldChangeSet) Clone() FieldChangeSet {
	if s == nil {
		return nil
	}
	out := make(FieldChangeSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// FieldMap is a flat field-name to value map, used for snapshots and for
// each side of a diff.
type FieldMap map[string]any

// Keys returns the field names in lexicographic order.
func (m FieldMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entity is the capability a tracked record must expose. Implementations
// declare their change set explicitly instead of having it discovered.
type Entity interface {
	TypeName() string
	ID() string
	Title() string
	// ChangedFields returns the fields modified by the operation being tracked.
	ChangedFields() (FieldChangeSet, error)
	// FieldMap returns the complete current field set.
	FieldMap() (FieldMap, error)
}

// IgnoredFieldsProvider is implemented by entities that have fields which
// always differ spuriously (computed fields, counters) and must not be audited.
type IgnoredFieldsProvider interface {
	IgnoredFields() []string
}

// Metadata is the caller-supplied context embedded into a record verbatim.
type Metadata struct {
	ActorID       string
	ActorEmail    string
	Stage         string
	RequestURL    string
	Referer       string
	RemoteAddress string
	UserAgent     string

	// Only consumed when request parameter capture is enabled.
	GetParams  url.Values
	PostParams url.Values
}
