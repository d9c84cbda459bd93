// Package filter narrows a raw change set down to the fields eligible for
// auditing.
package filter

import (
	"datachange/internal/changetrack/models"
)

// SecurityTokenField is the anti-forgery token key. It changes on every
// request and is always dropped.
const SecurityTokenField = "SecurityID"

// Filter applies the process-wide field blacklist together with per-call
// ignore lists.
type Filter struct {
	blacklist map[string]struct{}
}

// New creates a Filter. Blacklisted fields are removed unconditionally;
// callers cannot opt back into them.
func New(blacklist ...string) *Filter {
	return &Filter{blacklist: toSet(blacklist)}
}

// Apply returns a new change set without ignored, blacklisted, or token fields.
func (f *Filter) Apply(changes models.FieldChangeSet, ignored []string) models.FieldChangeSet {
	return apply(changes, toSet(ignored), f.blacklist)
}

// Blacklist returns the configured blacklist.
func (f *Filter) Blacklist() []string {
	out := make([]string, 0, len(f.blacklist))
	for k := range f.blacklist {
		out = append(out, k)
	}
	return out
}

// Apply is the stateless form of Filter.Apply.
func Apply(changes models.FieldChangeSet, ignored, blacklist []string) models.FieldChangeSet {
	return apply(changes, toSet(ignored), toSet(blacklist))
}

func apply(changes models.FieldChangeSet, ignored, blacklist map[string]struct{}) models.FieldChangeSet {
	out := make(models.FieldChangeSet, len(changes))
	for field, change := range changes {
		if field == SecurityTokenField {
			continue
		}
		if _, ok := ignored[field]; ok {
			continue
		}
		if _, ok := blacklist[field]; ok {
			continue
		}
		out[field] = change
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
