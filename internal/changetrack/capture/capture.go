// Package capture builds the before/after field maps stored on a record.
package capture

import (
	"fmt"

	"datachange/internal/changetrack/models"
)

// BuildSnapshot captures the entity's complete field map on one side.
// The map is not filtered: snapshots keep every field so the entity can be
// reconstructed later.
func BuildSnapshot(entity models.Entity, direction models.Direction) (before, after models.FieldMap, err error) {
	fields, err := entity.FieldMap()
	if err != nil {
		return nil, nil, fmt.Errorf("read field map of %s #%s: %w", entity.TypeName(), entity.ID(), err)
	}
	snapshot := make(models.FieldMap, len(fields))
	for k, v := range fields {
		snapshot[k] = v
	}

	switch direction {
	case models.DirectionBefore:
		return snapshot, nil, nil
	case models.DirectionAfter:
		return nil, snapshot, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot direction %d", direction)
	}
}

// BuildDiff splits each field change into parallel before and after maps
// with identical key sets.
func BuildDiff(filtered models.FieldChangeSet) (before, after models.FieldMap) {
	before = make(models.FieldMap, len(filtered))
	after = make(models.FieldMap, len(filtered))
	for field, change := range filtered {
		before[field] = change.Before
		after[field] = change.After
	}
	return before, after
}
