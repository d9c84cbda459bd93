// Package classifier decides whether a tracked operation produces a record
// and, if so, whether it captures a full snapshot or an incremental diff.
package classifier

import (
	"datachange/internal/changetrack/models"
)

// Classify applies the capture policy. Rules are evaluated in order:
//
//  1. Delete while reading the live stage: skip.
//  2. Change with no eligible fields: skip.
//  3. Publish: snapshot into After.
//  4. Unpublish: snapshot into Before.
//  5. Anything else (Change, non-live Delete, unknown types): diff.
//
// filtered must already have passed through the field filter.
func Classify(changeType models.ChangeType, filtered models.FieldChangeSet, stage string) models.Decision {
	switch {
	case changeType == models.ChangeTypeDelete && stage == models.StageLive:
		return models.Skip(models.SkipLiveDelete)
	case changeType == models.ChangeTypeChange && len(filtered) == 0:
		return models.Skip(models.SkipNoChanges)
	case changeType == models.ChangeTypePublish:
		return models.Snapshot(models.DirectionAfter)
	case changeType == models.ChangeTypeUnpublish:
		return models.Snapshot(models.DirectionBefore)
	default:
		return models.Diff()
	}
}
