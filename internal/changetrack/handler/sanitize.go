package handler

import (
	"strings"

	strutil "datachange/pkg/platform/strings"
)

// sanitize trims the identity strings of a track request and normalises its
// ignore list. Field names inside changes and fields are left untouched; they
// are case- and whitespace-sensitive keys.
func sanitize(req *TrackRequest) {
	if req == nil {
		return
	}
	req.EntityType = strings.TrimSpace(req.EntityType)
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.Title = strings.TrimSpace(req.Title)
	req.ChangeType = strings.TrimSpace(req.ChangeType)
	req.IgnoredFields = strutil.DedupeAndTrim(req.IgnoredFields)
}
