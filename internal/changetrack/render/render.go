// Package render turns a stored record back into a field-by-field comparison
// for display and export.
package render

import (
	"sort"

	"datachange/internal/changetrack/codec"
	"datachange/internal/changetrack/models"
)

// FieldDiff is one row of a rendered comparison. Changed is false when both
// sides hold the same value, which happens for snapshot fields that were not
// part of the change.
type FieldDiff struct {
	Field   string `json:"field"`
	Before  any    `json:"before"`
	After   any    `json:"after"`
	Changed bool   `json:"changed"`
}

// Render decodes both sides of record and returns one entry per field in
// either side, ordered by field name. A nil record or one without a Before
// payload (a publish snapshot) renders to an empty slice.
//
// Corrupt payloads return an error wrapping codec.ErrCorruptPayload.
func Render(record *models.Record) ([]FieldDiff, error) {
	if record == nil || len(record.Before) == 0 {
		return []FieldDiff{}, nil
	}

	before, err := codec.DecodeFields(record.Before)
	if err != nil {
		return nil, err
	}
	after, err := codec.DecodeFields(record.After)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(before)+len(after))
	fields := make([]string, 0, len(before)+len(after))
	for _, m := range []models.FieldMap{before, after} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	out := make([]FieldDiff, 0, len(fields))
	for _, field := range fields {
		b, a := before[field], after[field]
		out = append(out, FieldDiff{
			Field:   field,
			Before:  b,
			After:   a,
			Changed: !codec.Equal(b, a),
		})
	}
	return out, nil
}

// Fields decodes a single payload for raw display.
func Fields(payload []byte) (models.FieldMap, error) {
	return codec.DecodeFields(payload)
}
