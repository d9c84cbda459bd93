// Package assembler merges a classification decision, its payload, and the
// caller's context into a single record ready for a store.
package assembler

import (
	"net/url"

	"datachange/internal/changetrack/codec"
	"datachange/internal/changetrack/models"
)

// Options are the process-wide knobs for request parameter capture.
type Options struct {
	// SaveRequestParams enables storing GET/POST parameters on records.
	SaveRequestParams bool
	// RequestParamBlacklist keys are stripped from both parameter maps.
	RequestParamBlacklist []string
}

// Assembler builds records. It holds only read-only configuration and is
// safe for concurrent use.
type Assembler struct {
	opts Options
}

// New creates an Assembler.
func New(opts Options) *Assembler {
	return &Assembler{opts: opts}
}

// Input carries everything needed to build one record.
type Input struct {
	ChangeType models.ChangeType
	Entity     models.Entity
	Decision   models.Decision
	Before     models.FieldMap
	After      models.FieldMap
	Metadata   models.Metadata
}

// Assemble returns an Outcome with a nil Record for skip decisions. It never
// persists anything.
func (a *Assembler) Assemble(in Input) (models.Outcome, error) {
	if in.Decision.Mode == models.ModeSkip {
		return models.Outcome{Decision: in.Decision}, nil
	}

	before, err := codec.EncodeFields(in.Before)
	if err != nil {
		return models.Outcome{}, err
	}
	after, err := codec.EncodeFields(in.After)
	if err != nil {
		return models.Outcome{}, err
	}

	meta := in.Metadata
	record := &models.Record{
		ChangeType:    in.ChangeType,
		EntityType:    in.Entity.TypeName(),
		EntityID:      in.Entity.ID(),
		EntityTitle:   in.Entity.Title(),
		Stage:         meta.Stage,
		Before:        before,
		After:         after,
		ActorID:       meta.ActorID,
		ActorEmail:    meta.ActorEmail,
		RequestURL:    meta.RequestURL,
		Referer:       meta.Referer,
		RemoteAddress: meta.RemoteAddress,
		UserAgent:     meta.UserAgent,
	}

	if a.opts.SaveRequestParams {
		record.RawGetParams = a.encodeParams(meta.GetParams)
		record.RawPostParams = a.encodeParams(meta.PostParams)
	}

	return models.Outcome{Record: record, Decision: in.Decision}, nil
}

// encodeParams strips blacklisted keys from a copy of params and renders the
// rest in sorted query-string form.
func (a *Assembler) encodeParams(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	kept := make(url.Values, len(params))
	for k, v := range params {
		kept[k] = append([]string(nil), v...)
	}
	for _, key := range a.opts.RequestParamBlacklist {
		kept.Del(key)
	}
	return kept.Encode()
}
