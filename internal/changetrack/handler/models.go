package handler

import (
	"errors"

	"github.com/google/uuid"

	"datachange/internal/changetrack/models"
	"datachange/internal/changetrack/render"
)

// TrackRequest is the body of POST /changes. Changes lists the fields the
// operation modified; Fields is the entity's complete current state and is
// used for publish and unpublish snapshots.
type TrackRequest struct {
	EntityType    string                        `json:"entity_type"`
	EntityID      string                        `json:"entity_id"`
	Title         string                        `json:"title"`
	ChangeType    string                        `json:"change_type"`
	Changes       map[string]models.FieldChange `json:"changes"`
	Fields        map[string]any                `json:"fields"`
	IgnoredFields []string                      `json:"ignored_fields"`
}

// Validate checks the identity fields.
func (r *TrackRequest) Validate() error {
	if r.EntityType == "" {
		return errors.New("entity_type is required")
	}
	if r.EntityID == "" {
		return errors.New("entity_id is required")
	}
	return nil
}

func (r *TrackRequest) entity() *ingestedEntity {
	return &ingestedEntity{req: r}
}

// ingestedEntity exposes a TrackRequest as a trackable entity.
type ingestedEntity struct {
	req *TrackRequest
}

func (e *ingestedEntity) TypeName() string { return e.req.EntityType }
func (e *ingestedEntity) ID() string       { return e.req.EntityID }
func (e *ingestedEntity) Title() string    { return e.req.Title }

func (e *ingestedEntity) ChangedFields() (models.FieldChangeSet, error) {
	return models.FieldChangeSet(e.req.Changes), nil
}

func (e *ingestedEntity) FieldMap() (models.FieldMap, error) {
	return models.FieldMap(e.req.Fields), nil
}

func (e *ingestedEntity) IgnoredFields() []string { return e.req.IgnoredFields }

type SkippedResponse struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

// RecordSummary is a record without its payloads.
type RecordSummary struct {
	*models.Record
	Title string `json:"title"`
}

type AgentSummary struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// RecordDetail adds the decoded payloads and display helpers.
type RecordDetail struct {
	RecordSummary
	ActorDetails string          `json:"actor_details"`
	CanDelete    bool            `json:"can_delete"`
	Agent        *AgentSummary   `json:"agent,omitempty"`
	Before       models.FieldMap `json:"before"`
	After        models.FieldMap `json:"after"`
}

type ListResponse struct {
	Records []RecordSummary `json:"records"`
}

type DiffResponse struct {
	RecordID uuid.UUID          `json:"record_id"`
	Fields   []render.FieldDiff `json:"fields"`
}
