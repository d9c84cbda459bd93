package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSerialization marks failures to encode or decode field payloads.
	ErrSerialization = errors.New("serialization failed")
	// ErrDeleteForbidden is returned for every attempt to delete a record.
	ErrDeleteForbidden = errors.New("change records cannot be deleted")
	// ErrInvalidEntity is returned when an entity has no type name or ID.
	ErrInvalidEntity = errors.New("entity requires a type name and ID")
)

// Record is a single, immutable audit entry. Stores never update a record
// once appended.
//
// Before and After hold encoded field maps (see codec). A nil payload means
// the side is absent: publish records have no Before, unpublish records have
// no After. Diff records carry both sides with identical key sets.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	ChangeType  ChangeType `json:"change_type"`
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	EntityTitle string     `json:"entity_title"`
	Stage       string     `json:"stage"`

	Before []byte `json:"-"`
	After  []byte `json:"-"`

	// ActorID references the acting identity without owning it.
	ActorID       string `json:"actor_id,omitempty"`
	ActorEmail    string `json:"actor_email,omitempty"`
	RequestURL    string `json:"request_url,omitempty"`
	Referer       string `json:"referer,omitempty"`
	RemoteAddress string `json:"remote_address,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	RawGetParams  string `json:"raw_get_params,omitempty"`
	RawPostParams string `json:"raw_post_params,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Title identifies the changed entity, e.g. "Article #42".
func (r *Record) Title() string {
	return r.EntityType + " #" + r.EntityID
}

// ActorDetails describes the actor as "<id> <email>", or whichever part is known.
func (r *Record) ActorDetails() string {
	switch {
	case r.ActorID != "" && r.ActorEmail != "":
		return r.ActorID + " <" + r.ActorEmail + ">"
	case r.ActorEmail != "":
		return "<" + r.ActorEmail + ">"
	default:
		return r.ActorID
	}
}

// CanDelete always reports false; records are retained permanently.
func (r *Record) CanDelete() bool { return false }

// Clone returns a deep copy so callers cannot alter stored payloads.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Before != nil {
		c.Before = append([]byte{}, r.Before...)
	}
	if r.After != nil {
		c.After = append([]byte{}, r.After...)
	}
	return &c
}
