package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"datachange/internal/changetrack/codec"
	"datachange/internal/changetrack/models"
	"datachange/internal/changetrack/render"
	"datachange/internal/changetrack/service"
	"datachange/pkg/platform/httputil"
	"datachange/pkg/requestcontext"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	// filteredScanLimit bounds how many of the newest records are read when
	// change_type or title narrows the listing.
	filteredScanLimit = 5000
)

// Service defines the change tracking operations exposed over HTTP.
type Service interface {
	Track(ctx context.Context, entity models.Entity, changeType models.ChangeType, meta models.Metadata) (models.Outcome, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.Record, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Record, error)
	RenderDiff(ctx context.Context, id uuid.UUID) ([]render.FieldDiff, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Handler serves the change record API.
type Handler struct {
	logger  *slog.Logger
	changes Service
}

// New creates a change record Handler.
func New(changes Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{logger: logger, changes: changes}
}

// Register registers the change record routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/changes", h.handleTrack)
	r.Get("/records", h.handleList)
	r.Get("/records/{id}", h.handleGet)
	r.Get("/records/{id}/diff", h.handleDiff)
	r.Delete("/records/{id}", h.handleDelete)
}

// handleTrack ingests one operation on an entity. The request metadata comes
// from the ClientMetadata and Actor middleware.
func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid track request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, httputil.NewError(http.StatusBadRequest, httputil.CodeBadRequest, "invalid request body"))
		return
	}
	sanitize(&req)
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, httputil.Wrap(err, http.StatusBadRequest, httputil.CodeBadRequest, err.Error()))
		return
	}

	changeType := models.ParseChangeType(req.ChangeType)
	out, err := h.changes.Track(ctx, req.entity(), changeType, service.MetadataFromContext(ctx))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to track change", err)
		return
	}

	if out.Skipped() {
		httputil.WriteJSON(w, http.StatusOK, SkippedResponse{Skipped: true, Reason: string(out.Decision.Reason)})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toSummary(out.Record))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, httputil.NewError(http.StatusBadRequest, httputil.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	filter := newListFilter(q.Get("change_type"), q.Get("title"))
	fetch := limit
	if filter.active() {
		fetch = filteredScanLimit
	}

	entityType, entityID := q.Get("entity_type"), q.Get("entity_id")
	var (
		records []*models.Record
		err     error
	)
	switch {
	case entityType == "" && entityID == "":
		records, err = h.changes.ListRecent(ctx, fetch)
	case entityType == "" || entityID == "":
		httputil.WriteError(w, httputil.NewError(http.StatusBadRequest, httputil.CodeBadRequest, "entity_type and entity_id must be given together"))
		return
	default:
		records, err = h.changes.ListByEntity(ctx, entityType, entityID, fetch)
	}
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list change records", err)
		return
	}

	resp := ListResponse{Records: make([]RecordSummary, 0, min(len(records), limit))}
	for _, record := range records {
		if len(resp.Records) == limit {
			break
		}
		if !filter.match(record) {
			continue
		}
		resp.Records = append(resp.Records, toSummary(record))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// listFilter narrows a listing by change type and by a case-insensitive
// fragment of the entity title or the "<type> #<id>" record title.
type listFilter struct {
	changeType models.ChangeType
	title      string
}

func newListFilter(changeType, title string) listFilter {
	f := listFilter{title: strings.ToLower(strings.TrimSpace(title))}
	if strings.TrimSpace(changeType) != "" {
		f.changeType = models.ParseChangeType(changeType)
	}
	return f
}

func (f listFilter) active() bool {
	return f.changeType != "" || f.title != ""
}

func (f listFilter) match(record *models.Record) bool {
	if f.changeType != "" && record.ChangeType != f.changeType {
		return false
	}
	if f.title == "" {
		return true
	}
	return strings.Contains(strings.ToLower(record.EntityTitle), f.title) ||
		strings.Contains(strings.ToLower(record.Title()), f.title)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	record, err := h.changes.Get(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to load change record", err)
		return
	}

	detail, err := toDetail(record)
	if err != nil {
		h.writeServiceError(ctx, w, "stored change record cannot be decoded", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	diff, err := h.changes.RenderDiff(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to render change record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DiffResponse{RecordID: id, Fields: diff})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	h.writeServiceError(ctx, w, "change record deletion rejected", h.changes.Delete(ctx, id))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, httputil.NewError(http.StatusBadRequest, httputil.CodeBadRequest, "invalid record id"))
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps domain errors onto responses; everything unknown is
// logged and reported as an internal error.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	requestID := requestcontext.RequestID(ctx)
	switch {
	case errors.Is(err, models.ErrDeleteForbidden):
		httputil.WriteError(w, httputil.Wrap(err, http.StatusForbidden, "delete_forbidden", "change records cannot be deleted"))
		return
	case errors.Is(err, models.ErrInvalidEntity):
		httputil.WriteError(w, httputil.Wrap(err, http.StatusBadRequest, httputil.CodeBadRequest, err.Error()))
		return
	case errors.Is(err, models.ErrSerialization) && !errors.Is(err, codec.ErrCorruptPayload):
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
		httputil.WriteError(w, httputil.Wrap(err, http.StatusUnprocessableEntity, "unserializable_fields", "field values cannot be serialized"))
		return
	}

	if httputil.StatusOf(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
	}
	httputil.WriteError(w, err)
}

// agentSummary describes the recorded User-Agent string.
func agentSummary(raw string) *AgentSummary {
	if raw == "" {
		return nil
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	return &AgentSummary{
		Browser:        name,
		BrowserVersion: version,
		OS:             ua.OS(),
		Platform:       ua.Platform(),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
}

func toSummary(record *models.Record) RecordSummary {
	return RecordSummary{Record: record, Title: record.Title()}
}

func toDetail(record *models.Record) (*RecordDetail, error) {
	before, err := render.Fields(record.Before)
	if err != nil {
		return nil, err
	}
	after, err := render.Fields(record.After)
	if err != nil {
		return nil, err
	}
	return &RecordDetail{
		RecordSummary: toSummary(record),
		ActorDetails:  record.ActorDetails(),
		CanDelete:     record.CanDelete(),
		Agent:         agentSummary(record.UserAgent),
		Before:        before,
		After:         after,
	}, nil
}
