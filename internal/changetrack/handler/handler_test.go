package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"datachange/internal/changetrack/handler/mocks"
	"datachange/internal/changetrack/models"
	"datachange/internal/changetrack/service"
	"datachange/internal/changetrack/store/memory"
	"datachange/pkg/platform/middleware/metadata"
	"datachange/pkg/platform/sentinel"
	"datachange/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/service.go -package=mocks Service

const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

type HandlerSuite struct {
	suite.Suite
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	svc, err := service.New(memory.NewInMemoryStore(), service.DefaultConfig())
	s.Require().NoError(err)
	s.router = newRouter(New(svc, nil))
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	h.Register(r)
	return r
}

func (s *HandlerSuite) track(path string, body TrackRequest) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, body)
	req.Header.Set("User-Agent", firefoxUA)
	req = testutil.WithActor(req, "7", "editor@example.com")
	return testutil.DoRequest(s.router, req)
}

func titleChange() TrackRequest {
	return TrackRequest{
		EntityType: "Article",
		EntityID:   "42",
		Title:      "Hello",
		ChangeType: "Change",
		Changes: map[string]models.FieldChange{
			"Title":    {Before: "Old", After: "New"},
			"Password": {Before: "a", After: "b"},
		},
	}
}

// =============================================================================
// POST /changes
// =============================================================================

func (s *HandlerSuite) TestTrack_RecordsFilteredDiff() {
	rr := s.track("/changes", titleChange())
	testutil.AssertStatusCreated(s.T(), rr)

	created := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal("Article #42", (*created)["title"])
	s.Equal("Change", (*created)["change_type"])
	s.Equal(models.StageDraft, (*created)["stage"])
	s.Equal("7", (*created)["actor_id"])
	s.NotContains(*created, "before")

	id := (*created)["id"].(string)
	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records/"+id))
	testutil.AssertStatusOK(s.T(), rr)

	detail := testutil.UnmarshalResponse[RecordDetail](s.T(), rr)
	s.Equal(models.FieldMap{"Title": "Old"}, detail.Before)
	s.Equal(models.FieldMap{"Title": "New"}, detail.After)
	s.Equal("7 <editor@example.com>", detail.ActorDetails)
	s.False(detail.CanDelete)
	s.Require().NotNil(detail.Agent)
	s.Equal("Firefox", detail.Agent.Browser)
	s.False(detail.Agent.Bot)
}

func (s *HandlerSuite) TestTrack_SkippedOperations() {
	s.Run("only filtered fields changed", func() {
		req := titleChange()
		req.Changes = map[string]models.FieldChange{"SecurityID": {Before: "x", After: "y"}}
		rr := s.track("/changes", req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "reason", "no_changes")
	})

	s.Run("ignored fields from the request", func() {
		req := titleChange()
		req.IgnoredFields = []string{" Title "}
		rr := s.track("/changes", req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "skipped", true)
	})

	s.Run("delete while reading live", func() {
		req := titleChange()
		req.ChangeType = "delete"
		rr := s.track("/changes?stage=Live", req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "reason", "live_delete")
	})
}

func (s *HandlerSuite) TestTrack_PublishRendersEmptyDiff() {
	req := TrackRequest{
		EntityType: "Article",
		EntityID:   "42",
		ChangeType: "Publish",
		Fields:     map[string]any{"Title": "Hello", "Body": "..."},
	}
	rr := s.track("/changes", req)
	testutil.AssertStatusCreated(s.T(), rr)
	id := (*testutil.UnmarshalResponse[map[string]any](s.T(), rr))["id"].(string)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records/"+id+"/diff"))
	testutil.AssertStatusOK(s.T(), rr)
	diff := testutil.UnmarshalResponse[DiffResponse](s.T(), rr)
	s.Empty(diff.Fields)
	s.NotNil(diff.Fields)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records/"+id))
	detail := testutil.UnmarshalResponse[RecordDetail](s.T(), rr)
	s.Nil(detail.Before)
	s.Equal(models.FieldMap{"Title": "Hello", "Body": "..."}, detail.After)
}

func (s *HandlerSuite) TestTrack_DiffEndpoint() {
	rr := s.track("/changes", titleChange())
	id := (*testutil.UnmarshalResponse[map[string]any](s.T(), rr))["id"].(string)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records/"+id+"/diff"))
	testutil.AssertStatusOK(s.T(), rr)
	diff := testutil.UnmarshalResponse[DiffResponse](s.T(), rr)
	s.Require().Len(diff.Fields, 1)
	s.Equal("Title", diff.Fields[0].Field)
	s.Equal("Old", diff.Fields[0].Before)
	s.Equal("New", diff.Fields[0].After)
	s.True(diff.Fields[0].Changed)
}

func (s *HandlerSuite) TestTrack_InvalidRequests() {
	s.Run("malformed body", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/changes", "{")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("raw json body", func() {
		body := testutil.MustMarshal(s.T(), map[string]any{
			"entity_type": "Article",
			"entity_id":   "7",
			"change_type": "Change",
			"changes":     map[string]any{"Title": map[string]any{"before": "Old", "after": "New"}},
		})
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/changes", body)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusCreated(s.T(), rr)
		testutil.AssertJSONHasKey(s.T(), rr, "id")
	})

	s.Run("missing entity id", func() {
		req := titleChange()
		req.EntityID = "  "
		rr := s.track("/changes", req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("publish without fields still records", func() {
		req := TrackRequest{EntityType: "Article", EntityID: "1", ChangeType: "Publish"}
		rr := s.track("/changes", req)
		testutil.AssertStatusCreated(s.T(), rr)
	})
}

// =============================================================================
// GET /records
// =============================================================================

func (s *HandlerSuite) TestList() {
	first := titleChange()
	second := titleChange()
	second.Changes = map[string]models.FieldChange{"Body": {Before: "a", After: "b"}}
	other := titleChange()
	other.EntityID = "43"
	release := TrackRequest{
		EntityType: "Article",
		EntityID:   "44",
		Title:      "Release Notes",
		ChangeType: "Publish",
		Fields:     map[string]any{"Title": "Release Notes"},
	}
	for _, req := range []TrackRequest{release, first, second, other} {
		testutil.AssertStatusCreated(s.T(), s.track("/changes", req))
	}

	s.Run("by entity newest first", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?entity_type=Article&entity_id=42"))
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Len(list.Records, 2)
		for _, r := range list.Records {
			s.Equal("42", r.EntityID)
		}
	})

	s.Run("recent with limit", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?limit=1"))
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Len(list.Records, 1)
		s.Equal("43", list.Records[0].EntityID)
	})

	s.Run("by change type", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?change_type=publish"))
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Len(list.Records, 1)
		s.Equal("44", list.Records[0].EntityID)
		s.Equal(models.ChangeTypePublish, list.Records[0].ChangeType)
	})

	s.Run("by entity title fragment", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?title=release"))
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Len(list.Records, 1)
		s.Equal("44", list.Records[0].EntityID)
	})

	s.Run("by record title", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?title=article+%2343"))
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Len(list.Records, 1)
		s.Equal("43", list.Records[0].EntityID)
	})

	s.Run("change type applies before limit", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?change_type=Publish&limit=1"))
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Len(list.Records, 1)
		s.Equal("44", list.Records[0].EntityID)
	})

	s.Run("filters combine with entity", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?entity_type=Article&entity_id=42&change_type=Publish"))
		testutil.AssertStatusOK(s.T(), rr)
		list := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Empty(list.Records)
	})

	s.Run("half an entity filter", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?entity_type=Article"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("invalid limit", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records?limit=-3"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

// =============================================================================
// GET/DELETE /records/{id}
// =============================================================================

func (s *HandlerSuite) TestGet_Errors() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records/not-a-uuid"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records/"+uuid.NewString()))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *HandlerSuite) TestDelete_AlwaysForbidden() {
	rr := s.track("/changes", titleChange())
	id := (*testutil.UnmarshalResponse[map[string]any](s.T(), rr))["id"].(string)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodDelete, "/records/"+id))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "delete_forbidden")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/records/"+id))
	testutil.AssertStatusOK(s.T(), rr)
}

// =============================================================================
// Service failures
// =============================================================================

func (s *HandlerSuite) TestServiceFailures() {
	ctrl := gomock.NewController(s.T())
	svc := mocks.NewMockService(ctrl)
	router := newRouter(New(svc, nil))

	s.Run("store failure is an internal error", func() {
		svc.EXPECT().Track(gomock.Any(), gomock.Any(), models.ChangeTypeChange, gomock.Any()).
			Return(models.Outcome{}, errors.New("append change record: connection reset"))
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/changes", titleChange()))
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		errResp := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal("internal_error", errResp["error"])
		s.NotContains(errResp, "error_description")
	})

	s.Run("store unavailable", func() {
		svc.EXPECT().ListRecent(gomock.Any(), maxListLimit).
			Return(nil, sentinel.ErrUnavailable)
		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/records?limit=100000"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "service_unavailable")
	})

	s.Run("serialization failure", func() {
		svc.EXPECT().Track(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(models.Outcome{}, models.ErrSerialization)
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/changes", titleChange()))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "unserializable_fields")
	})

	s.Run("ingested entity exposes the request", func() {
		svc.EXPECT().Track(gomock.Any(), gomock.Any(), models.ChangeType("Archive"), gomock.Any()).
			DoAndReturn(func(_ context.Context, e models.Entity, _ models.ChangeType, meta models.Metadata) (models.Outcome, error) {
				s.Equal("Article", e.TypeName())
				s.Equal("42", e.ID())
				changes, err := e.ChangedFields()
				s.Require().NoError(err)
				s.Equal([]string{"Password", "Title"}, changes.Keys())
				s.Equal(models.StageDraft, meta.Stage)
				return models.Outcome{Decision: models.Skip(models.SkipNoChanges)}, nil
			})
		req := titleChange()
		req.ChangeType = "Archive"
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/changes", req))
		testutil.AssertStatusOK(s.T(), rr)
	})
}
