package assembler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/suite"

	"datachange/internal/changetrack/codec"
	"datachange/internal/changetrack/models"
)

type article struct{}

func (article) TypeName() string { return "Article" }
func (article) ID() string       { return "42" }
func (article) Title() string    { return "Hello World" }
func (article) ChangedFields() (models.FieldChangeSet, error) {
	return nil, nil
}
func (article) FieldMap() (models.FieldMap, error) { return nil, nil }

type AssemblerSuite struct {
	suite.Suite
	meta models.Metadata
}

func TestAssemblerSuite(t *testing.T) {
	suite.Run(t, new(AssemblerSuite))
}

func (s *AssemblerSuite) SetupTest() {
	s.meta = models.Metadata{
		ActorID:       "7",
		ActorEmail:    "editor@example.com",
		Stage:         models.StageDraft,
		RequestURL:    "https://cms.example.com:443/admin/pages/edit/42",
		Referer:       "https://cms.example.com:443/admin/pages",
		RemoteAddress: "203.0.113.9",
		UserAgent:     "Mozilla/5.0",
		GetParams:     url.Values{"url": {"/admin"}, "page": {"2"}},
		PostParams:    url.Values{"SecurityID": {"tok"}, "Title": {"New"}},
	}
}

func (s *AssemblerSuite) TestSkipProducesNoRecord() {
	a := New(Options{})

	out, err := a.Assemble(Input{
		ChangeType: models.ChangeTypeChange,
		Entity:     article{},
		Decision:   models.Skip(models.SkipNoChanges),
		Metadata:   s.meta,
	})

	s.Require().NoError(err)
	s.True(out.Skipped())
	s.Nil(out.Record)
	s.Equal(models.SkipNoChanges, out.Decision.Reason)
}

func (s *AssemblerSuite) TestDiffRecordFields() {
	a := New(Options{})

	out, err := a.Assemble(Input{
		ChangeType: models.ChangeTypeChange,
		Entity:     article{},
		Decision:   models.Diff(),
		Before:     models.FieldMap{"Title": "Old"},
		After:      models.FieldMap{"Title": "New"},
		Metadata:   s.meta,
	})
	s.Require().NoError(err)
	s.Require().False(out.Skipped())

	r := out.Record
	s.Equal(models.ChangeTypeChange, r.ChangeType)
	s.Equal("Article", r.EntityType)
	s.Equal("42", r.EntityID)
	s.Equal("Hello World", r.EntityTitle)
	s.Equal(models.StageDraft, r.Stage)
	s.Equal("7", r.ActorID)
	s.Equal("editor@example.com", r.ActorEmail)
	s.Equal(s.meta.RequestURL, r.RequestURL)
	s.Equal(s.meta.Referer, r.Referer)
	s.Equal("203.0.113.9", r.RemoteAddress)
	s.Equal("Mozilla/5.0", r.UserAgent)

	before, err := codec.DecodeFields(r.Before)
	s.Require().NoError(err)
	after, err := codec.DecodeFields(r.After)
	s.Require().NoError(err)
	s.Equal(models.FieldMap{"Title": "Old"}, before)
	s.Equal(models.FieldMap{"Title": "New"}, after)
}

func (s *AssemblerSuite) TestSnapshotLeavesOtherSideAbsent() {
	a := New(Options{})

	out, err := a.Assemble(Input{
		ChangeType: models.ChangeTypePublish,
		Entity:     article{},
		Decision:   models.Snapshot(models.DirectionAfter),
		After:      models.FieldMap{"Title": "New", "Body": "Text"},
		Metadata:   s.meta,
	})
	s.Require().NoError(err)

	s.Nil(out.Record.Before)
	after, err := codec.DecodeFields(out.Record.After)
	s.Require().NoError(err)
	s.Equal(models.FieldMap{"Title": "New", "Body": "Text"}, after)
}

func (s *AssemblerSuite) TestRequestParamsOmittedByDefault() {
	a := New(Options{})

	out, err := a.Assemble(Input{
		ChangeType: models.ChangeTypeChange,
		Entity:     article{},
		Decision:   models.Diff(),
		Before:     models.FieldMap{},
		After:      models.FieldMap{},
		Metadata:   s.meta,
	})
	s.Require().NoError(err)

	s.Empty(out.Record.RawGetParams)
	s.Empty(out.Record.RawPostParams)
}

func (s *AssemblerSuite) TestRequestParamsCapturedWithBlacklist() {
	a := New(Options{
		SaveRequestParams:     true,
		RequestParamBlacklist: []string{"url", "SecurityID"},
	})

	out, err := a.Assemble(Input{
		ChangeType: models.ChangeTypeChange,
		Entity:     article{},
		Decision:   models.Diff(),
		Before:     models.FieldMap{},
		After:      models.FieldMap{},
		Metadata:   s.meta,
	})
	s.Require().NoError(err)

	s.Equal("page=2", out.Record.RawGetParams)
	s.Equal("Title=New", out.Record.RawPostParams)

	// Caller maps are left untouched.
	s.Equal([]string{"/admin"}, s.meta.GetParams["url"])
	s.Equal([]string{"tok"}, s.meta.PostParams["SecurityID"])
}

func (s *AssemblerSuite) TestSerializationFailureProducesNoRecord() {
	a := New(Options{})

	out, err := a.Assemble(Input{
		ChangeType: models.ChangeTypeChange,
		Entity:     article{},
		Decision:   models.Diff(),
		Before:     models.FieldMap{"Callback": func() {}},
		After:      models.FieldMap{"Callback": nil},
		Metadata:   s.meta,
	})

	s.Require().ErrorIs(err, models.ErrSerialization)
	s.Nil(out.Record)
}
