package service

import (
	"context"

	"datachange/internal/changetrack/models"
	"datachange/pkg/requestcontext"
)

// MetadataFromContext collects the request-scoped values set by middleware
// (or requestcontext.ForCLI) into the metadata embedded in a record.
func MetadataFromContext(ctx context.Context) models.Metadata {
	stage := requestcontext.Stage(ctx)
	if stage == "" {
		stage = models.StageDraft
	}
	return models.Metadata{
		ActorID:       requestcontext.ActorID(ctx),
		ActorEmail:    requestcontext.ActorEmail(ctx),
		Stage:         stage,
		RequestURL:    requestcontext.RequestURL(ctx),
		Referer:       requestcontext.Referer(ctx),
		RemoteAddress: requestcontext.ClientIP(ctx),
		UserAgent:     requestcontext.UserAgent(ctx),
		GetParams:     requestcontext.GetParams(ctx),
		PostParams:    requestcontext.PostParams(ctx),
	}
}
