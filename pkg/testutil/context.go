package testutil

import (
	"net/http"

	"datachange/pkg/requestcontext"
)

// WithActor adds an acting identity to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithActor(req *http.Request, actorID, email string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actorID, email))
}

// WithStage sets the reading stage directly, bypassing the ?stage= parameter.
func WithStage(req *http.Request, stage string) *http.Request {
	return req.WithContext(requestcontext.WithStage(req.Context(), stage))
}
