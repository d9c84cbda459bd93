// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; the tracker service reads them to build the
// metadata embedded into each record. Keeping the package free of net/http
// lets CLI commands and workers populate the same values.
//
// Usage in services (read values):
//
//	actor := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithActor(ctx, actorID, email)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests and CLI commands:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.ForCLI(ctx)
package requestcontext

import (
	"context"
	"net/url"
	"time"
)

// CLI is recorded as the URL and remote address of changes made outside an
// HTTP request.
const CLI = "CLI"

// Fallbacks recorded when an HTTP request lacks the information.
const (
	UnknownURL        = "Could not determine current URL"
	UnknownRemoteAddr = "Unknown remote addr"
)

// Context key types (unexported for encapsulation).
type (
	actorIDKey     struct{}
	actorEmailKey  struct{}
	stageKey       struct{}
	requestURLKey  struct{}
	refererKey     struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	getParamsKey   struct{}
	postParamsKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActorID     = actorIDKey{}
	ContextKeyActorEmail  = actorEmailKey{}
	ContextKeyStage       = stageKey{}
	ContextKeyRequestURL  = requestURLKey{}
	ContextKeyReferer     = refererKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyGetParams   = getParamsKey{}
	ContextKeyPostParams  = postParamsKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

func stringValue(ctx context.Context, key any) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// -----------------------------------------------------------------------------
// Actor
// -----------------------------------------------------------------------------

// ActorID retrieves the acting member's identifier. Empty when anonymous.
func ActorID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyActorID)
}

// ActorEmail retrieves the acting member's email address.
func ActorEmail(ctx context.Context) string {
	return stringValue(ctx, ContextKeyActorEmail)
}

// WithActor injects the acting member's ID and email into the context.
func WithActor(ctx context.Context, actorID, email string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyActorID, actorID)
	ctx = context.WithValue(ctx, ContextKeyActorEmail, email)
	return ctx
}

// -----------------------------------------------------------------------------
// Reading stage
// -----------------------------------------------------------------------------

// Stage retrieves the reading mode in effect for the request.
func Stage(ctx context.Context) string {
	return stringValue(ctx, ContextKeyStage)
}

// WithStage injects the reading mode.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// -----------------------------------------------------------------------------
// Request location (URL, referer, client IP, User-Agent)
// -----------------------------------------------------------------------------

// RequestURL retrieves the absolute URL of the current request.
func RequestURL(ctx context.Context) string {
	return stringValue(ctx, ContextKeyRequestURL)
}

// Referer retrieves the Referer header of the current request.
func Referer(ctx context.Context) string {
	return stringValue(ctx, ContextKeyReferer)
}

// WithRequestURL injects the request URL and referer.
func WithRequestURL(ctx context.Context, requestURL, referer string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyRequestURL, requestURL)
	ctx = context.WithValue(ctx, ContextKeyReferer, referer)
	return ctx
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	return stringValue(ctx, ContextKeyClientIP)
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	return stringValue(ctx, ContextKeyUserAgent)
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// ForCLI marks the context as originating from a command-line run: URL and
// remote address both read "CLI".
func ForCLI(ctx context.Context) context.Context {
	ctx = WithRequestURL(ctx, CLI, "")
	return context.WithValue(ctx, ContextKeyClientIP, CLI)
}

// -----------------------------------------------------------------------------
// Request parameters
// -----------------------------------------------------------------------------

// GetParams retrieves the query parameters of the current request.
func GetParams(ctx context.Context) url.Values {
	if v, ok := ctx.Value(ContextKeyGetParams).(url.Values); ok {
		return v
	}
	return nil
}

// PostParams retrieves the parsed form body of the current request.
func PostParams(ctx context.Context) url.Values {
	if v, ok := ctx.Value(ContextKeyPostParams).(url.Values); ok {
		return v
	}
	return nil
}

// WithParams injects query and form parameters.
func WithParams(ctx context.Context, get, post url.Values) context.Context {
	ctx = context.WithValue(ctx, ContextKeyGetParams, get)
	ctx = context.WithValue(ctx, ContextKeyPostParams, post)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyRequestID)
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
//   - CLI commands
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
