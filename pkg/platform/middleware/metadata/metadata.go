package metadata

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"datachange/internal/changetrack/models"
	"datachange/pkg/requestcontext"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// ClientMetadata captures everything a change record needs to know about the
// request: client IP, User-Agent, absolute URL, referer, reading stage,
// parameters, request ID and request time. Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		var post map[string][]string
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			// Only urlencoded bodies are consumed; JSON bodies are left for handlers.
			if err := r.ParseForm(); err == nil {
				post = r.PostForm
			}
		}

		ctx := r.Context()
		ctx = requestcontext.WithTime(ctx, time.Now())
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithClientMetadata(ctx, ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		ctx = requestcontext.WithRequestURL(ctx, CurrentURL(r), r.Header.Get("Referer"))
		ctx = requestcontext.WithStage(ctx, StageFromRequest(r))
		ctx = requestcontext.WithParams(ctx, r.URL.Query(), post)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StageFromRequest reads ?stage=Live or ?stage=Stage. Anything else means the
// draft stage.
func StageFromRequest(r *http.Request) string {
	if strings.EqualFold(r.URL.Query().Get("stage"), "Live") {
		return models.StageLive
	}
	return models.StageDraft
}

// CurrentURL renders the request as scheme://host:port/uri, always including
// the port.
func CurrentURL(r *http.Request) string {
	if r.Host == "" {
		return requestcontext.UnknownURL
	}

	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}

	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
		port = "80"
		if scheme == "https" {
			port = "443"
		}
	}

	return scheme + "://" + net.JoinHostPort(host, port) + r.URL.RequestURI()
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...).
	// The first one is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Used by nginx and other proxies
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if addr := r.RemoteAddr; addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}

	return requestcontext.UnknownRemoteAddr
}
