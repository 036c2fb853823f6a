package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"certifier/pkg/requestcontext"
)

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them to the context for use by handlers and services.
// This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), raw)
		ctx = requestcontext.WithClientInfo(ctx, ParseUserAgent(raw))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseUserAgent summarizes a User-Agent header.
func ParseUserAgent(raw string) requestcontext.Client {
	if raw == "" {
		return requestcontext.Client{}
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	return requestcontext.Client{
		Browser: browser,
		OS:      ua.OS(),
		Bot:     ua.Bot(),
	}
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" or "[::1]:port"
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
