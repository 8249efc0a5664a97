package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/stanstork/monev-api/internal/activity"
)

type originKey struct{}

// OriginMiddleware captures the client address and user agent once per request.
func OriginMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := activity.Origin{
			SourceAddress: clientAddress(r),
			UserAgent:     strings.TrimSpace(r.UserAgent()),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), originKey{}, origin)))
	})
}

// OriginFromRequest returns the captured origin, or derives it when the middleware did not run.
func OriginFromRequest(r *http.Request) activity.Origin {
	if origin, ok := r.Context().Value(originKey{}).(activity.Origin); ok {
		return origin
	}
	return activity.Origin{SourceAddress: clientAddress(r), UserAgent: strings.TrimSpace(r.UserAgent())}
}

// clientAddress prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer.
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
