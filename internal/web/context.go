package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/lims/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx for the audit
// trail.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.WithRequester(ctx, core.Requester{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
}

// clientIP returns RemoteAddr without its port. TrustedRealIP has already
// replaced it with the forwarded address when the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
