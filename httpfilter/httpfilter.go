// Package httpfilter binds a Filter to an HTTP handler chain: it extracts the
// client address of each request and turns the filter's verdict into a pass
// or a rejection.
package httpfilter

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/mdouchement/ipfilter"
	"github.com/mdouchement/logger"
)

// Proxy headers carrying a candidate client IP, in priority order.
// The first header holding a parseable address wins.
var headers = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
	"X-Forwarded-For",
}

// ClientIP extracts the client address of the request: trusted proxy headers
// first, then the socket address.
func ClientIP(r *http.Request) (netip.Addr, bool) {
	for _, header := range headers {
		v := r.Header.Get(header)
		if v == "" {
			continue
		}

		// X-Forwarded-For may hold a chain; the first hop is the client.
		candidate := strings.TrimSpace(strings.Split(v, ",")[0])
		if addr, err := netip.ParseAddr(candidate); err == nil {
			return addr.Unmap(), true
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Options tunes the middleware.
type Options struct {
	// Logger, when set, receives rejection diagnostics.
	Logger logger.Logger
	// DenyHandler serves rejected requests. Defaults to 403 "Access denied".
	DenyHandler http.Handler
	// OnDecision, when set, is called for every evaluated request.
	OnDecision func(addr netip.Addr, blocked bool)
}

// Middleware wraps next with f. A request without an extractable client IP is
// rejected, as is a request the filter cannot evaluate: the transport layer
// does not guess when the engine signals a contract violation.
func Middleware(f ipfilter.Filter, opts Options) func(next http.Handler) http.Handler {
	deny := opts.DenyHandler
	if deny == nil {
		deny = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Access denied", http.StatusForbidden)
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := ClientIP(r)
			if !ok {
				if opts.Logger != nil {
					opts.Logger.Warnf("No client IP found in request, rejecting")
				}
				http.Error(w, "IP not found", http.StatusForbidden)
				return
			}

			blocked, err := f.Blocked(addr)
			if err != nil {
				if opts.Logger != nil {
					opts.Logger.WithError(err).Errorf("Could not evaluate %s", addr)
				}
				deny.ServeHTTP(w, r)
				return
			}

			if opts.OnDecision != nil {
				opts.OnDecision(addr, blocked)
			}

			if blocked {
				deny.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
