// Package proxy forwards TCP traffic to round-robin backends, submitting the
// source address of every new connection to a decision callback before any
// byte is relayed.
package proxy

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

// A Decision is called with the source address of every accepted connection.
// When it returns false, the connection is closed without reaching a backend.
type Decision func(ctx context.Context, addr netip.Addr) bool

// A Proxy forwards traffic between a frontend and its backends.
type Proxy interface {
	// Run accepts and forwards connections until the proxy is closed.
	Run()
	// Close stops the proxy and releases its listener.
	Close()
	// FrontendAddr returns the address the proxy listens on.
	FrontendAddr() net.Addr
}

// IsIgnorableError returns true if the net error is part of the normal churn
// of a forwarding proxy.
func IsIgnorableError(err error) bool {
	err = errors.Cause(err)

	ok := strings.HasSuffix(err.Error(), "no such host") ||
		strings.HasSuffix(err.Error(), "connection reset by peer") ||
		strings.HasSuffix(err.Error(), "connection refused")
	if ok {
		return ok
	}

	if err, ok := err.(net.Error); ok {
		return err.Timeout()
	}

	return false
}
