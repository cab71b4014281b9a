package proxy

import (
	"net"
	"net/url"
	"sync/atomic"

	"github.com/pkg/errors"
)

// A Backends walks through the configured backend addresses one at a time.
// DSN form: tcp://listen-host:port?backend=host:port&backend=host:port
type Backends struct {
	frontend *net.TCPAddr
	backends []*net.TCPAddr
	index    int32
}

// ParseBackends returns the frontend and backends extracted from the DSN.
func ParseBackends(dsn string) (*Backends, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse DSN %s", dsn)
	}
	if u.Scheme != "tcp" {
		return nil, errors.Errorf("unsupported protocol: %s", u.Scheme)
	}

	targets := u.Query()["backend"]
	if len(targets) == 0 {
		return nil, errors.Errorf("no backend in DSN %s", dsn)
	}

	b := &Backends{
		index:    -1,
		backends: make([]*net.TCPAddr, len(targets)),
	}

	b.frontend, err = net.ResolveTCPAddr("tcp", u.Host)
	if err != nil {
		return nil, errors.Wrap(err, "frontend")
	}

	for i, target := range targets {
		b.backends[i], err = net.ResolveTCPAddr("tcp", target)
		if err != nil {
			return nil, errors.Wrap(err, "backend")
		}
	}

	return b, nil
}

// Frontend returns the listening address of the proxy.
func (b *Backends) Frontend() *net.TCPAddr {
	return b.frontend
}

// Next returns the backend on which the next connection is forwarded to.
func (b *Backends) Next() *net.TCPAddr {
	index := atomic.AddInt32(&b.index, 1)
	return b.backends[int(index)%len(b.backends)]
}

// All returns every configured backend.
func (b *Backends) All() []*net.TCPAddr {
	return b.backends
}
