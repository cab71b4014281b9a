package proxy

import (
	"context"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

// TCPProxy accepts TCP connections on its frontend and relays the accepted
// ones to the next backend.
type TCPProxy struct {
	ctx      context.Context
	listener *net.TCPListener
	backends *Backends
	decision Decision
}

// NewTCPProxy creates a TCPProxy listening on the frontend of backends.
func NewTCPProxy(ctx context.Context, backends *Backends, decision Decision) (*TCPProxy, error) {
	log := logger.LogWith(ctx)

	frontend := backends.Frontend()

	// Bind only to the frontend's address family.
	scheme := "tcp4"
	if frontend.IP.To4() == nil {
		scheme = "tcp6"
	}
	log.Infof("Listening on %s://%s forwarded to %v", scheme, frontend, backends.All())

	listener, err := net.ListenTCP(scheme, frontend)
	if err != nil {
		return nil, err
	}

	return &TCPProxy{
		ctx:      ctx,
		listener: listener,
		backends: backends,
		decision: decision,
	}, nil
}

// FrontendAddr returns the TCP address on which the proxy is listening.
// A frontend configured on port 0 reports the picked port.
func (p *TCPProxy) FrontendAddr() net.Addr {
	return p.listener.Addr()
}

// Run accepts connections and forwards the ones the decision lets through.
func (p *TCPProxy) Run() {
	log := logger.LogWith(p.ctx)

	for {
		c, err := p.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || p.ctx.Err() != nil {
				return
			}
			log.Errorf("Could not accept: %s", err)
			continue
		}

		addr, ok := netip.AddrFromSlice(c.RemoteAddr().(*net.TCPAddr).IP)
		if !ok || !p.decision(p.ctx, addr.Unmap()) {
			c.Close()
			continue
		}

		go func(local net.Conn) {
			remote, err := net.DialTCP("tcp", nil, p.backends.Next())
			if err != nil {
				local.Close()
				log.Errorf("Could not connect to backend: %s", err)
				return
			}

			err = p.relay(local, remote)
			if err != nil && !IsIgnorableError(err) {
				log.Errorf("Could not pipe the TCP connection: %s", err)
			}

			log.Debugf("Connection closed for %v", local.RemoteAddr())
		}(c)
	}
}

// relay pipes both directions until one side closes, then wakes the other
// goroutine through a short deadline.
func (p *TCPProxy) relay(local, remote net.Conn) error {
	defer local.Close()
	defer remote.Close()

	var err, err1 error
	var wg sync.WaitGroup
	const delay = time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()

		_, err1 = io.Copy(remote, local)
		remote.SetDeadline(time.Now().Add(delay)) //nolint:errcheck
	}()

	_, err = io.Copy(local, remote)
	local.SetDeadline(time.Now().Add(delay)) //nolint:errcheck

	wg.Wait()

	if err1 != nil {
		return err1
	}
	return err
}

// Close stops forwarding the traffic.
func (p *TCPProxy) Close() {
	p.listener.Close()
}
