package proxy_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdouchement/ipfilter/proxy"
	"github.com/mdouchement/logger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logr := logrus.New()
	logr.SetOutput(io.Discard)
	return logger.WithLogger(context.Background(), logger.WrapLogrus(logr))
}

// echoServer accepts connections and echoes whatever it reads.
func echoServer(t *testing.T) net.Addr {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}(c)
		}
	}()

	return ln.Addr()
}

func TestTCPProxy(t *testing.T) {
	backend := echoServer(t)

	var allow atomic.Bool
	allow.Store(true)

	backends, err := proxy.ParseBackends(fmt.Sprintf("tcp://127.0.0.1:0?backend=%s", backend))
	require.NoError(t, err)

	p, err := proxy.NewTCPProxy(testContext(), backends, func(_ context.Context, addr netip.Addr) bool {
		assert.Equal(t, "127.0.0.1", addr.String())
		return allow.Load()
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	go p.Run()

	// Accepted connection: bytes flow both ways.
	c, err := net.DialTimeout("tcp", p.FrontendAddr().String(), time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)

	buffer := make([]byte, 4)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadFull(c, buffer)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buffer))

	// Rejected connection: closed before reaching the backend.
	allow.Store(false)

	c2, err := net.DialTimeout("tcp", p.FrontendAddr().String(), time.Second)
	require.NoError(t, err)
	defer c2.Close()

	require.NoError(t, c2.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = c2.Read(buffer)
	assert.ErrorIs(t, err, io.EOF)
}
