// Package transport is the blocking Unix-domain-socket client that talks
// FastCGI to the worker runtime: one connection per request, serialized,
// never retried — retry policy belongs to the caller.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
	"github.com/faas-bridge/fpm-bridge/fastcgi"
)

const (
	// DefaultConnectTimeout bounds how long dialing the worker's socket may
	// take when a Socket is built via New without an explicit override.
	DefaultConnectTimeout = 1 * time.Second

	// DefaultReadTimeout bounds the entire request/response exchange, not
	// any single record within it, when built via New without an override.
	DefaultReadTimeout = 30 * time.Second
)

// Socket is a Unix-domain-socket client bound to one worker socket path.
type Socket struct {
	path           string
	connectTimeout time.Duration
	readTimeout    time.Duration
}

// New returns a client for the worker socket at path using the default
// timeouts. Dialing is deferred to SendRequest; constructing a Socket never
// touches the filesystem.
func New(path string) *Socket {
	return NewWithTimeouts(path, DefaultConnectTimeout, DefaultReadTimeout)
}

// NewWithTimeouts returns a client for the worker socket at path with
// caller-supplied connect/read timeouts, e.g. values loaded from
// bridgeconfig.Config so a YAML override actually takes effect.
func NewWithTimeouts(path string, connectTimeout, readTimeout time.Duration) *Socket {
	return &Socket{path: path, connectTimeout: connectTimeout, readTimeout: readTimeout}
}

// SendRequest serializes req, writes it to the worker over a fresh
// connection, and reads the response until END_REQUEST. The connection is
// always closed before returning, cleanly or otherwise — a request that
// unwinds mid-read (e.g. because the Deadline Interrupter fired and closed
// the socket out from under us) never leaves a half-consumed record lying
// around for a future call to trip over.
//
// ctx is the Deadline Interrupter's context, not a per-call timeout: a
// goroutine watches ctx.Done() for the lifetime of the exchange and closes
// conn the moment it fires, which is what turns a blocked Write or Read
// into an error here rather than a hang past the platform's own deadline.
func (s *Socket) SendRequest(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error) {
	conn, err := net.DialTimeout("unix", s.path, s.connectTimeout)
	if err != nil {
		return nil, bridgeerrors.ConnectFailed(err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, bridgeerrors.ConnectFailed(err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if _, err := conn.Write(fastcgi.Encode(req)); err != nil {
		return nil, classifyErr(ctx, err)
	}

	resp, err := fastcgi.Decode(conn)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}
	return resp, nil
}

// classifyErr turns a raw I/O failure from conn into the caller-visible
// error. A context cancellation always wins over whatever net.Conn.Close
// made the read or write look like, since the underlying error is just
// "use of closed network connection" once that races in.
func classifyErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return bridgeerrors.ErrDeadlineReached
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return bridgeerrors.Timeout(err)
	}
	// Decode already wraps malformed-protocol errors in
	// *bridgeerrors.ProtocolError; anything else reaching here is a plain
	// I/O failure on the read or write side.
	if _, ok := err.(*bridgeerrors.ProtocolError); ok {
		return err
	}
	return bridgeerrors.ReadFailed(err)
}
