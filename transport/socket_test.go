package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
	"github.com/faas-bridge/fpm-bridge/fastcgi"
)

// fakeWorker listens on a Unix socket and hands every accepted connection
// to respond, so SendRequest can be exercised without a real php-fpm
// binary.
func fakeWorker(t *testing.T, sockPath string, respond func(net.Conn)) net.Listener {
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			respond(conn)
		}
	}()
	return l
}

func endRequestResponse(stdout []byte) []byte {
	return append(append([]byte{
		1, 6, // version, STDOUT
		0, 1,
		byte(len(stdout) >> 8), byte(len(stdout)),
		0, 0,
	}, stdout...), []byte{
		1, 3, // version, END_REQUEST
		0, 1,
		0, 8,
		0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	}...)
}

func TestSendRequestReturnsDecodedResponse(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "worker.sock")
	l := fakeWorker(t, sockPath, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf) // drain the request
		conn.Write(endRequestResponse([]byte("Status: 200\r\n\r\nhi")))
	})
	defer l.Close()

	sock := New(sockPath)
	resp, err := sock.SendRequest(context.Background(), &fastcgi.Request{Params: map[string]string{"REQUEST_METHOD": "GET"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Stdout) != "Status: 200\r\n\r\nhi" {
		t.Fatalf("unexpected stdout: %q", resp.Stdout)
	}
}

func TestSendRequestConnectFailed(t *testing.T) {
	sock := New("/nonexistent/path/to.sock")
	_, err := sock.SendRequest(context.Background(), &fastcgi.Request{})
	var connErr *bridgeerrors.TransportError
	if !asTransportError(err, &connErr) || connErr.Op != "connect" {
		t.Fatalf("expected a connect TransportError, got %v", err)
	}
}

func TestSendRequestFailsWhenWorkerClosesWithoutEndRequest(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "worker.sock")
	l := fakeWorker(t, sockPath, func(conn net.Conn) {
		buf := make([]byte, 4096)
		conn.Read(buf)
		conn.Close() // closes mid-stream, before END_REQUEST
	})
	defer l.Close()

	sock := New(sockPath)
	_, err := sock.SendRequest(context.Background(), &fastcgi.Request{})
	if err == nil {
		t.Fatalf("expected an error when the worker hangs up early")
	}
}

func TestSendRequestReturnsDeadlineReachedWhenContextCancelled(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "worker.sock")
	block := make(chan struct{})
	l := fakeWorker(t, sockPath, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf)
		<-block // never respond; the caller's ctx cancellation must break the read
	})
	defer l.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	sock := New(sockPath)
	_, err := sock.SendRequest(ctx, &fastcgi.Request{})
	if !errors.Is(err, bridgeerrors.ErrDeadlineReached) {
		t.Fatalf("expected ErrDeadlineReached, got %v", err)
	}
}

func TestClassifyErrPreservesProtocolError(t *testing.T) {
	protoErr := bridgeerrors.NewProtocolError("short read on record header: boom")
	if classifyErr(context.Background(), protoErr) != protoErr {
		t.Fatalf("expected protocol error to pass through unwrapped")
	}
}

func TestClassifyErrWrapsPlainIOError(t *testing.T) {
	err := classifyErr(context.Background(), io.ErrUnexpectedEOF)
	te, ok := err.(*bridgeerrors.TransportError)
	if !ok || te.Op != "read" {
		t.Fatalf("expected a read TransportError, got %v", err)
	}
}

func TestClassifyErrPrefersDeadlineReachedWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := classifyErr(ctx, io.ErrUnexpectedEOF)
	if !errors.Is(err, bridgeerrors.ErrDeadlineReached) {
		t.Fatalf("expected ErrDeadlineReached, got %v", err)
	}
}

func asTransportError(err error, target **bridgeerrors.TransportError) bool {
	te, ok := err.(*bridgeerrors.TransportError)
	if !ok {
		return false
	}
	*target = te
	return true
}
