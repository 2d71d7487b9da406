package fcgibridge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
	"github.com/faas-bridge/fpm-bridge/fastcgi"
	"github.com/faas-bridge/fpm-bridge/interrupt"
	"github.com/faas-bridge/fpm-bridge/supervisor"
	"github.com/faas-bridge/fpm-bridge/translate"
)

// fakeSupervisor stands in for a live worker-runtime child process so
// HandleRequest can be exercised without spawning php-fpm.
type fakeSupervisor struct {
	state      supervisor.State
	endServing func() error
}

func (f *fakeSupervisor) Start() error { f.state = supervisor.Ready; return nil }
func (f *fakeSupervisor) Stop() error  { f.state = supervisor.Absent; return nil }
func (f *fakeSupervisor) State() supervisor.State { return f.state }
func (f *fakeSupervisor) BeginServing()           { f.state = supervisor.Serving }
func (f *fakeSupervisor) EndServing() error {
	f.state = supervisor.Ready
	if f.endServing != nil {
		return f.endServing()
	}
	return nil
}

// fakeSocket stands in for the Unix-socket transport.
type fakeSocket struct {
	send func(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error)
}

func (f *fakeSocket) SendRequest(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error) {
	return f.send(ctx, req)
}

func newTestBridge(sup *fakeSupervisor, sock *fakeSocket) *Bridge {
	sup.state = supervisor.Ready
	b := &Bridge{
		sup:         sup,
		sock:        sock,
		reqTr:       translate.NewRequestTranslator("/var/task/public/index.php"),
		respTr:      translate.NewResponseTranslator(),
		contractLog: &bytes.Buffer{},
	}
	b.interrupter = interrupt.New(func() bool {
		return sup.State() == supervisor.Ready || sup.State() == supervisor.Serving
	})
	return b
}

func fastFuture() int64 {
	return time.Now().Add(30 * time.Second).UnixMilli()
}

// TestHandleRequestHappyPath is scenario S1.
func TestHandleRequestHappyPath(t *testing.T) {
	sup := &fakeSupervisor{}
	sock := &fakeSocket{send: func(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error) {
		return &fastcgi.Response{Stdout: []byte("Status: 201\r\nContent-Type: text/plain\r\n\r\nok")}, nil
	}}
	b := newTestBridge(sup, sock)

	event := translate.HttpRequestEvent{Method: "GET", URI: "/hello?x=1", Path: "/hello", Headers: map[string][]string{"host": {"example.com"}}}
	ctx := translate.Context{AWSRequestID: "req-1", DeadlineMs: fastFuture()}

	resp, err := b.HandleRequest(event, ctx)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Status != 201 {
		t.Fatalf("Status = %d, want 201", resp.Status)
	}
	if resp.Headers["content-type"].Single != "text/plain" {
		t.Fatalf("content-type = %+v", resp.Headers["content-type"])
	}
	if string(resp.Body) != "ok" {
		t.Fatalf("Body = %q", resp.Body)
	}
	if sup.State() != supervisor.Ready {
		t.Fatalf("expected supervisor back in Ready, got %s", sup.State())
	}
}

// TestHandleRequestTransportFailure is scenario S3.
func TestHandleRequestTransportFailure(t *testing.T) {
	sup := &fakeSupervisor{}
	sock := &fakeSocket{send: func(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error) {
		return nil, bridgeerrors.ReadFailed(errors.New("boom"))
	}}
	b := newTestBridge(sup, sock)
	log := &bytes.Buffer{}
	b.contractLog = log

	resp, err := b.HandleRequest(translate.HttpRequestEvent{}, translate.Context{DeadlineMs: fastFuture()})
	if err != nil {
		t.Fatalf("HandleRequest should convert transport failure to a 500, got error: %v", err)
	}
	if resp.Status != 500 {
		t.Fatalf("Status = %d, want 500", resp.Status)
	}
	if resp.Headers["content-type"].Single != "text/html" {
		t.Fatalf("content-type = %+v", resp.Headers["content-type"])
	}
	if !strings.Contains(string(resp.Body), "Code: 4711") {
		t.Fatalf("body missing Code: 4711 marker: %q", resp.Body)
	}
	if !strings.Contains(log.String(), "Exception: ") {
		t.Fatalf("expected an Exception: log line, got %q", log.String())
	}
}

// TestHandleRequestDeadlineReachedPropagates is scenario S6.
func TestHandleRequestDeadlineReachedPropagates(t *testing.T) {
	sup := &fakeSupervisor{}
	sock := &fakeSocket{send: func(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error) {
		<-ctx.Done()
		return nil, bridgeerrors.ErrDeadlineReached
	}}
	b := newTestBridge(sup, sock)

	_, err := b.HandleRequest(translate.HttpRequestEvent{}, translate.Context{DeadlineMs: time.Now().Add(1500 * time.Millisecond).UnixMilli()})
	if !errors.Is(err, bridgeerrors.ErrDeadlineReached) {
		t.Fatalf("expected ErrDeadlineReached to propagate, got %v", err)
	}
}

func TestHandleRequestLogsURLAndPathContractLine(t *testing.T) {
	sup := &fakeSupervisor{}
	sock := &fakeSocket{send: func(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error) {
		return &fastcgi.Response{Stdout: []byte("\r\n\r\nbody")}, nil
	}}
	b := newTestBridge(sup, sock)
	log := &bytes.Buffer{}
	b.contractLog = log

	ctx := translate.Context{AWSRequestID: "req-42", DeadlineMs: fastFuture()}
	if _, err := b.HandleRequest(translate.HttpRequestEvent{URI: "/foo"}, ctx); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if !strings.Contains(log.String(), "URL RequestId: req-42 Path: /foo\n") {
		t.Fatalf("missing contract log line, got %q", log.String())
	}
}

func TestHandleRequestLivenessProbeFailureIsFatal(t *testing.T) {
	sup := &fakeSupervisor{endServing: func() error { return bridgeerrors.ErrWorkerCrashed }}
	sock := &fakeSocket{send: func(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error) {
		return &fastcgi.Response{Stdout: []byte("\r\n\r\nbody")}, nil
	}}
	b := newTestBridge(sup, sock)

	_, err := b.HandleRequest(translate.HttpRequestEvent{}, translate.Context{DeadlineMs: fastFuture()})
	if !errors.Is(err, bridgeerrors.ErrWorkerCrashed) {
		t.Fatalf("expected ErrWorkerCrashed to propagate, got %v", err)
	}
}
