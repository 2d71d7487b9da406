// Package fcgibridge implements the Handler Facade: the public
// start/handleRequest/stop surface the runtime loop drives, wiring together
// the Worker Supervisor, Request/Response Translators, Socket Transport,
// and Deadline Interrupter into one per-sandbox pipeline.
package fcgibridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/faas-bridge/fpm-bridge/bridgeconfig"
	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
	"github.com/faas-bridge/fpm-bridge/fastcgi"
	"github.com/faas-bridge/fpm-bridge/interrupt"
	"github.com/faas-bridge/fpm-bridge/supervisor"
	"github.com/faas-bridge/fpm-bridge/transport"
	"github.com/faas-bridge/fpm-bridge/translate"
)

// errorBody500 is the fixed HTML page returned on any per-invocation
// transport or protocol failure. The literal "Code: 4711" token is a
// stable marker operators key alerts off — never change it.
const errorBody500 = `<html><body><h1>500 Internal Server Error</h1><p>Code: 4711</p></body></html>`

// workerSupervisor is the slice of *supervisor.Supervisor the facade
// depends on. Narrowing to an interface lets tests exercise the full
// HandleRequest pipeline against an in-process fake instead of a spawned
// php-fpm child.
type workerSupervisor interface {
	Start() error
	Stop() error
	State() supervisor.State
	BeginServing()
	EndServing() error
}

// socketSender is the slice of *transport.Socket the facade depends on.
type socketSender interface {
	SendRequest(ctx context.Context, req *fastcgi.Request) (*fastcgi.Response, error)
}

// Bridge is one sandbox's Handler Facade instance: owns exactly one
// Supervisor, Interrupter, and pair of Translators, and is never called
// concurrently with itself per the single-threaded cooperative model.
type Bridge struct {
	sup         workerSupervisor
	sock        socketSender
	reqTr       *translate.RequestTranslator
	respTr      *translate.ResponseTranslator
	interrupter *interrupt.Interrupter
	log         *slog.Logger
	contractLog io.Writer
}

// New wires a Bridge from cfg. contractLog receives the exact-format
// contract log lines of the external interface (distinct from log, which
// carries structured lifecycle narration); pass os.Stderr for both in
// production.
func New(cfg *bridgeconfig.Config, log *slog.Logger, contractLog io.Writer) *Bridge {
	supCfg := supervisor.Config{
		SocketPath:            cfg.SocketPath,
		PidPath:               cfg.PidPath,
		ConfigPath:            cfg.ConfigPath,
		BinaryPath:            cfg.WorkerBinary,
		Stderr:                contractLog,
		ReadinessPollInterval: cfg.ReadinessPollInterval,
		ReadinessTimeout:      cfg.ReadinessTimeout,
		ReclaimPollInterval:   cfg.ReclaimPollInterval,
		ReclaimTimeout:        cfg.ReclaimTimeout,
		StopGrace:             cfg.StopGrace,
	}
	sup := supervisor.New(supCfg, log)

	b := &Bridge{
		sup:         sup,
		sock:        transport.NewWithTimeouts(cfg.SocketPath, cfg.ConnectTimeout, cfg.ReadTimeout),
		reqTr:       translate.NewRequestTranslator(cfg.ScriptFilename),
		respTr:      translate.NewResponseTranslator(),
		log:         log,
		contractLog: contractLog,
	}
	b.interrupter = interrupt.New(b.workerAttached)
	return b
}

func (b *Bridge) workerAttached() bool {
	return b.sup.State() == supervisor.Ready || b.sup.State() == supervisor.Serving
}

// Start spawns the worker runtime. Fatal on failure — the caller should
// treat a non-nil error as unrecoverable for this sandbox.
func (b *Bridge) Start() error {
	return b.sup.Start()
}

// Stop tears down the worker runtime. Idempotent.
func (b *Bridge) Stop() error {
	return b.sup.Stop()
}

// HandleRequest runs one invocation through the full pipeline. Transport
// and protocol failures are converted into the fixed 500 response;
// DeadlineReached propagates as an error so the caller's own application-
// level handling runs. The liveness probe always runs before return,
// regardless of which path got there.
func (b *Bridge) HandleRequest(event translate.HttpRequestEvent, ctx translate.Context) (*translate.HttpResponse, error) {
	fmt.Fprintf(b.contractLog, "URL RequestId: %s Path: %s\n", ctx.AWSRequestID, event.URI)

	b.sup.BeginServing()
	defer b.interrupter.Reset()

	reqCtx, err := b.arm(ctx)
	if err != nil {
		_ = b.sup.EndServing()
		return nil, err
	}

	fcgiReq, err := b.reqTr.Translate(event, ctx)
	if err != nil {
		fmt.Fprintf(b.contractLog, "Exception: %s\n", err)
		probeErr := b.sup.EndServing()
		if probeErr != nil {
			return nil, probeErr
		}
		return fixedErrorResponse(), nil
	}

	fcgiResp, err := b.sock.SendRequest(reqCtx, fcgiReq)
	if err != nil {
		if errors.Is(err, bridgeerrors.ErrDeadlineReached) {
			probeErr := b.sup.EndServing()
			return nil, firstNonNil(probeErr, err)
		}
		fmt.Fprintf(b.contractLog, "Exception: %s\n", err)
		probeErr := b.sup.EndServing()
		if probeErr != nil {
			return nil, probeErr
		}
		return fixedErrorResponse(), nil
	}

	resp, err := b.respTr.Translate(fcgiResp, event.HasMultiHeader)
	if err != nil {
		fmt.Fprintf(b.contractLog, "Exception: %s\n", err)
		probeErr := b.sup.EndServing()
		if probeErr != nil {
			return nil, probeErr
		}
		return fixedErrorResponse(), nil
	}

	if probeErr := b.sup.EndServing(); probeErr != nil {
		return nil, probeErr
	}
	return resp, nil
}

// arm enables the Deadline Interrupter for the remaining time in ctx, if
// the worker is in a state that can attach. An unavailable interrupter is
// fatal — the caller has no way to bound a hung request.
func (b *Bridge) arm(ctx translate.Context) (context.Context, error) {
	remainingMs := ctx.DeadlineMs - time.Now().UnixMilli()
	return b.interrupter.Enable(remainingMs)
}

func fixedErrorResponse() *translate.HttpResponse {
	return &translate.HttpResponse{
		Status: 500,
		Headers: map[string]translate.HeaderValue{
			"content-type": {Single: "text/html"},
		},
		Body: []byte(errorBody500),
	}
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
