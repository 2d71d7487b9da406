// Command fpmbridge is the real AWS Lambda entrypoint: it wires the
// Handler Facade to the Lambda runtime loop via aws-lambda-go, adapting
// whichever proxy event shape the function's trigger delivers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/faas-bridge/fpm-bridge/bridgeconfig"
	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
	"github.com/faas-bridge/fpm-bridge/bridgelog"
	"github.com/faas-bridge/fpm-bridge/fcgibridge"
	"github.com/faas-bridge/fpm-bridge/runtimeevent"
	"github.com/faas-bridge/fpm-bridge/translate"
)

func main() {
	cfg, err := bridgeconfig.Load(os.Getenv("FPM_BRIDGE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fpmbridge: %s\n", err)
		os.Exit(1)
	}

	log := bridgelog.Default(os.Stderr)
	bridge := fcgibridge.New(cfg, log, os.Stderr)

	if err := bridge.Start(); err != nil {
		log.Error("failed to start worker runtime", "error", err)
		os.Exit(1)
	}
	defer bridge.Stop()

	lambda.Start(func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		return handle(ctx, bridge, raw)
	})
}

// handle adapts one raw JSON Lambda event (whichever trigger is
// configured: REST API, HTTP API, or ALB) into the core pipeline and back.
func handle(ctx context.Context, bridge *fcgibridge.Bridge, raw json.RawMessage) (json.RawMessage, error) {
	invocation := invocationContext(ctx)

	if req, ok := decodeALB(raw); ok {
		return dispatch(bridge, runtimeevent.FromALB(req), invocation, runtimeevent.ToALB)
	}
	if req, ok := decodeV2(raw); ok {
		return dispatch(bridge, runtimeevent.FromAPIGatewayV2(req), invocation, runtimeevent.ToAPIGatewayV2)
	}
	req, err := decodeV1(raw)
	if err != nil {
		return nil, err
	}
	return dispatch(bridge, runtimeevent.FromAPIGatewayV1(req), invocation, runtimeevent.ToAPIGatewayV1)
}

func dispatch[T any](bridge *fcgibridge.Bridge, event translate.HttpRequestEvent, ctx translate.Context, render func(*translate.HttpResponse) T) (json.RawMessage, error) {
	resp, err := bridge.HandleRequest(event, ctx)
	if err != nil {
		// A Fatal-kind error means the worker is poisoned for the rest of
		// this sandbox's lifetime. Returning it to lambda.Start as an
		// ordinary handler error would leave the process (and the broken
		// worker) warm for the next invocation, since Lambda only recycles
		// the execution environment on process exit or panic, not on a
		// non-nil handler error.
		if bridgeerrors.IsFatal(err) {
			fmt.Fprintf(os.Stderr, "fpmbridge: fatal worker error, terminating sandbox: %s\n", err)
			os.Exit(1)
		}
		return nil, err
	}
	return json.Marshal(render(resp))
}

func invocationContext(ctx context.Context) translate.Context {
	out := translate.Context{}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		out.AWSRequestID = lc.AwsRequestID
	}
	if deadline, ok := ctx.Deadline(); ok {
		out.DeadlineMs = deadline.UnixMilli()
	}
	return out
}

func decodeALB(raw json.RawMessage) (events.ALBTargetGroupRequest, bool) {
	var req events.ALBTargetGroupRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RequestContext.ELB.TargetGroupArn == "" {
		return events.ALBTargetGroupRequest{}, false
	}
	return req, true
}

func decodeV2(raw json.RawMessage) (events.APIGatewayV2HTTPRequest, bool) {
	var req events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Version != "2.0" {
		return events.APIGatewayV2HTTPRequest{}, false
	}
	return req, true
}

func decodeV1(raw json.RawMessage) (events.APIGatewayProxyRequest, error) {
	var req events.APIGatewayProxyRequest
	err := json.Unmarshal(raw, &req)
	return req, err
}
