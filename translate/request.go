// Package translate implements the Request and Response Translators: the
// two pure, side-effect-free mappings between the bridge's HTTP-shaped data
// and the FastCGI CGI/1.1 environment the worker runtime expects.
package translate

import (
	"encoding/json"
	"strings"

	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
	"github.com/faas-bridge/fpm-bridge/fastcgi"
)

// HttpRequestEvent is the normalized inbound event the runtime loop hands
// to the Handler Facade, already stripped of any particular FaaS platform's
// event-schema quirks.
type HttpRequestEvent struct {
	Method         string
	URI            string
	Path           string
	QueryString    string
	Protocol       string
	ServerName     string
	ServerPort     string
	RemotePort     string
	Headers        map[string][]string // lower-cased name -> ordered values
	ContentType    string
	Body           []byte
	HasMultiHeader bool
	RequestContext any // opaque, serialized verbatim into LAMBDA_REQUEST_CONTEXT
}

// Context carries the invocation-scoped fields that ride along outside the
// HTTP event proper.
type Context struct {
	AWSRequestID string
	DeadlineMs   int64
	Carry        any // arbitrary extra fields serialized verbatim
}

// RequestTranslator builds FastCGI responder requests against a fixed
// script path, the way a single-application php-fpm pool is always pointed
// at the same front controller.
type RequestTranslator struct {
	ScriptFilename string
}

// NewRequestTranslator returns a translator that targets scriptFilename as
// SCRIPT_FILENAME on every request.
func NewRequestTranslator(scriptFilename string) *RequestTranslator {
	return &RequestTranslator{ScriptFilename: scriptFilename}
}

// Translate builds the responder FastCGI request for event under ctx.
func (t *RequestTranslator) Translate(event HttpRequestEvent, ctx Context) (*fastcgi.Request, error) {
	params := map[string]string{
		"REMOTE_ADDR":     "127.0.0.1",
		"SERVER_ADDR":     "127.0.0.1",
		"SCRIPT_FILENAME": t.ScriptFilename,
		"REQUEST_METHOD":  event.Method,
		"REQUEST_URI":     event.URI,
		"SERVER_NAME":     event.ServerName,
		"SERVER_PROTOCOL": event.Protocol,
		"SERVER_PORT":     event.ServerPort,
		"REMOTE_PORT":     event.RemotePort,
		"PATH_INFO":       event.Path,
		"QUERY_STRING":    event.QueryString,
	}
	if event.ContentType != "" {
		params["CONTENT_TYPE"] = event.ContentType
	}

	invocationJSON, err := json.Marshal(ctx)
	if err != nil {
		return nil, bridgeerrors.NewProtocolError("marshal invocation context: " + err.Error())
	}
	params["LAMBDA_INVOCATION_CONTEXT"] = string(invocationJSON)

	requestContextJSON, err := json.Marshal(event.RequestContext)
	if err != nil {
		return nil, bridgeerrors.NewProtocolError("marshal request context: " + err.Error())
	}
	params["LAMBDA_REQUEST_CONTEXT"] = string(requestContextJSON)
	// Deprecated alias, kept for backwards compatibility with worker code
	// that still reads the old name.
	params["LAMBDA_CONTEXT"] = string(requestContextJSON)

	for name, values := range event.Headers {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		for _, v := range values {
			// Later values win under the same key; this loop's ordering is
			// exactly the observable last-write-wins behavior.
			params[key] = v
		}
	}

	return &fastcgi.Request{Params: params, Stdin: event.Body}, nil
}
