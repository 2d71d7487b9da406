// Package runtimeevent adapts between AWS Lambda's proxy event shapes
// (API Gateway v1/v2, ALB) and the core's HttpRequestEvent/HttpResponse
// types. It depends only on the core's public data types, not on
// supervisor, transport, or fastcgi, so the core stays usable without
// pulling in aws-lambda-go.
package runtimeevent

import (
	"encoding/base64"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/faas-bridge/fpm-bridge/translate"
)

// FromAPIGatewayV1 adapts a REST API (v1) proxy request. API Gateway v1
// carries both single-value and multi-value header maps; MultiValueHeaders
// wins when present, matching how the runtime actually populates both.
func FromAPIGatewayV1(req events.APIGatewayProxyRequest) translate.HttpRequestEvent {
	headers := mergeHeaderSources(req.Headers, req.MultiValueHeaders)
	query := mergeQuerySources(req.QueryStringParameters, req.MultiValueQueryStringParameters)

	return translate.HttpRequestEvent{
		Method:         req.HTTPMethod,
		URI:            requestURI(req.Path, query),
		Path:           req.Path,
		QueryString:    query,
		Protocol:       "HTTP/1.1",
		ServerName:     headerValue(headers, "host"),
		ServerPort:     "443",
		RemotePort:     "0",
		Headers:        headers,
		ContentType:    headerValue(headers, "content-type"),
		Body:           decodeBody(req.Body, req.IsBase64Encoded),
		HasMultiHeader: false,
		RequestContext: req.RequestContext,
	}
}

// FromAPIGatewayV2 adapts an HTTP API (v2) proxy request. V2 always uses
// ordered, comma-joined single-value headers plus a separate Cookies
// slice; multi-value handling is selected on the way out, not the way in.
func FromAPIGatewayV2(req events.APIGatewayV2HTTPRequest) translate.HttpRequestEvent {
	headers := splitCommaJoinedHeaders(req.Headers)
	query := req.RawQueryString

	return translate.HttpRequestEvent{
		Method:         req.RequestContext.HTTP.Method,
		URI:            requestURI(req.RawPath, query),
		Path:           req.RawPath,
		QueryString:    query,
		Protocol:       req.RequestContext.HTTP.Protocol,
		ServerName:     headerValue(headers, "host"),
		ServerPort:     "443",
		RemotePort:     "0",
		Headers:        headers,
		ContentType:    headerValue(headers, "content-type"),
		Body:           decodeBody(req.Body, req.IsBase64Encoded),
		HasMultiHeader: true,
		RequestContext: req.RequestContext,
	}
}

// FromALB adapts an Application Load Balancer target-group request.
// MultiValueHeaders is only populated when the target group has
// multi-value headers enabled; its presence is what decides hasMultiHeader.
func FromALB(req events.ALBTargetGroupRequest) translate.HttpRequestEvent {
	multiValue := len(req.MultiValueHeaders) > 0
	headers := mergeHeaderSources(req.Headers, req.MultiValueHeaders)
	query := mergeQuerySources(req.QueryStringParameters, req.MultiValueQueryStringParameters)

	return translate.HttpRequestEvent{
		Method:         req.HTTPMethod,
		URI:            requestURI(req.Path, query),
		Path:           req.Path,
		QueryString:    query,
		Protocol:       "HTTP/1.1",
		ServerName:     headerValue(headers, "host"),
		ServerPort:     "443",
		RemotePort:     "0",
		Headers:        headers,
		ContentType:    headerValue(headers, "content-type"),
		Body:           decodeBody(req.Body, req.IsBase64Encoded),
		HasMultiHeader: multiValue,
		RequestContext: req.RequestContext,
	}
}

// ToAPIGatewayV1 renders an HttpResponse back as a v1 proxy response.
func ToAPIGatewayV1(resp *translate.HttpResponse) events.APIGatewayProxyResponse {
	single, multi := splitHeaders(resp.Headers)
	return events.APIGatewayProxyResponse{
		StatusCode:        resp.Status,
		Headers:           single,
		MultiValueHeaders: multi,
		Body:              string(resp.Body),
	}
}

// ToAPIGatewayV2 renders an HttpResponse back as a v2 HTTP API response.
func ToAPIGatewayV2(resp *translate.HttpResponse) events.APIGatewayV2HTTPResponse {
	single, _ := splitHeaders(resp.Headers)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: resp.Status,
		Headers:    single,
		Body:       string(resp.Body),
	}
}

// ToALB renders an HttpResponse back as an ALB target-group response.
func ToALB(resp *translate.HttpResponse) events.ALBTargetGroupResponse {
	single, multi := splitHeaders(resp.Headers)
	return events.ALBTargetGroupResponse{
		StatusCode:        resp.Status,
		StatusDescription: "",
		Headers:           single,
		MultiValueHeaders: multi,
		Body:              string(resp.Body),
	}
}

func splitHeaders(headers map[string]translate.HeaderValue) (single map[string]string, multi map[string][]string) {
	single = make(map[string]string, len(headers))
	multi = make(map[string][]string, len(headers))
	for name, v := range headers {
		if v.IsMulti {
			multi[name] = v.Multi
			if len(v.Multi) > 0 {
				single[name] = v.Multi[len(v.Multi)-1]
			}
			continue
		}
		single[name] = v.Single
	}
	return single, multi
}

func mergeHeaderSources(single map[string]string, multi map[string][]string) map[string][]string {
	out := make(map[string][]string, len(single)+len(multi))
	for name, v := range single {
		out[strings.ToLower(name)] = []string{v}
	}
	for name, values := range multi {
		out[strings.ToLower(name)] = values
	}
	return out
}

// splitCommaJoinedHeaders undoes API Gateway v2's comma-joining of
// multi-value headers into a single string per RFC 7230's list syntax.
func splitCommaJoinedHeaders(headers map[string]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for name, joined := range headers {
		parts := strings.Split(joined, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		out[strings.ToLower(name)] = parts
	}
	return out
}

func headerValue(headers map[string][]string, name string) string {
	values := headers[name]
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

func mergeQuerySources(single map[string]string, multi map[string][]string) string {
	parts := make([]string, 0, len(single)+len(multi))
	for name, values := range multi {
		for _, v := range values {
			parts = append(parts, name+"="+v)
		}
	}
	if len(multi) == 0 {
		for name, v := range single {
			parts = append(parts, name+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

func requestURI(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

func decodeBody(body string, isBase64 bool) []byte {
	if !isBase64 {
		return []byte(body)
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		// Malformed base64 from the platform itself is not something the
		// adapter can recover from; fall back to the raw bytes rather than
		// dropping the request body silently.
		return []byte(body)
	}
	return decoded
}
