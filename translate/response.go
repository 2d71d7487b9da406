package translate

import (
	"strconv"
	"strings"

	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
	"github.com/faas-bridge/fpm-bridge/fastcgi"
)

// HttpResponse is the normalized outbound response the Handler Facade hands
// back to the runtime loop.
type HttpResponse struct {
	Status  int
	Headers map[string]HeaderValue
	Body    []byte
}

// HeaderValue holds either a single string or an ordered list, matching
// whichever shape hasMultiHeader selected on the way in.
type HeaderValue struct {
	Single  string
	Multi   []string
	IsMulti bool
}

// ResponseTranslator parses a worker's FastCGI stdout into an HttpResponse.
type ResponseTranslator struct{}

// NewResponseTranslator returns a stateless response translator.
func NewResponseTranslator() *ResponseTranslator { return &ResponseTranslator{} }

// Translate parses resp.Stdout's header block (terminated by "\r\n\r\n")
// and body, honoring hasMultiHeader for how repeated header names surface.
func (t *ResponseTranslator) Translate(resp *fastcgi.Response, hasMultiHeader bool) (*HttpResponse, error) {
	headerBlock, body, err := splitHeaderBlock(resp.Stdout)
	if err != nil {
		return nil, err
	}

	ordered, err := parseHeaderLines(headerBlock)
	if err != nil {
		return nil, err
	}

	status := 200
	headers := make(map[string]HeaderValue, len(ordered))
	for _, h := range ordered {
		name := strings.ToLower(h.name)
		if name == "status" {
			first := h.values[0]
			parsed, err := strconv.Atoi(strings.TrimSpace(first))
			if err != nil {
				return nil, bridgeerrors.NewProtocolError("non-numeric Status header: " + first)
			}
			status = parsed
			continue
		}
		headers[name] = mergeHeaderValue(headers[name], h.values, hasMultiHeader)
	}

	return &HttpResponse{Status: status, Headers: headers, Body: body}, nil
}

func mergeHeaderValue(existing HeaderValue, values []string, hasMultiHeader bool) HeaderValue {
	if !hasMultiHeader {
		return HeaderValue{Single: values[len(values)-1]}
	}
	if existing.IsMulti {
		existing.Multi = append(existing.Multi, values...)
		return existing
	}
	return HeaderValue{IsMulti: true, Multi: append([]string{}, values...)}
}

type headerLine struct {
	name   string
	values []string
}

// splitHeaderBlock separates the CRLF-CRLF-terminated header block from the
// body. A response with no blank-line terminator is malformed.
func splitHeaderBlock(stdout []byte) (headerBlock, body []byte, err error) {
	sep := []byte("\r\n\r\n")
	idx := indexOf(stdout, sep)
	if idx < 0 {
		return nil, nil, bridgeerrors.NewProtocolError("response missing header/body separator")
	}
	return stdout[:idx], stdout[idx+len(sep):], nil
}

func indexOf(haystack, needle []byte) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == string(needle) {
			return i
		}
	}
	return -1
}

// parseHeaderLines splits a "\r\n"-joined header block into name/value
// pairs in the order they appeared, grouping repeated names together while
// preserving each occurrence's individual value.
func parseHeaderLines(block []byte) ([]headerLine, error) {
	if len(block) == 0 {
		return nil, nil
	}
	lines := strings.Split(string(block), "\r\n")
	var ordered []headerLine
	seen := map[string]int{} // name -> index into ordered
	for _, line := range lines {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, bridgeerrors.NewProtocolError("malformed response header line: " + line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		lower := strings.ToLower(name)
		if idx, ok := seen[lower]; ok {
			ordered[idx].values = append(ordered[idx].values, value)
			continue
		}
		seen[lower] = len(ordered)
		ordered = append(ordered, headerLine{name: name, values: []string{value}})
	}
	return ordered, nil
}
