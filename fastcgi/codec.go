package fastcgi

import (
	"bytes"
	"io"

	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
)

// requestID is fixed and reused across every request this bridge ever
// sends. The worker is contacted serially over one connection per request,
// never multiplexed, so request id 1 is never ambiguous.
const requestID uint16 = 1

// Request is a responder-role FastCGI request: a parameter set (the CGI/1.1
// environment) plus a stdin stream (the HTTP request body).
type Request struct {
	Params map[string]string
	Stdin  []byte
}

// Response is what comes back on stdout once the worker finishes: the raw
// header+body bytes the Response Translator will parse, plus anything the
// worker wrote to stderr (forwarded verbatim to the sandbox's own stderr by
// the caller, not interpreted here).
type Response struct {
	Stdout []byte
	Stderr []byte
}

// Encode serializes a responder request as a stream of FastCGI records:
// BEGIN_REQUEST, one or more PARAMS records terminated by an empty PARAMS
// record, then one or more STDIN records terminated by an empty STDIN
// record.
func Encode(req *Request) []byte {
	var buf bytes.Buffer

	buf.Write(beginRequestRecord())
	buf.Write(paramsRecords(req.Params))
	buf.Write(stdinRecords(req.Stdin))

	return buf.Bytes()
}

func beginRequestRecord() []byte {
	body := []byte{
		uint8(RoleResponder >> 8), uint8(RoleResponder),
		flagKeepConn,
		0, 0, 0, 0, 0, // reserved
	}
	h := header{version: version1, recType: typeBeginRequest, requestID: requestID, contentLength: uint16(len(body))}
	return append(h.marshal(), body...)
}

// paramsRecords encodes the CGI environment as FCGI_PARAMS records,
// splitting the payload into at-most-64KB chunks, and appends the empty
// PARAMS record that terminates the stream.
func paramsRecords(params map[string]string) []byte {
	var payload bytes.Buffer
	for name, value := range params {
		writeNameValuePair(&payload, name, value)
	}
	return streamRecords(typeParams, payload.Bytes())
}

func stdinRecords(body []byte) []byte {
	return streamRecords(typeStdin, body)
}

// streamRecords chunks payload into <=maxContent record bodies of the given
// type, padding each to a multiple of 8 bytes, and appends the empty record
// that FastCGI uses to mark end-of-stream.
func streamRecords(t recType, payload []byte) []byte {
	var out bytes.Buffer
	for len(payload) > 0 {
		n := len(payload)
		if n > maxContent {
			n = maxContent
		}
		chunk := payload[:n]
		payload = payload[n:]

		pad := paddingFor(n)
		h := header{version: version1, recType: t, requestID: requestID, contentLength: uint16(n), paddingLength: uint8(pad)}
		out.Write(h.marshal())
		out.Write(chunk)
		out.Write(make([]byte, pad))
	}
	// terminating empty record
	h := header{version: version1, recType: t, requestID: requestID}
	out.Write(h.marshal())
	return out.Bytes()
}

func paddingFor(n int) int {
	rem := n % 8
	if rem == 0 {
		return 0
	}
	return 8 - rem
}

// writeNameValuePair appends one FastCGI name-value pair using the
// standard 1-or-4-byte length encoding: lengths under 128 fit in one byte,
// otherwise four bytes with the high bit set.
func writeNameValuePair(buf *bytes.Buffer, name, value string) {
	writeLength(buf, len(name))
	writeLength(buf, len(value))
	buf.WriteString(name)
	buf.WriteString(value)
}

func writeLength(buf *bytes.Buffer, n int) {
	if n < 128 {
		buf.WriteByte(uint8(n))
		return
	}
	buf.WriteByte(uint8(n>>24) | 0x80)
	buf.WriteByte(uint8(n >> 16))
	buf.WriteByte(uint8(n >> 8))
	buf.WriteByte(uint8(n))
}

// Decode reads FastCGI response records from r until END_REQUEST, and
// returns the accumulated stdout/stderr payloads. Any malformed header,
// truncated body, unexpected record type, or stream ending without
// END_REQUEST is reported as a *bridgeerrors.ProtocolError.
func Decode(r io.Reader) (*Response, error) {
	resp := &Response{}
	hdrBuf := make([]byte, headerLen)

	for {
		if _, err := io.ReadFull(r, hdrBuf); err != nil {
			if err == io.EOF {
				return nil, bridgeerrors.NewProtocolError("stream ended without END_REQUEST")
			}
			return nil, bridgeerrors.NewProtocolError("short read on record header: " + err.Error())
		}
		h, err := unmarshalHeader(hdrBuf)
		if err != nil {
			return nil, bridgeerrors.NewProtocolError(err.Error())
		}

		body := make([]byte, int(h.contentLength)+int(h.paddingLength))
		if len(body) > 0 {
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, bridgeerrors.NewProtocolError("short read on record body: " + err.Error())
			}
		}
		content := body[:h.contentLength]

		switch h.recType {
		case typeStdout:
			resp.Stdout = append(resp.Stdout, content...)
		case typeStderr:
			resp.Stderr = append(resp.Stderr, content...)
		case typeEndRequest:
			return resp, nil
		default:
			return nil, bridgeerrors.NewProtocolError("unexpected record type " + h.recType.String())
		}
	}
}
