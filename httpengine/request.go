package httpengine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxHeaderBytes bounds how much of a connection's header section this
// engine will buffer before giving up on the request entirely.
const maxHeaderBytes = 16384

// maxBodyBytes bounds a request's Content-Length.
const maxBodyBytes = 1048576

// requestDeadline is the overall elapsed-time cap for reading one request,
// from the first byte of the request line to the last byte of the body.
const requestDeadline = 10 * time.Second

// parseError carries the status this engine should answer with when
// request parsing fails partway through.
type parseError struct {
	status status
}

func (e parseError) Error() string { return fmt.Sprintf("httpengine: parse error (%d)", e.status) }

// request is the hand-parsed HTTP/1.1 request this engine understands. It
// deliberately supports only what the routing table needs: a method, a
// path, a header map, and a body.
type request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Header looks up a header by case-insensitive key.
func (r request) Header(key string) string {
	return r.Headers[strings.ToLower(key)]
}

// readRequest parses exactly one HTTP/1.1 request from conn, enforcing the
// size and time bounds the engine is specified to hold a connection to.
func readRequest(conn net.Conn) (request, error) {
	deadline := time.Now().Add(requestDeadline)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return request{}, err
	}

	reader := bufio.NewReader(io.LimitReader(conn, maxHeaderBytes+1))

	line, err := readLine(reader)
	if err != nil {
		if errors.Is(err, errLineTooLong) {
			return request{}, parseError{status: statusPayloadTooLarge}
		}
		if isTimeout(err) {
			return request{}, parseError{status: statusRequestTimeout}
		}
		return request{}, parseError{status: statusBadRequest}
	}

	method, path, err := parseRequestLine(line)
	if err != nil {
		return request{}, parseError{status: statusBadRequest}
	}

	headers := map[string]string{}
	headerBytes := len(line)
	for {
		hline, err := readLine(reader)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return request{}, parseError{status: statusPayloadTooLarge}
			}
			if isTimeout(err) {
				return request{}, parseError{status: statusRequestTimeout}
			}
			return request{}, parseError{status: statusBadRequest}
		}
		headerBytes += len(hline)
		if headerBytes > maxHeaderBytes {
			return request{}, parseError{status: statusPayloadTooLarge}
		}
		if hline == "" {
			break
		}
		key, value, ok := parseHeaderLine(hline)
		if !ok {
			return request{}, parseError{status: statusBadRequest}
		}
		headers[strings.ToLower(key)] = value
	}

	contentLength := 0
	if raw, ok := headers["content-length"]; ok {
		contentLength, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || contentLength < 0 {
			return request{}, parseError{status: statusBadRequest}
		}
	}
	if contentLength > maxBodyBytes {
		return request{}, parseError{status: statusPayloadTooLarge}
	}

	body := make([]byte, contentLength)
	if contentLength > 0 {
		// Body reads are no longer bounded by the header-section limit
		// reader above, since that reader was sized for the header
		// section only; read directly from the connection with the same
		// connection-wide deadline already in force.
		if _, err := io.ReadFull(io.MultiReader(reader, conn), body); err != nil {
			if isTimeout(err) {
				return request{}, parseError{status: statusRequestTimeout}
			}
			return request{}, parseError{status: statusBadRequest}
		}
	}

	if time.Now().After(deadline) {
		return request{}, parseError{status: statusRequestTimeout}
	}

	return request{Method: method, Path: path, Headers: headers, Body: body}, nil
}

var errLineTooLong = errors.New("httpengine: line exceeds header bound")

// readLine reads up to and including the CRLF, returning the line with the
// trailing CRLF stripped. It is bounded by maxHeaderBytes to guard against
// an attacker who sends a header line with no terminator at all.
func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		sb.WriteString(chunk)
		if sb.Len() > maxHeaderBytes {
			return "", errLineTooLong
		}
		if err != nil {
			return "", err
		}
		break
	}
	line := sb.String()
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func parseRequestLine(line string) (method, path string, err error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("httpengine: malformed request line %q", line)
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return "", "", fmt.Errorf("httpengine: unsupported protocol %q", parts[2])
	}
	return parts[0], parts[1], nil
}

func parseHeaderLine(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
