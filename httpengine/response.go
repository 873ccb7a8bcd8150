package httpengine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net"
)

// writeJSON serializes body and writes a complete HTTP/1.1 response with
// explicit Content-Length and Content-Type headers, using the explicit
// reason phrase table rather than a generic status text lookup.
func writeJSON(conn net.Conn, code status, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		writeEmptyStatus(conn, statusBadRequest)
		return
	}
	header := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		int(code), code.reasonPhrase(), len(payload))
	_, _ = conn.Write([]byte(header))
	_, _ = conn.Write(payload)
}

// writeEmptyStatus writes a response with no body, used for structural
// parse failures where there is no JSON body worth constructing.
func writeEmptyStatus(conn net.Conn, code status) {
	header := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		int(code), code.reasonPhrase())
	_, _ = conn.Write([]byte(header))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}
