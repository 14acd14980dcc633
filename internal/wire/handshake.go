package wire

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strings"
)

// Fixed GUID appended to the client key when computing the accept key
// (RFC 6455 section 1.3).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for a client's
// Sec-WebSocket-Key: base64(SHA1(key + GUID)).
func AcceptKey(secKey string) string {
	h := sha1.New()
	h.Write([]byte(secKey + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// IsUpgradeRequest reports whether the request carries a well-formed
// WebSocket upgrade: a non-empty Sec-WebSocket-Key and an Upgrade header
// equal to "websocket" (case-insensitive). Requests failing this check
// are dropped without a handshake response.
func IsUpgradeRequest(r *http.Request) bool {
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return false
	}
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// HandshakeResponse builds the complete 101 Switching Protocols response
// for the given client key, terminated by a blank line.
func HandshakeResponse(secKey string) string {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Accept: " + AcceptKey(secKey) + "\r\n")
	sb.WriteString("\r\n")
	return sb.String()
}
