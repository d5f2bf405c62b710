package wire

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // required by the upgrade handshake
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// WebSocketGUID is appended to the client key before hashing.
const WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	headerUpgrade    = "Upgrade"
	headerConnection = "Connection"
	headerKey        = "Sec-WebSocket-Key"
	headerVersion    = "Sec-WebSocket-Version"
	headerAccept     = "Sec-WebSocket-Accept"
	protocolVersion  = "13"
)

var (
	ErrMissingKey      = errors.New("missing Sec-WebSocket-Key header")
	ErrNotUpgrade      = errors.New("request is not a websocket upgrade")
	ErrHijackFailed    = errors.New("response writer does not support hijacking")
	ErrHandshakeFailed = errors.New("websocket handshake failed")
)

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// CheckUpgrade validates an upgrade request and returns the client key.
func CheckUpgrade(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrNotUpgrade
	}
	if !headerContainsToken(r.Header, headerConnection, "upgrade") ||
		!headerContainsToken(r.Header, headerUpgrade, "websocket") {
		return "", ErrNotUpgrade
	}
	key := strings.TrimSpace(r.Header.Get(headerKey))
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// WriteSwitchingProtocols writes the 101 response carrying the accept token.
func WriteSwitchingProtocols(w io.Writer, accept string) error {
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n", accept)
	return err
}

// Upgrade completes the server side of the handshake. On a malformed request it
// answers 400 and returns the validation error; the connection is never promoted.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	key, err := CheckUpgrade(r)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, ErrHijackFailed
	}
	nc, rw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("hijack: %w", err)
	}

	// http.Server may have armed deadlines for the request phase.
	_ = nc.SetDeadline(time.Time{}) //nolint:errcheck

	if err := WriteSwitchingProtocols(rw.Writer, AcceptKey(key)); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("write handshake response: %w", err)
	}
	if err := rw.Writer.Flush(); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("flush handshake response: %w", err)
	}
	return newConn(nc, rw.Reader), nil
}

// Conn is an upgraded transport. Reads are served from the buffered reader used
// during the handshake so no bytes that arrived early are lost.
type Conn struct {
	net.Conn
	br *bufio.Reader
}

func newConn(nc net.Conn, br *bufio.Reader) *Conn {
	if br == nil {
		br = bufio.NewReader(nc)
	}
	return &Conn{Conn: nc, br: br}
}

// NewConn wraps an already-upgraded net.Conn.
func NewConn(nc net.Conn) *Conn {
	return newConn(nc, nil)
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
