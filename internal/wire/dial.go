package wire

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DialOptions configures an outbound handshake.
type DialOptions struct {
	// Header is added to the upgrade request (e.g. Authorization).
	Header http.Header

	// Timeout bounds the TCP connect and the handshake exchange.
	Timeout time.Duration

	// TLSConfig is used for wss:// addresses.
	TLSConfig *tls.Config
}

// Dial opens a client connection to a ws:// or wss:// address and performs the
// upgrade handshake. Frames written on the returned Conn must be masked.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}

	var secure bool
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
	case "wss", "https":
		secure = true
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		if secure {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	nc, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	if secure {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			cfg = cfg.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		tlsConn := tls.Client(nc, cfg)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		nc = tlsConn
	}

	deadline, _ := dialCtx.Deadline()
	_ = nc.SetDeadline(deadline) //nolint:errcheck

	conn, err := clientHandshake(nc, u, secure, opts.Header)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{}) //nolint:errcheck
	return conn, nil
}

func clientHandshake(nc net.Conn, u *url.URL, secure bool, extra http.Header) (*Conn, error) {
	key, err := newClientKey()
	if err != nil {
		return nil, err
	}

	target := *u
	target.Scheme = "http"
	if secure {
		target.Scheme = "https"
	}
	req, err := http.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upgrade request: %w", err)
	}
	for name, values := range extra {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set(headerUpgrade, "websocket")
	req.Header.Set(headerConnection, "Upgrade")
	req.Header.Set(headerKey, key)
	req.Header.Set(headerVersion, protocolVersion)

	if err := req.Write(nc); err != nil {
		return nil, fmt.Errorf("write upgrade request: %w", err)
	}

	br := bufio.NewReader(nc)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("read upgrade response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("%w: status %d", ErrHandshakeFailed, resp.StatusCode)
	}
	if got := resp.Header.Get(headerAccept); got != AcceptKey(key) {
		return nil, fmt.Errorf("%w: accept token mismatch", ErrHandshakeFailed)
	}
	return newConn(nc, br), nil
}

func newClientKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate handshake key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}
