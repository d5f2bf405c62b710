package bridge

import "errors"

var (
	ErrAgentAlreadyConnected = errors.New("agent already connected")
	ErrOutboxFull            = errors.New("outbound buffer full")
	ErrClosed                = errors.New("connection closed")
	ErrUpstreamUnavailable   = errors.New("upstream gateway unavailable")
)

// ErrorKind classifies bridge failures for audit lines and metrics.
type ErrorKind string

const (
	KindHandshakeError     ErrorKind = "handshake_error"
	KindChannelUnavailable ErrorKind = "channel_unavailable"
	KindAuthTimeout        ErrorKind = "auth_timeout"
	KindAuthExhausted      ErrorKind = "auth_attempts_exhausted"
	KindProtocolViolation  ErrorKind = "protocol_violation"
	KindMessageRejected    ErrorKind = "message_rejected"
	KindUpstreamBlocked    ErrorKind = "upstream_blocked"
	KindUpstreamFailure    ErrorKind = "upstream_connection_failure"
)

