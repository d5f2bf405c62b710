package bridge

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// Message types exchanged on a channel connection.
const (
	TypeAuth      = "auth"
	TypeMessage   = "message"
	TypeChunk     = "chunk"
	TypeDone      = "done"
	TypeTyping    = "typing"
	TypeError     = "error"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeHistory   = "history"
	TypeSend      = "send"
	TypeSubscribe = "subscribe"

	TypeHumanConnected    = "human_connected"
	TypeHumanDisconnected = "human_disconnected"
	TypeAgentConnected    = "agent_connected"
	TypeAgentDisconnected = "agent_disconnected"
)

// Client-visible error strings.
const (
	errTextAuthRequired   = "Authentication required"
	errTextAuthTimeout    = "Auth timeout"
	errTextInvalidKey     = "Invalid key"
	errTextMaxAttempts    = "Max auth attempts exceeded"
	errTextAgentConnected = "Agent already connected"
	errTextNoAgent        = "Agent not connected"
	errTextInvalidMessage = "Invalid message"
	errTextNotAllowed     = "Message type not allowed on channel endpoint"
	errTextGateway        = "Gateway unavailable"
	errTextHistory        = "History unavailable"
	errTextTooSlow        = "Connection too slow"
)

// Envelope is the decoded form of an application message. Unknown fields are
// ignored here; forwarding works on the raw payload.
type Envelope struct {
	Type       string `json:"type"`
	Key        string `json:"key,omitempty"`
	AdminToken string `json:"adminToken,omitempty"`
	ID         string `json:"id,omitempty"`
	Text       string `json:"text,omitempty"`
	Timestamp  Number `json:"timestamp,omitempty"`
	ConnID     string `json:"connId,omitempty"`
	ReplyTo    string `json:"replyTo,omitempty"`
	Error      string `json:"error,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	Limit      Number `json:"limit,omitempty"`
	Before     Number `json:"before,omitempty"`
}

// Number is an integer field that accepts any JSON number, truncating
// fractions. Non-numeric or out-of-range values decode as zero.
type Number int64

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = 0
	if v, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*n = Number(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	if f > math.MinInt64 && f < math.MaxInt64 {
		*n = Number(f)
	}
	return nil
}

var errNotObject = errors.New("message must be a JSON object with a string type")

// decodeEnvelope parses payload. It fails unless payload is a JSON object
// whose "type" field is a non-empty string.
func decodeEnvelope(payload []byte) (*Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil || probe == nil {
		return nil, errNotObject
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errNotObject
	}
	if env.Type == "" {
		return nil, errNotObject
	}
	return &env, nil
}

type authResult struct {
	Type              string `json:"type"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

type errorMessage struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	MessageID string `json:"messageId,omitempty"`
}

func newError(text string) errorMessage {
	return errorMessage{Type: TypeError, Error: text}
}

type presenceMessage struct {
	Type   string `json:"type"`
	ConnID string `json:"connId,omitempty"`
}

type pongMessage struct {
	Type string `json:"type"`
}

type historyEntry struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	ReplyTo   string `json:"replyTo,omitempty"`
	ConnID    string `json:"connId,omitempty"`
}

type historyResponse struct {
	Type     string         `json:"type"`
	Messages []historyEntry `json:"messages"`
}

// withFields returns payload with the given top-level fields set. Existing
// values are overwritten; every other field is kept as sent.
func withFields(payload []byte, fields map[string]string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}
