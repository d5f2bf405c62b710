package bridge

import "encoding/json"

// Whitelists for proxied channels. Anything not listed is dropped.
var (
	clientAllowed = map[string]bool{
		TypeSend:      true,
		TypeSubscribe: true,
		TypePing:      true,
		TypePong:      true,
	}
	upstreamAllowed = map[string]bool{
		TypeMessage:  true,
		"response":   true,
		TypeChunk:    true,
		TypeDone:     true,
		"event":      true,
		TypePing:     true,
		TypePong:     true,
		"subscribed": true,
		TypeError:    true,
	}
)

// AllowClient reports whether a client payload may be forwarded upstream.
// The returned type is empty when the payload is not a typed JSON object.
func AllowClient(payload []byte) (string, bool) {
	return allow(clientAllowed, payload)
}

// AllowUpstream reports whether a gateway payload may reach the client.
func AllowUpstream(payload []byte) (string, bool) {
	return allow(upstreamAllowed, payload)
}

func allow(list map[string]bool, payload []byte) (string, bool) {
	var probe struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	var msgType string
	if err := json.Unmarshal(probe.Type, &msgType); err != nil {
		return "", false
	}
	return msgType, list[msgType]
}
