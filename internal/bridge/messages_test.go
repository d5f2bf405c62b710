package bridge

import "testing"

func TestDecodeEnvelopeNumbers(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		timestamp Number
		limit     Number
	}{
		{"integers", `{"type":"message","timestamp":1700000000000,"limit":5}`, 1700000000000, 5},
		{"fraction truncated", `{"type":"message","timestamp":1700000000000.5,"limit":2.9}`, 1700000000000, 2},
		{"exponent", `{"type":"history","limit":1e1}`, 0, 10},
		{"negative", `{"type":"history","before":-1.5,"limit":-3}`, 0, -3},
		{"string ignored", `{"type":"message","timestamp":"soon"}`, 0, 0},
		{"null", `{"type":"message","timestamp":null}`, 0, 0},
		{"out of range", `{"type":"message","timestamp":1e300}`, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.payload))
			if err != nil {
				t.Fatalf("decodeEnvelope() error = %v", err)
			}
			if env.Timestamp != tt.timestamp || env.Limit != tt.limit {
				t.Fatalf("timestamp=%d limit=%d, want %d %d", env.Timestamp, env.Limit, tt.timestamp, tt.limit)
			}
		})
	}
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	for _, payload := range []string{`not json`, `[]`, `null`, `{"text":"hi"}`, `{"type":""}`, `{"type":7}`} {
		if _, err := decodeEnvelope([]byte(payload)); err == nil {
			t.Errorf("decodeEnvelope(%s) succeeded", payload)
		}
	}
}
