package bridge

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakePeer struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	code   uint16
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.sent = append(p.sent, append([]byte(nil), payload...))
	return nil
}

func (p *fakePeer) Close(code uint16, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.code = code
	}
}

func (p *fakePeer) messages(t *testing.T) []map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, 0, len(p.sent))
	for _, raw := range p.sent {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("peer %s received non-JSON payload %q: %v", p.id, raw, err)
		}
		out = append(out, m)
	}
	return out
}

func (p *fakePeer) last(t *testing.T) map[string]any {
	t.Helper()
	msgs := p.messages(t)
	if len(msgs) == 0 {
		t.Fatalf("peer %s received nothing", p.id)
	}
	return msgs[len(msgs)-1]
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
