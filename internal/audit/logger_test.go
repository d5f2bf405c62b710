package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func decodeLines(t *testing.T, s string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewLogger_Disabled(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.LogChannelEvent(context.Background(), "c1", EventAuthTimeout, "x")
	if err := logger.Close(); err != nil {
		t.Errorf("unexpected error closing: %v", err)
	}
}

func TestNewLogger_InvalidOutput(t *testing.T) {
	if _, err := NewLogger(Config{Enabled: true, Output: "invalid://path"}); err == nil {
		t.Error("expected error for invalid output")
	}
}

func TestLogChannelEvent(t *testing.T) {
	buf := &syncBuffer{}
	logger := NewLoggerWithWriter(Config{}, buf)

	logger.LogChannelEvent(context.Background(), "c1", EventAuthExhausted, "3 invalid attempts")
	logger.LogChannelEvent(context.Background(), "c2", EventConnectionClosed, "")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := decodeLines(t, buf.String())
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	first := lines[0]
	if first["channel_id"] != "c1" || first["audit_type"] != "auth.exhausted" || first["detail"] != "3 invalid attempts" {
		t.Fatalf("unexpected line %v", first)
	}
	if first["level"] != "WARN" {
		t.Fatalf("auth.exhausted level = %v, want WARN", first["level"])
	}
	if lines[1]["level"] != "INFO" {
		t.Fatalf("connection.closed level = %v, want INFO", lines[1]["level"])
	}
	if _, ok := lines[1]["detail"]; ok {
		t.Fatal("empty detail should be omitted")
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	tests := []struct {
		configLevel Level
		eventLevel  Level
		want        bool
	}{
		{LevelDebug, LevelDebug, true},
		{LevelInfo, LevelDebug, false},
		{LevelInfo, LevelWarn, true},
		{LevelWarn, LevelInfo, false},
		{LevelError, LevelWarn, false},
		{LevelError, LevelError, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.configLevel)+"_"+string(tt.eventLevel), func(t *testing.T) {
			logger := &Logger{config: Config{Enabled: true, Level: tt.configLevel}}
			if got := logger.shouldLog(tt.eventLevel); got != tt.want {
				t.Errorf("shouldLog(%s) = %v, want %v", tt.eventLevel, got, tt.want)
			}
		})
	}
}

func TestLogger_TruncatesDetail(t *testing.T) {
	buf := &syncBuffer{}
	logger := NewLoggerWithWriter(Config{MaxDetailSize: 8}, buf)
	logger.LogChannelEvent(context.Background(), "c1", EventProtocolViolation, strings.Repeat("x", 100))
	_ = logger.Close()

	lines := decodeLines(t, buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if got := lines[0]["detail"]; got != "xxxxxxxx...[truncated]" {
		t.Fatalf("detail = %v", got)
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	logger := NewLoggerWithWriter(Config{}, &syncBuffer{})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	// Logging after close is a no-op.
	logger.LogChannelEvent(context.Background(), "c1", EventAuthFailed, "")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.LogChannelEvent(context.Background(), "c1", EventAuthFailed, "")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
}
