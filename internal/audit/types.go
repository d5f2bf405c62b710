// Package audit writes channel-scoped audit lines for connection rejections,
// authentication outcomes, protocol violations and upstream failures.
package audit

import "time"

// EventType categorizes audit events.
type EventType string

const (
	EventConnectionRejected EventType = "connection.rejected"
	EventConnectionClosed   EventType = "connection.closed"

	EventAuthTimeout   EventType = "auth.timeout"
	EventAuthExhausted EventType = "auth.exhausted"
	EventAuthFailed    EventType = "auth.failed"
	EventAuthSucceeded EventType = "auth.succeeded"

	EventProtocolViolation EventType = "protocol.violation"
	EventAgentDuplicate    EventType = "agent.duplicate"
	EventUpstreamFailed    EventType = "upstream.failed"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// levelFor is the default severity of each event type.
func levelFor(t EventType) Level {
	switch t {
	case EventAuthSucceeded, EventConnectionClosed:
		return LevelInfo
	case EventUpstreamFailed:
		return LevelError
	default:
		return LevelWarn
	}
}

// Event represents a single audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	// ChannelID scopes every event.
	ChannelID string `json:"channel_id"`

	// Detail is a short human readable explanation.
	Detail string `json:"detail,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	Format OutputFormat `json:"format" yaml:"format"`

	// Output specifies where to write logs.
	// Supported: "stdout", "stderr", "file:/path/to/file.log"
	Output string `json:"output" yaml:"output"`

	// MaxDetailSize truncates long details.
	MaxDetailSize int `json:"max_detail_size" yaml:"max_detail_size"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Level:         LevelInfo,
		Format:        FormatJSON,
		Output:        "stderr",
		MaxDetailSize: 512,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}
