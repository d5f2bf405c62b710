package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/chanbridge/internal/observability"
)

// Logger writes audit events through a dedicated slog handler. Writes are
// buffered and drained by a background goroutine; when the buffer is full the
// event is written synchronously so nothing is dropped.
//
//	logger, _ := audit.NewLogger(audit.DefaultConfig())
//	defer logger.Close()
//	logger.LogChannelEvent(ctx, "c1", audit.EventAuthTimeout, "no auth message within 30s")
type Logger struct {
	config Config
	sink   io.Closer
	out    *slog.Logger

	queue  chan *Event
	closed chan struct{}
	drain  sync.WaitGroup
	stop   sync.Once
}

// NewLogger builds a logger for config.Output. A disabled config yields a
// logger that discards everything.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}
	w, c, err := openSink(config.Output)
	if err != nil {
		return nil, err
	}
	l := NewLoggerWithWriter(config, w)
	l.sink = c
	return l, nil
}

func openSink(output string) (io.Writer, io.Closer, error) {
	switch {
	case output == "" || output == "stderr":
		return os.Stderr, nil, nil
	case output == "stdout":
		return os.Stdout, nil, nil
	case strings.HasPrefix(output, "file:"):
		f, err := os.OpenFile(strings.TrimPrefix(output, "file:"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit file: %w", err)
		}
		return f, f, nil
	}
	return nil, nil, fmt.Errorf("unsupported audit output %q", output)
}

// NewLoggerWithWriter creates an enabled logger writing to w.
func NewLoggerWithWriter(config Config, w io.Writer) *Logger {
	config = withDefaults(config)

	opts := &slog.HandlerOptions{Level: slogLevel(config.Level)}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if config.Format == FormatText {
		h = slog.NewTextHandler(w, opts)
	}

	l := &Logger{
		config: config,
		out:    slog.New(h).With("component", "audit"),
		queue:  make(chan *Event, config.BufferSize),
		closed: make(chan struct{}),
	}
	l.drain.Add(1)
	go l.run()
	return l
}

func withDefaults(c Config) Config {
	d := DefaultConfig()
	c.Enabled = true
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxDetailSize <= 0 {
		c.MaxDetailSize = d.MaxDetailSize
	}
	return c
}

// Close drains pending events and releases the output file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closed == nil {
		return nil
	}
	var err error
	l.stop.Do(func() {
		close(l.closed)
		l.drain.Wait()
		if l.sink != nil {
			err = l.sink.Close()
		}
	})
	return err
}

// Log fills in the missing fields of event and queues it.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if l == nil || l.closed == nil || event == nil {
		return
	}
	if event.Level == "" {
		event.Level = levelFor(event.Type)
	}
	if !l.shouldLog(event.Level) {
		return
	}
	select {
	case <-l.closed:
		return
	default:
	}
	l.stamp(ctx, event)

	select {
	case l.queue <- event:
	default:
		l.emit(event)
	}
}

// LogChannelEvent records event for channelID.
func (l *Logger) LogChannelEvent(ctx context.Context, channelID string, event EventType, detail string) {
	l.Log(ctx, &Event{Type: event, ChannelID: channelID, Detail: detail})
}

func (l *Logger) stamp(ctx context.Context, e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.TraceID == "" {
		e.TraceID = observability.GetTraceID(ctx)
	}
	if e.SpanID == "" {
		e.SpanID = observability.GetSpanID(ctx)
	}
	if limit := l.config.MaxDetailSize; len(e.Detail) > limit {
		e.Detail = e.Detail[:limit] + "...[truncated]"
	}
}

func (l *Logger) run() {
	defer l.drain.Done()
	tick := time.NewTicker(l.config.FlushInterval)
	defer tick.Stop()

	for {
		select {
		case e := <-l.queue:
			l.emit(e)
		case <-tick.C:
			l.emitPending()
		case <-l.closed:
			l.emitPending()
			return
		}
	}
}

func (l *Logger) emitPending() {
	for {
		select {
		case e := <-l.queue:
			l.emit(e)
		default:
			return
		}
	}
}

func (l *Logger) emit(e *Event) {
	attrs := make([]slog.Attr, 0, 7)
	attrs = append(attrs,
		slog.String("audit_id", e.ID),
		slog.String("audit_type", string(e.Type)),
		slog.String("channel_id", e.ChannelID),
		slog.String("timestamp", e.Timestamp.Format(time.RFC3339Nano)),
	)
	for _, opt := range [...]struct{ key, val string }{
		{"detail", e.Detail},
		{"trace_id", e.TraceID},
		{"span_id", e.SpanID},
	} {
		if opt.val != "" {
			attrs = append(attrs, slog.String(opt.key, opt.val))
		}
	}
	l.out.LogAttrs(context.Background(), slogLevel(e.Level), "audit", attrs...)
}

func (l *Logger) shouldLog(level Level) bool {
	return slogLevel(level) >= slogLevel(l.config.Level)
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
