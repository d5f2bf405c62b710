package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/chanbridge/internal/audit"
	"github.com/haasonsaas/chanbridge/internal/auth"
	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/storage"
	"github.com/haasonsaas/chanbridge/internal/wire"
)

// TokenValidator checks a one-time admin token for a channel. It is supplied
// by the host and consulted before the channel secret.
type TokenValidator func(ctx context.Context, token, channelID string) bool

type gateState int

const (
	gateAwaiting gateState = iota
	gateAuthenticated
	gateClosed
)

type gateResult int

const (
	// gateRetry means the attempt failed and the client may try again.
	gateRetry gateResult = iota
	gateVerified
	gateRejected
)

// authGate holds a connection until it presents a valid auth message, a
// timeout fires, or the attempt cap is reached.
type authGate struct {
	mu          sync.Mutex
	state       gateState
	attempts    int
	maxAttempts int
	timer       *time.Timer

	peer      Peer
	channel   *storage.Channel
	validator TokenValidator

	logger  *slog.Logger
	audit   *audit.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

func newAuthGate(peer Peer, channel *storage.Channel, maxAttempts int, validator TokenValidator,
	logger *slog.Logger, auditLog *audit.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *authGate {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &authGate{
		maxAttempts: maxAttempts,
		peer:        peer,
		channel:     channel,
		validator:   validator,
		logger:      logger,
		audit:       auditLog,
		metrics:     metrics,
		tracer:      tracer,
	}
}

// arm starts the auth timer.
func (g *authGate) arm(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timer = time.AfterFunc(timeout, func() { g.expire(ctx) })
}

func (g *authGate) expire(ctx context.Context) {
	g.mu.Lock()
	if g.state != gateAwaiting {
		g.mu.Unlock()
		return
	}
	g.state = gateClosed
	g.mu.Unlock()

	g.logger.Info("auth timeout")
	g.audit.LogChannelEvent(ctx, g.channel.ChannelID, audit.EventAuthTimeout, "no auth message before deadline")
	g.metrics.Error(string(KindAuthTimeout))
	g.metrics.AuthAttempt("timeout")
	_ = sendJSON(g.peer, newError(errTextAuthTimeout)) //nolint:errcheck
	g.peer.Close(wire.ClosePolicyViolation, errTextAuthTimeout)
}

// stop cancels the timer; the gate accepts nothing afterwards.
func (g *authGate) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	if g.state == gateAwaiting {
		g.state = gateClosed
	}
}

// promote marks the gate authenticated without an auth message, used when
// the secret arrived in the upgrade request headers.
func (g *authGate) promote() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.state = gateAuthenticated
}

func (g *authGate) authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == gateAuthenticated
}

// handle processes one message received while awaiting auth. The lock is
// held through verification so the timer cannot interleave with a pending
// comparison.
func (g *authGate) handle(ctx context.Context, payload []byte) gateResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != gateAwaiting {
		return gateRejected
	}

	env, err := decodeEnvelope(payload)
	if err != nil || env.Type != TypeAuth {
		g.state = gateClosed
		g.stopTimer()
		detail := "first message was not auth"
		if err != nil {
			detail = "first message was not a JSON object"
		}
		g.logger.Info("protocol violation before auth", "detail", detail)
		g.audit.LogChannelEvent(ctx, g.channel.ChannelID, audit.EventProtocolViolation, detail)
		g.metrics.Error(string(KindProtocolViolation))
		_ = sendJSON(g.peer, newError(errTextAuthRequired)) //nolint:errcheck
		g.peer.Close(wire.ClosePolicyViolation, errTextAuthRequired)
		return gateRejected
	}

	ctx, span := g.tracer.Start(ctx, "bridge.auth", "channel.id", g.channel.ChannelID)
	ok, method := g.verify(ctx, env)
	span.End()

	if ok {
		g.state = gateAuthenticated
		g.stopTimer()
		g.metrics.AuthAttempt("success")
		g.audit.LogChannelEvent(ctx, g.channel.ChannelID, audit.EventAuthSucceeded, "method="+method)
		return gateVerified
	}

	g.attempts++
	g.metrics.AuthAttempt("failure")
	remaining := g.maxAttempts - g.attempts
	if remaining > 0 {
		g.logger.Info("auth failed", "attempts_remaining", remaining)
		g.audit.LogChannelEvent(ctx, g.channel.ChannelID, audit.EventAuthFailed, "method="+method)
		_ = sendJSON(g.peer, authResult{ //nolint:errcheck
			Type:              TypeAuth,
			Error:             errTextInvalidKey,
			AttemptsRemaining: &remaining,
		})
		return gateRetry
	}

	g.state = gateClosed
	g.stopTimer()
	g.logger.Warn("auth attempts exhausted", "attempts", g.attempts)
	g.audit.LogChannelEvent(ctx, g.channel.ChannelID, audit.EventAuthExhausted, "too many failed attempts")
	g.metrics.Error(string(KindAuthExhausted))
	_ = sendJSON(g.peer, authResult{Type: TypeAuth, Error: errTextMaxAttempts}) //nolint:errcheck
	g.peer.Close(wire.ClosePolicyViolation, errTextMaxAttempts)
	return gateRejected
}

func (g *authGate) verify(ctx context.Context, env *Envelope) (bool, string) {
	if env.AdminToken != "" && g.validator != nil {
		if g.validator(ctx, env.AdminToken, g.channel.ChannelID) {
			return true, "admin_token"
		}
	}
	if env.Key == "" {
		return false, "key"
	}
	return auth.VerifySecret(g.channel.SecretHash, env.Key), "key"
}

func (g *authGate) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
	}
}
