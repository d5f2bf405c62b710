package bridge

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/chanbridge/internal/audit"
	"github.com/haasonsaas/chanbridge/internal/auth"
	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/storage"
	"github.com/haasonsaas/chanbridge/internal/wire"
)

// HeaderChannelKey carries the channel secret for clients that authenticate
// in the upgrade request.
const HeaderChannelKey = "X-Channel-Key"

// handleChannel is the single acceptance entry point for both modes.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	sess, preauth, ok := s.accept(w, r)
	if !ok {
		return
	}
	if !s.track(sess.conn) {
		sess.conn.Close(wire.CloseGoingAway, "Server shutting down")
		return
	}
	defer s.untrack(sess.conn)
	sess.run(s.ctx, preauth)
}

// accept runs every check that happens before and during the upgrade. On
// failure the response has already been written.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*session, bool, bool) {
	channelID := r.PathValue("channelID")
	role, ok := parseRole(r.URL.Query().Get("role"))
	if !ok {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, false, false
	}

	ctx, span := s.tracer.Start(r.Context(), "bridge.accept",
		"channel.id", channelID,
		"role", string(role),
	)
	defer span.End()

	if ok, wait := s.limiter.Allow(clientAddr(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		s.reject(ctx, w, channelID, role, "unknown", http.StatusTooManyRequests, "connect rate exceeded")
		return nil, false, false
	}

	ch, err := s.channels.Get(ctx, channelID)
	if err != nil || !ch.Enabled {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("channel lookup failed", "channel_id", channelID, "error", err)
			observability.RecordError(span, err)
		}
		s.reject(ctx, w, channelID, role, "unknown", http.StatusNotFound, "channel unknown or disabled")
		return nil, false, false
	}

	mode, err := ResolveMode(ch)
	if err != nil {
		s.reject(ctx, w, channelID, role, "proxied", http.StatusBadGateway, err.Error())
		return nil, false, false
	}

	preauth := false
	if secret := headerSecret(r); secret != "" {
		if !auth.VerifySecret(ch.SecretHash, secret) {
			s.metrics.AuthAttempt("failure")
			s.audit.LogChannelEvent(ctx, channelID, audit.EventAuthFailed, "method=header")
			s.reject(ctx, w, channelID, role, mode.Name(), http.StatusUnauthorized, "invalid header secret")
			return nil, false, false
		}
		s.metrics.AuthAttempt("success")
		s.audit.LogChannelEvent(ctx, channelID, audit.EventAuthSucceeded, "method=header")
		preauth = true
	}

	wc, err := wire.Upgrade(w, r)
	if err != nil {
		s.logger.Info("handshake failed", "channel_id", channelID, "error", err)
		s.audit.LogChannelEvent(ctx, channelID, audit.EventConnectionRejected, "handshake: "+err.Error())
		s.metrics.ConnectionRejected(string(role), mode.Name(), "handshake")
		s.metrics.Error(string(KindHandshakeError))
		observability.RecordError(span, err)
		return nil, false, false
	}

	conn := newConn(wc, connConfig{
		id:               uuid.NewString(),
		channelID:        channelID,
		role:             role,
		mode:             mode.Name(),
		maxFrameBytes:    s.limits.MaxFrameBytes,
		maxBufferedBytes: s.limits.MaxBufferedBytes,
		writeTimeout:     s.limits.WriteTimeout,
		logger:           s.logger,
		metrics:          s.metrics,
	})
	sess := &session{
		srv:     s,
		conn:    conn,
		channel: ch,
		mode:    mode,
		role:    role,
	}
	sess.gate = newAuthGate(conn, ch, s.limits.MaxAuthAttempts, s.validator,
		conn.logger, s.audit, s.metrics, s.tracer)
	return sess, preauth, true
}

func (s *Server) reject(ctx context.Context, w http.ResponseWriter, channelID string, role storage.Role, mode string, status int, detail string) {
	s.logger.Info("connection rejected", "channel_id", channelID, "status", status, "reason", detail)
	s.audit.LogChannelEvent(ctx, channelID, audit.EventConnectionRejected, detail)
	var outcome string
	switch status {
	case http.StatusUnauthorized:
		outcome = "unauthorized"
	case http.StatusTooManyRequests:
		outcome = "rate_limited"
	default:
		outcome = "unavailable"
		s.metrics.Error(string(KindChannelUnavailable))
	}
	s.metrics.ConnectionRejected(string(role), mode, outcome)
	http.Error(w, http.StatusText(status), status)
}

// session is one accepted connection from upgrade to close.
type session struct {
	srv      *Server
	conn     *Conn
	channel  *storage.Channel
	mode     ChannelMode
	role     storage.Role
	gate     *authGate
	admitted bool
	upstream *Conn
}

func (ss *session) run(ctx context.Context, preauth bool) {
	s := ss.srv
	defer func() {
		ss.gate.stop()
		ss.leave(ctx)
		ss.conn.Close(wire.CloseNormal, "")
		<-ss.conn.Done()
	}()

	if preauth {
		ss.gate.promote()
		if !ss.admit(ctx) {
			return
		}
	} else {
		ss.gate.arm(ctx, s.limits.AuthTimeout)
	}

	ss.conn.serve(func(payload []byte) readAction {
		if !ss.admitted {
			switch ss.gate.handle(ctx, payload) {
			case gateRetry:
				return readReset
			case gateRejected:
				return readStop
			}
			if !ss.admit(ctx) {
				return readStop
			}
			return readContinue
		}
		ss.dispatch(ctx, payload)
		return readContinue
	})
}

// admit promotes an authenticated connection into its mode.
func (ss *session) admit(ctx context.Context) bool {
	s := ss.srv
	channelID := ss.channel.ChannelID
	welcome := func() {
		_ = sendJSON(ss.conn, authResult{Type: TypeAuth, Success: true}) //nolint:errcheck
	}

	switch mode := ss.mode.(type) {
	case ProxiedChannel:
		upstream, ok := s.openUpstream(ctx, mode, ss.conn, welcome)
		if !ok {
			return false
		}
		ss.upstream = upstream
	case BrokeredChannel:
		if ss.role == storage.RoleAgent {
			humans, err := s.registry.SetAgent(channelID, ss.conn, welcome)
			if err != nil {
				ss.conn.logger.Info("duplicate agent rejected")
				s.audit.LogChannelEvent(ctx, channelID, audit.EventAgentDuplicate, "agent slot occupied")
				s.metrics.ConnectionRejected(string(ss.role), mode.Name(), "duplicate_agent")
				_ = sendJSON(ss.conn, newError(errTextAgentConnected)) //nolint:errcheck
				ss.conn.Close(wire.ClosePolicyViolation, errTextAgentConnected)
				return false
			}
			s.router.AgentJoined(ctx, channelID, humans)
		} else {
			agent := s.registry.AddHuman(channelID, ss.conn, welcome)
			s.router.HumanJoined(ctx, channelID, ss.conn, agent)
		}
	}

	ss.admitted = true
	s.metrics.ConnectionOpened(string(ss.role), ss.mode.Name())
	ss.conn.logger.Info("connection admitted", "mode", ss.mode.Name())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		keepalive(ss.conn, s.limits.KeepaliveInterval)
	}()
	return true
}

func (ss *session) dispatch(ctx context.Context, payload []byte) {
	s := ss.srv
	channelID := ss.channel.ChannelID
	if ss.upstream != nil {
		s.relayToUpstream(channelID, ss.conn, ss.upstream, payload)
		return
	}
	if ss.role == storage.RoleAgent {
		s.router.FromAgent(ctx, channelID, ss.conn, payload)
		return
	}
	s.router.FromHuman(ctx, channelID, ss.conn, payload)
}

// leave unregisters the connection and closes its counterpart.
func (ss *session) leave(ctx context.Context) {
	if !ss.admitted {
		return
	}
	s := ss.srv
	channelID := ss.channel.ChannelID
	switch ss.mode.(type) {
	case ProxiedChannel:
		if ss.upstream != nil {
			ss.upstream.Close(wire.CloseNormal, "")
		}
	case BrokeredChannel:
		if ss.role == storage.RoleAgent {
			s.router.AgentLeft(ctx, channelID, ss.conn.ID())
		} else {
			s.router.HumanLeft(ctx, channelID, ss.conn.ID())
		}
	}
	s.metrics.ConnectionClosed(string(ss.role), ss.mode.Name())
	s.audit.LogChannelEvent(ctx, channelID, audit.EventConnectionClosed, "role="+string(ss.role))
	ss.conn.logger.Info("connection closed")
}

func parseRole(v string) (storage.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", string(storage.RoleHuman):
		return storage.RoleHuman, true
	case string(storage.RoleAgent):
		return storage.RoleAgent, true
	default:
		return "", false
	}
}

// headerSecret returns the channel secret sent with the upgrade request.
func headerSecret(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderChannelKey)); v != "" {
		return v
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// clientAddr is the limiter key: the remote IP without its port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
