package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/haasonsaas/chanbridge/internal/audit"
	"github.com/haasonsaas/chanbridge/internal/backoff"
	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/storage"
	"github.com/haasonsaas/chanbridge/internal/wire"
)

// dialUpstream opens the outbound connection for a proxied session, retrying
// transient failures with backoff. A gateway that answers the handshake with
// an error status is not retried.
func (s *Server) dialUpstream(ctx context.Context, mode ProxiedChannel, role storage.Role) (*wire.Conn, error) {
	ctx, span := s.tracer.Start(ctx, "bridge.upstream_dial",
		"channel.id", mode.Channel.ChannelID,
		"role", string(role),
	)
	defer span.End()

	header := http.Header{}
	if mode.Token != "" {
		header.Set("Authorization", "Bearer "+mode.Token)
	}
	target := mode.upstreamURL(role)

	conn, attempts, err := backoff.Retry(ctx, s.limits.UpstreamBackoff, s.limits.UpstreamDialAttempts,
		func(attempt int) (*wire.Conn, error) {
			c, err := wire.Dial(ctx, target, wire.DialOptions{
				Header:  header,
				Timeout: s.limits.UpstreamDialTimeout,
			})
			if err != nil {
				s.logger.Debug("upstream dial failed", "channel_id", mode.Channel.ChannelID, "attempt", attempt, "error", err)
				if errors.Is(err, wire.ErrHandshakeFailed) {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return c, nil
		})
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrUpstreamUnavailable, attempts, err)
	}
	return conn, nil
}

// openUpstream dials the gateway and starts relaying its messages to client.
// ready runs once the upstream is connected, before any message is relayed.
// On failure the client gets a generic error and is closed.
func (s *Server) openUpstream(ctx context.Context, mode ProxiedChannel, client *Conn, ready func()) (*Conn, bool) {
	channelID := mode.Channel.ChannelID
	wc, err := s.dialUpstream(ctx, mode, client.Role())
	if err != nil {
		s.logger.Warn("upstream unavailable", "channel_id", channelID, "error", err)
		s.audit.LogChannelEvent(ctx, channelID, audit.EventUpstreamFailed, err.Error())
		s.metrics.Error(string(KindUpstreamFailure))
		_ = sendJSON(client, newError(errTextGateway)) //nolint:errcheck
		client.Close(wire.CloseInternalError, errTextGateway)
		return nil, false
	}

	upstream := newConn(wc, connConfig{
		id:               uuid.NewString(),
		channelID:        channelID,
		role:             client.Role(),
		mode:             mode.Name(),
		client:           true,
		maxFrameBytes:    s.limits.MaxFrameBytes,
		maxBufferedBytes: s.limits.MaxBufferedBytes,
		writeTimeout:     s.limits.WriteTimeout,
		logger:           s.logger.With("side", "upstream"),
		metrics:          s.metrics,
	})
	if ready != nil {
		ready()
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		keepalive(upstream, s.limits.KeepaliveInterval)
	}()
	go func() {
		defer s.wg.Done()
		upstream.serve(func(payload []byte) readAction {
			s.relayToClient(channelID, client, payload)
			return readContinue
		})
		upstream.Close(wire.CloseNormal, "")
		client.Close(wire.CloseGoingAway, "Gateway closed")
	}()
	return upstream, true
}

// relayToClient forwards a gateway message if its type is whitelisted.
// Everything else is dropped without telling the client.
func (s *Server) relayToClient(channelID string, client *Conn, payload []byte) {
	msgType, ok := AllowUpstream(payload)
	if !ok {
		s.logger.Debug("dropped upstream message", "channel_id", channelID, "type", msgType)
		s.metrics.FilterDrop("upstream", msgType)
		s.metrics.Error(string(KindUpstreamBlocked))
		return
	}
	if client.Send(payload) == nil {
		s.metrics.MessageRouted(msgType, "from_upstream")
	}
}

// relayToUpstream forwards a client message if its type is whitelisted and
// otherwise tells the client it was refused.
func (s *Server) relayToUpstream(channelID string, client, upstream *Conn, payload []byte) {
	msgType, ok := AllowClient(payload)
	if !ok {
		s.logger.Debug("rejected client message", "channel_id", channelID, "type", msgType)
		s.metrics.FilterDrop("client", msgType)
		s.metrics.Error(string(KindMessageRejected))
		_ = sendJSON(client, newError(errTextNotAllowed)) //nolint:errcheck
		return
	}
	if upstream.Send(payload) == nil {
		s.metrics.MessageRouted(msgType, "to_upstream")
	}
}
