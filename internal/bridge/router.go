package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/storage"
)

// Router applies the brokered routing rules: humans talk to the channel's
// agent, the agent answers one human by connection id or all of them.
type Router struct {
	registry *Registry
	history  storage.HistoryStore
	channels storage.ChannelLookup

	historyDefault int
	historyMax     int

	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() string
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Registry            *Registry
	History             storage.HistoryStore
	Channels            storage.ChannelLookup
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	Logger              *slog.Logger
	Metrics             *observability.Metrics
}

// NewRouter builds a router over cfg.Registry. History and Metrics may be nil.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry:       cfg.Registry,
		history:        cfg.History,
		channels:       cfg.Channels,
		historyDefault: cfg.HistoryDefaultLimit,
		historyMax:     cfg.HistoryMaxLimit,
		logger:         logger.With("component", "router"),
		metrics:        cfg.Metrics,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	if r.registry == nil {
		r.registry = NewRegistry()
	}
	if r.historyDefault <= 0 {
		r.historyDefault = 50
	}
	if r.historyMax <= 0 {
		r.historyMax = 200
	}
	if r.historyDefault > r.historyMax {
		r.historyDefault = r.historyMax
	}
	return r
}

// Registry returns the registry the router reads from.
func (r *Router) Registry() *Registry { return r.registry }

// HumanJoined tells the agent a human arrived and the human whether an agent
// is present.
func (r *Router) HumanJoined(ctx context.Context, channelID string, human, agent Peer) {
	if agent == nil {
		return
	}
	r.notify(agent, presenceMessage{Type: TypeHumanConnected, ConnID: human.ID()})
	r.notify(human, presenceMessage{Type: TypeAgentConnected})
}

// HumanLeft unregisters a human and notifies the agent.
func (r *Router) HumanLeft(ctx context.Context, channelID, connID string) {
	agent, removed := r.registry.RemoveHuman(channelID, connID)
	if !removed || agent == nil {
		return
	}
	r.notify(agent, presenceMessage{Type: TypeHumanDisconnected, ConnID: connID})
}

// AgentJoined records the connection time and notifies the humans present.
func (r *Router) AgentJoined(ctx context.Context, channelID string, humans []Peer) {
	if r.channels != nil {
		if err := r.channels.MarkConnected(ctx, channelID, r.now()); err != nil {
			r.logger.Warn("mark connected failed", "channel_id", channelID, "error", err)
			r.metrics.Error("persistence")
		}
	}
	for _, h := range humans {
		r.notify(h, presenceMessage{Type: TypeAgentConnected})
	}
}

// AgentLeft clears the agent slot if connID still holds it and notifies the
// humans.
func (r *Router) AgentLeft(ctx context.Context, channelID, connID string) {
	humans, cleared := r.registry.ClearAgent(channelID, connID)
	if !cleared {
		return
	}
	for _, h := range humans {
		r.notify(h, presenceMessage{Type: TypeAgentDisconnected})
	}
}

// FromHuman handles a message sent by an authenticated human.
func (r *Router) FromHuman(ctx context.Context, channelID string, from Peer, payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		r.metrics.Error(string(KindProtocolViolation))
		r.notify(from, newError(errTextInvalidMessage))
		return
	}

	switch env.Type {
	case TypePing:
		r.notify(from, pongMessage{Type: TypePong})
		return
	case TypePong, TypeAuth:
		return
	case TypeHistory:
		r.serveHistory(ctx, channelID, from, env)
		return
	}

	fields := map[string]string{"connId": from.ID()}
	if env.Type == TypeMessage {
		if env.ID == "" {
			env.ID = r.newID()
			fields["id"] = env.ID
		}
		if env.Text != "" {
			r.persist(ctx, &storage.ChatMessage{
				ChannelID: channelID,
				ID:        env.ID,
				Role:      storage.RoleHuman,
				Text:      env.Text,
				Timestamp: r.timestamp(int64(env.Timestamp)),
				ReplyTo:   env.ReplyTo,
				ConnID:    from.ID(),
			})
		}
	}

	agent := r.registry.Agent(channelID)
	if agent == nil {
		if env.Type == TypeMessage {
			r.notify(from, errorMessage{Type: TypeError, Error: errTextNoAgent, MessageID: env.ID})
		}
		return
	}

	out, err := withFields(payload, fields)
	if err != nil {
		r.logger.Warn("rewrite message failed", "channel_id", channelID, "error", err)
		return
	}
	if agent.Send(out) == nil {
		r.metrics.MessageRouted(env.Type, "to_agent")
	}
}

// FromAgent handles a message sent by the channel's agent.
func (r *Router) FromAgent(ctx context.Context, channelID string, from Peer, payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		r.metrics.Error(string(KindProtocolViolation))
		r.notify(from, newError(errTextInvalidMessage))
		return
	}

	switch env.Type {
	case TypePing:
		r.notify(from, pongMessage{Type: TypePong})
		return
	case TypePong, TypeAuth:
		return
	case TypeHistory:
		r.serveHistory(ctx, channelID, from, env)
		return
	case TypeTyping:
		r.broadcast(channelID, env.Type, payload)
		return
	}

	if env.Type == TypeMessage || env.Type == TypeDone {
		if env.ID == "" {
			env.ID = r.newID()
			if payload, err = withFields(payload, map[string]string{"id": env.ID}); err != nil {
				r.logger.Warn("rewrite message failed", "channel_id", channelID, "error", err)
				return
			}
		}
		if env.Text != "" {
			r.persist(ctx, &storage.ChatMessage{
				ChannelID: channelID,
				ID:        env.ID,
				Role:      storage.RoleAgent,
				Text:      env.Text,
				Timestamp: r.timestamp(int64(env.Timestamp)),
				ReplyTo:   env.ReplyTo,
				ConnID:    env.ConnID,
			})
		}
	}

	if env.ConnID != "" {
		if human := r.registry.Human(channelID, env.ConnID); human != nil {
			if human.Send(payload) == nil {
				r.metrics.MessageRouted(env.Type, "unicast")
			}
			return
		}
	}
	r.broadcast(channelID, env.Type, payload)
}

func (r *Router) broadcast(channelID, msgType string, payload []byte) {
	for _, h := range r.registry.Humans(channelID) {
		if h.Send(payload) == nil {
			r.metrics.MessageRouted(msgType, "broadcast")
		}
	}
}

func (r *Router) serveHistory(ctx context.Context, channelID string, to Peer, env *Envelope) {
	limit := int(env.Limit)
	if limit <= 0 {
		limit = r.historyDefault
	}
	if limit > r.historyMax {
		limit = r.historyMax
	}
	var before time.Time
	if env.Before > 0 {
		before = time.UnixMilli(int64(env.Before))
	}

	resp := historyResponse{Type: TypeHistory, Messages: []historyEntry{}}
	if r.history != nil {
		msgs, err := r.history.History(ctx, channelID, limit, before)
		if err != nil {
			r.logger.Warn("history read failed", "channel_id", channelID, "error", err)
			r.metrics.Error("persistence")
			r.notify(to, newError(errTextHistory))
			return
		}
		for _, m := range msgs {
			resp.Messages = append(resp.Messages, historyEntry{
				ID:        m.ID,
				Role:      string(m.Role),
				Text:      m.Text,
				Timestamp: m.Timestamp.UnixMilli(),
				ReplyTo:   m.ReplyTo,
				ConnID:    m.ConnID,
			})
		}
	}
	r.notify(to, resp)
}

func (r *Router) persist(ctx context.Context, msg *storage.ChatMessage) {
	if r.history == nil {
		return
	}
	if err := r.history.Append(ctx, msg); err != nil {
		r.logger.Warn("append history failed", "channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
		r.metrics.Error("persistence")
	}
}

func (r *Router) timestamp(ms int64) time.Time {
	if ms > 0 {
		return time.UnixMilli(ms)
	}
	return r.now()
}

func (r *Router) notify(p Peer, v any) {
	if err := sendJSON(p, v); err != nil {
		r.logger.Debug("notify failed", "conn_id", p.ID(), "error", err)
	}
}
