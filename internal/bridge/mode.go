package bridge

import (
	"errors"
	"net/url"
	"strings"

	"github.com/haasonsaas/chanbridge/internal/storage"
)

var ErrNoGatewayAddress = errors.New("proxied channel has no usable gateway address")

// ChannelMode is how an admitted connection is served. It is either
// BrokeredChannel or ProxiedChannel.
type ChannelMode interface {
	Name() string
	isChannelMode()
}

// BrokeredChannel relays and persists messages between humans and the agent.
type BrokeredChannel struct {
	Channel *storage.Channel
}

// ProxiedChannel forwards filtered traffic to an external agent gateway.
type ProxiedChannel struct {
	Channel *storage.Channel
	Address *url.URL
	Token   string
}

func (BrokeredChannel) Name() string { return "brokered" }
func (ProxiedChannel) Name() string  { return "proxied" }

func (BrokeredChannel) isChannelMode() {}
func (ProxiedChannel) isChannelMode()  {}

// ResolveMode picks the mode for ch. A channel with a gateway address that
// cannot be dialled yields ErrNoGatewayAddress.
func ResolveMode(ch *storage.Channel) (ChannelMode, error) {
	if !ch.Proxied() {
		return BrokeredChannel{Channel: ch}, nil
	}
	u, err := url.Parse(strings.TrimSpace(ch.GatewayURL))
	if err != nil || u.Host == "" {
		return nil, ErrNoGatewayAddress
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
	default:
		return nil, ErrNoGatewayAddress
	}
	return ProxiedChannel{Channel: ch, Address: u, Token: ch.GatewayToken}, nil
}

// upstreamURL is the address dialled for a connection of the given role.
func (p ProxiedChannel) upstreamURL(role storage.Role) string {
	u := *p.Address
	if role == storage.RoleAgent {
		q := u.Query()
		q.Set("role", string(storage.RoleAgent))
		u.RawQuery = q.Encode()
	}
	return u.String()
}
