package bridge

import "sync"

// Registry tracks the live connections of every channel: any number of humans
// keyed by connection id and at most one agent. An entry exists only while it
// holds at least one connection.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*channelConnections
}

type channelConnections struct {
	humans map[string]Peer
	agent  Peer
}

func (e *channelConnections) empty() bool {
	return len(e.humans) == 0 && e.agent == nil
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*channelConnections)}
}

func (r *Registry) entry(channelID string) *channelConnections {
	e, ok := r.channels[channelID]
	if !ok {
		e = &channelConnections{humans: make(map[string]Peer)}
		r.channels[channelID] = e
	}
	return e
}

func (r *Registry) release(channelID string, e *channelConnections) {
	if e.empty() {
		delete(r.channels, channelID)
	}
}

// AddHuman registers p and returns the channel's agent, if any. admitted, when
// non-nil, runs before the registration becomes visible to other callers and
// must not call back into the registry.
func (r *Registry) AddHuman(channelID string, p Peer, admitted func()) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(channelID)
	e.humans[p.ID()] = p
	if admitted != nil {
		admitted()
	}
	return e.agent
}

// RemoveHuman unregisters a human and returns the channel's agent, if any.
func (r *Registry) RemoveHuman(channelID, connID string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	if _, ok := e.humans[connID]; !ok {
		return e.agent, false
	}
	delete(e.humans, connID)
	agent := e.agent
	r.release(channelID, e)
	return agent, true
}

// SetAgent fills the agent slot and returns the humans present. If the slot is
// taken it returns ErrAgentAlreadyConnected and leaves the registry untouched.
func (r *Registry) SetAgent(channelID string, p Peer, admitted func()) ([]Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.channels[channelID]; ok && e.agent != nil {
		return nil, ErrAgentAlreadyConnected
	}
	e := r.entry(channelID)
	e.agent = p
	if admitted != nil {
		admitted()
	}
	return humansOf(e), nil
}

// ClearAgent empties the agent slot if it still holds connID and returns the
// humans to notify.
func (r *Registry) ClearAgent(channelID, connID string) ([]Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.channels[channelID]
	if !ok || e.agent == nil || e.agent.ID() != connID {
		return nil, false
	}
	e.agent = nil
	humans := humansOf(e)
	r.release(channelID, e)
	return humans, true
}

// Agent returns the channel's agent, or nil.
func (r *Registry) Agent(channelID string) Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.channels[channelID]; ok {
		return e.agent
	}
	return nil
}

// Human returns one human connection by id, or nil.
func (r *Registry) Human(channelID, connID string) Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.channels[channelID]; ok {
		return e.humans[connID]
	}
	return nil
}

// Humans returns a snapshot of the channel's human connections.
func (r *Registry) Humans(channelID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.channels[channelID]; ok {
		return humansOf(e)
	}
	return nil
}

// HumanCount returns how many humans are connected to the channel.
func (r *Registry) HumanCount(channelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.channels[channelID]; ok {
		return len(e.humans)
	}
	return 0
}

// Len reports how many channels currently have live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// CloseAll closes every registered connection. Entries are removed as the
// connections unregister themselves.
func (r *Registry) CloseAll(code uint16, reason string) {
	r.mu.RLock()
	var peers []Peer
	for _, e := range r.channels {
		peers = append(peers, humansOf(e)...)
		if e.agent != nil {
			peers = append(peers, e.agent)
		}
	}
	r.mu.RUnlock()
	for _, p := range peers {
		p.Close(code, reason)
	}
}

func humansOf(e *channelConnections) []Peer {
	out := make([]Peer, 0, len(e.humans))
	for _, p := range e.humans {
		out = append(out, p)
	}
	return out
}
