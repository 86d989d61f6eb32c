package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgnsrekt/harrelay/internal/types"
)

// Endpoint is one side of a channel as seen from the hub.
type Endpoint interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// Sink receives exported HAR payloads. The native helper process is the
// production implementation.
type Sink interface {
	Post(ctx context.Context, har json.RawMessage) error
}

// ConnMeta is connection metadata supplied by the transport, not the
// message body.
type ConnMeta struct {
	SenderTab *types.TabID
	Remote    string
}

type pair struct {
	devtools Endpoint
	content  Endpoint
}

func (p *pair) empty() bool {
	return p.devtools == nil && p.content == nil
}

// PairInfo is a read-only view of one routing entry.
type PairInfo struct {
	TabID    types.TabID `json:"tab_id"`
	Devtools string      `json:"devtools,omitempty"`
	Content  string      `json:"content,omitempty"`
}

// Hub pairs devtools and content channels per tab and forwards messages
// between them and to the sink.
type Hub struct {
	sink   Sink
	broker *Broker

	mu          sync.Mutex
	connections map[types.TabID]*pair
}

// NewHub creates a hub. sink and broker may be nil.
func NewHub(sink Sink, broker *Broker) *Hub {
	return &Hub{
		sink:        sink,
		broker:      broker,
		connections: make(map[types.TabID]*pair),
	}
}

// Attach registers a new channel. The returned Listener receives the
// channel's messages; its Deregister must be called on disconnect.
func (h *Hub) Attach(name string, ep Endpoint, meta ConnMeta) (*Listener, error) {
	switch name {
	case types.ChannelDevtools, types.ChannelContent:
	default:
		return nil, newError(CodeUnknownChannel, "unknown channel name: "+name, nil)
	}
	slog.Debug("relay: channel attached", "channel", name, "endpoint", ep.ID(), "remote", meta.Remote)
	return &Listener{hub: h, name: name, endpoint: ep, meta: meta}, nil
}

// Dispatch sends a control message to the devtools endpoint bound for tab,
// the same path a content peer's messages take.
func (h *Hub) Dispatch(ctx context.Context, tab types.TabID, data []byte) error {
	dev := h.devtools(tab)
	if dev == nil {
		return newError(CodeTabNotBound, "no devtools channel bound for tab "+tab.String(), ErrNotBound)
	}
	if err := dev.Send(ctx, data); err != nil {
		return newError(CodeTabNotBound, "devtools channel send failed", err)
	}
	return nil
}

// Snapshot lists the routing table ordered by tab id.
func (h *Hub) Snapshot() []PairInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PairInfo, 0, len(h.connections))
	for tab, p := range h.connections {
		info := PairInfo{TabID: tab}
		if p.devtools != nil {
			info.Devtools = p.devtools.ID()
		}
		if p.content != nil {
			info.Content = p.content.ID()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

func (h *Hub) devtools(tab types.TabID) Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.connections[tab]; ok {
		return p.devtools
	}
	return nil
}

func (h *Hub) bind(tab types.TabID, side string, ep Endpoint) {
	h.mu.Lock()
	p, ok := h.connections[tab]
	if !ok {
		p = &pair{}
		h.connections[tab] = p
	}
	if side == types.ChannelDevtools {
		p.devtools = ep
	} else {
		p.content = ep
	}
	h.mu.Unlock()
	h.publish("bind", tab, map[string]string{"channel": side, "endpoint": ep.ID()})
}

// release clears side for tab if it still refers to ep and evicts the
// entry once both sides are gone.
func (h *Hub) release(tab types.TabID, side string, ep Endpoint) {
	h.mu.Lock()
	p, ok := h.connections[tab]
	if !ok {
		h.mu.Unlock()
		return
	}
	switch {
	case side == types.ChannelDevtools && p.devtools == ep:
		p.devtools = nil
	case side == types.ChannelContent && p.content == ep:
		p.content = nil
	}
	if p.empty() {
		delete(h.connections, tab)
	}
	h.mu.Unlock()
	h.publish("unbind", tab, map[string]string{"channel": side, "endpoint": ep.ID()})
}

func (h *Hub) export(ctx context.Context, tab *types.TabID, msg types.Message) {
	if len(msg.HAR) == 0 {
		slog.Warn("relay: getHAR message without har payload")
		return
	}
	if h.sink == nil {
		slog.Debug("relay: no sink configured, dropping har", "bytes", len(msg.HAR))
		return
	}
	if err := h.sink.Post(ctx, msg.HAR); err != nil {
		slog.Error("relay: native sink post failed", "error", err)
		return
	}
	slog.Info("relay: har forwarded to native sink", "bytes", len(msg.HAR))

	evt := map[string]any{"bytes": len(msg.HAR)}
	if len(msg.ActionID) > 0 {
		evt["action_id"] = msg.ActionID
	}
	var t types.TabID
	if tab != nil {
		t = *tab
	}
	h.publish("export", t, evt)
}

func (h *Hub) publish(feed string, tab types.TabID, payload any) {
	if h.broker == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.broker.Publish(Event{Feed: feed, TabID: tab, Payload: string(data)})
}

// Listener receives one channel's messages. It implements
// types.Registration.
type Listener struct {
	hub      *Hub
	name     string
	endpoint Endpoint
	meta     ConnMeta

	mu     sync.Mutex
	bound  bool
	tab    types.TabID
	closed bool
}

// Channel returns the channel name the listener was attached with.
func (l *Listener) Channel() string { return l.name }

// Handle processes one message received on the channel.
func (l *Listener) Handle(ctx context.Context, data []byte) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	if l.name == types.ChannelDevtools {
		l.handleDevtools(ctx, data)
		return
	}
	l.handleContent(ctx, data)
}

func (l *Listener) handleDevtools(ctx context.Context, data []byte) {
	msg, err := types.ParseMessage(data)
	if err != nil {
		slog.Debug("relay: dropping devtools message", "endpoint", l.endpoint.ID(), "error", err)
		return
	}
	if msg.TabIDErr != nil {
		slog.Debug("relay: devtools message with unusable tabId", "endpoint", l.endpoint.ID(), "error", msg.TabIDErr)
	}
	var tab *types.TabID
	if msg.TabID != nil {
		if !l.bindTo(*msg.TabID) {
			return
		}
		tab = msg.TabID
	} else if t, ok := l.boundTab(); ok {
		tab = &t
	}

	switch msg.Action {
	case types.ActionGetHAR:
		l.hub.export(ctx, tab, msg)
	case types.ActionRequestFinished:
		// Request notifications stop at the hub.
	}
}

func (l *Listener) handleContent(ctx context.Context, data []byte) {
	if l.meta.SenderTab == nil {
		slog.Debug("relay: content channel without sender tab", "endpoint", l.endpoint.ID())
		return
	}
	tab := *l.meta.SenderTab
	if !l.bindTo(tab) {
		return
	}

	msg, err := types.ParseMessage(data)
	if err != nil {
		slog.Debug("relay: dropping content message", "endpoint", l.endpoint.ID(), "error", err)
		return
	}
	if !msg.HasAction {
		return
	}
	dev := l.hub.devtools(tab)
	if dev == nil {
		return
	}
	if err := dev.Send(ctx, msg.Raw); err != nil {
		slog.Debug("relay: forward to devtools failed", "tab_id", tab, "error", err)
	}
}

// bindTo binds the listener's endpoint under tab, moving it if it was
// bound elsewhere. It reports false once the listener is deregistered.
func (l *Listener) bindTo(tab types.TabID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if l.bound && l.tab == tab {
		return true
	}
	if l.bound {
		l.hub.release(l.tab, l.name, l.endpoint)
	}
	l.hub.bind(tab, l.name, l.endpoint)
	l.bound = true
	l.tab = tab
	return true
}

func (l *Listener) boundTab() (types.TabID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tab, l.bound
}

// Deregister detaches the listener and clears its side of the routing
// entry. Later calls to Handle are ignored.
func (l *Listener) Deregister() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.bound {
		l.hub.release(l.tab, l.name, l.endpoint)
		l.bound = false
	}
	slog.Debug("relay: channel detached", "channel", l.name, "endpoint", l.endpoint.ID())
}
