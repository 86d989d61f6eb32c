// Package agent implements the devtools side of the relay: it announces the
// inspected tab to the hub, forwards finished requests, and answers getHAR
// once the page has loaded.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/harrelay/internal/har"
	"github.com/dgnsrekt/harrelay/internal/types"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	sendTimeout         = 10 * time.Second
)

// Channel is the agent's connection to the hub.
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Read() ([]byte, error)
	Close() error
}

// HARSource returns the page's accumulated HAR log (the object holding
// "pages" and "entries").
type HARSource interface {
	HAR(ctx context.Context) (json.RawMessage, error)
}

// RequestSource reports completed network requests to a registered
// observer.
type RequestSource interface {
	OnRequestFinished(fn func(har.FinishedRequest)) types.Registration
}

type observeState int

const (
	stateIdle observeState = iota
	stateObserving
)

func (s observeState) String() string {
	if s == stateObserving {
		return "observing"
	}
	return "idle"
}

// Options tunes an Agent.
type Options struct {
	PollInterval time.Duration
}

// Agent bridges a page's network observation to the relay hub.
type Agent struct {
	tab          types.TabID
	har          HARSource
	requests     RequestSource
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	ch         Channel
	state      observeState
	observer   types.Registration
	pollCancel context.CancelFunc
	pollSeq    uint64
}

// New creates an agent for tab talking to the hub over ch.
func New(ch Channel, tab types.TabID, hs HARSource, rs RequestSource, opts Options) *Agent {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		tab:          tab,
		har:          hs,
		requests:     rs,
		pollInterval: opts.PollInterval,
		ctx:          ctx,
		cancel:       cancel,
		ch:           ch,
	}
}

// Start sends the initialization message, which must be the first message
// on the channel, and enables request observation.
func (a *Agent) Start(ctx context.Context) error {
	data, err := json.Marshal(types.InitMessage{TabID: a.tab})
	if err != nil {
		return fmt.Errorf("agent: init message: %w", err)
	}
	ch := a.channel()
	if ch == nil {
		return errors.New("agent: channel released")
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, data); err != nil {
		return fmt.Errorf("agent: init: %w", err)
	}
	slog.Info("agent initialized", "tab_id", a.tab)
	a.AddRequestListener()
	return nil
}

// Run starts the agent and dispatches hub messages until the channel
// disconnects or ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	ch := a.channel()
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	for {
		data, err := ch.Read()
		if err != nil {
			a.teardown()
			if ctx.Err() != nil {
				return nil
			}
			slog.Info("agent channel disconnected", "tab_id", a.tab, "error", err)
			return fmt.Errorf("agent: channel closed: %w", err)
		}
		a.HandleMessage(data)
	}
}

// HandleMessage dispatches one message received from the hub.
func (a *Agent) HandleMessage(data []byte) {
	msg, err := types.ParseMessage(data)
	if err != nil {
		slog.Error("agent: message rejected", "error", err)
		return
	}
	switch msg.Action {
	case types.ActionGetHAR:
		a.beginPoll(msg.ActionID)
	case types.ActionAddRequestListener:
		a.AddRequestListener()
	case types.ActionRemoveRequestListener:
		a.RemoveRequestListener()
	}
}

// AddRequestListener moves idle -> observing. It reports false when the
// agent was already observing.
func (a *Agent) AddRequestListener() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateObserving || a.requests == nil {
		return false
	}
	a.observer = a.requests.OnRequestFinished(a.onRequestFinished)
	a.state = stateObserving
	slog.Debug("agent: request observation enabled", "tab_id", a.tab)
	return true
}

// RemoveRequestListener moves observing -> idle. It reports false when the
// agent was already idle.
func (a *Agent) RemoveRequestListener() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopObservingLocked()
}

func (a *Agent) stopObservingLocked() bool {
	if a.state == stateIdle {
		return false
	}
	if a.observer != nil {
		a.observer.Deregister()
		a.observer = nil
	}
	a.state = stateIdle
	slog.Debug("agent: request observation disabled", "tab_id", a.tab)
	return true
}

// Observing reports whether request observation is enabled.
func (a *Agent) Observing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateObserving
}

// Close releases the channel, stops any poll and waits for in-flight work.
func (a *Agent) Close() error {
	ch := a.teardown()
	a.cancel()
	a.wg.Wait()
	if ch != nil {
		return ch.Close()
	}
	return nil
}

// teardown releases the channel reference and stops observation and
// polling. It returns the released channel, if any.
func (a *Agent) teardown() Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := a.ch
	a.ch = nil
	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
	a.stopObservingLocked()
	return ch
}

func (a *Agent) channel() Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch
}

func (a *Agent) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("agent: marshal: %w", err)
	}
	ch := a.channel()
	if ch == nil {
		slog.Debug("agent: channel released, message dropped", "tab_id", a.tab)
		return errors.New("agent: channel released")
	}
	ctx, cancel := context.WithTimeout(a.ctx, sendTimeout)
	defer cancel()
	if err := ch.Send(ctx, data); err != nil {
		slog.Warn("agent: send failed", "tab_id", a.tab, "error", err)
		return err
	}
	return nil
}
