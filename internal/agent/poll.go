package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dgnsrekt/harrelay/internal/har"
	"github.com/dgnsrekt/harrelay/internal/types"
)

// beginPoll starts waiting for the page HAR to be complete. A poll that is
// still running is cancelled and replaced.
func (a *Agent) beginPoll(actionID json.RawMessage) {
	a.mu.Lock()
	if a.ch == nil {
		a.mu.Unlock()
		return
	}
	if a.pollCancel != nil {
		a.pollCancel()
		slog.Debug("agent: replacing pending har poll", "tab_id", a.tab)
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.pollCancel = cancel
	a.pollSeq++
	seq := a.pollSeq
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		a.poll(ctx, seq, actionID)
	}()
}

func (a *Agent) poll(ctx context.Context, seq uint64, actionID json.RawMessage) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempts++
		harLog, err := a.har.HAR(ctx)
		if err != nil {
			slog.Debug("agent: har query failed", "tab_id", a.tab, "attempt", attempts, "error", err)
			continue
		}
		if !har.LoadComplete(harLog) {
			continue
		}
		if !a.finishPoll(seq) {
			return
		}

		if err := a.send(types.HARMessage{
			TabID:    a.tab,
			HAR:      harLog,
			Action:   types.ActionGetHAR,
			ActionID: actionID,
		}); err == nil {
			slog.Info("agent: har sent", "tab_id", a.tab, "attempts", attempts, "bytes", len(harLog))
		}
		return
	}
}

// finishPoll clears the pending poll if seq is still the current one.
func (a *Agent) finishPoll(seq uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pollSeq != seq || a.pollCancel == nil {
		return false
	}
	a.pollCancel()
	a.pollCancel = nil
	return true
}
