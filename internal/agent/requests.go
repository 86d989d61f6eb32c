package agent

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/harrelay/internal/har"
	"github.com/dgnsrekt/harrelay/internal/types"
)

func (a *Agent) onRequestFinished(req har.FinishedRequest) {
	if req.Entry == nil {
		return
	}
	a.mu.Lock()
	if a.ch == nil {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	go func() {
		defer a.wg.Done()
		a.forwardRequest(req)
	}()
}

func (a *Agent) forwardRequest(req har.FinishedRequest) {
	entry := *req.Entry
	if req.Content != nil {
		text, encoding, err := req.Content(a.ctx)
		if err != nil {
			slog.Error("agent: request content unavailable", "url", entry.Request.URL, "error", err)
			return
		}
		entry.Response.Content.Text = text
		if encoding != "" {
			entry.Response.Content.Encoding = encoding
		}
	}
	entry.Response.Content.Comment = ""

	data, err := json.Marshal(&entry)
	if err != nil {
		slog.Error("agent: request serialization failed", "url", entry.Request.URL, "error", err)
		return
	}
	_ = a.send(types.RequestFinishedMessage{
		TabID:   a.tab,
		Action:  types.ActionRequestFinished,
		Request: string(data),
	})
}
