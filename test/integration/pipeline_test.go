//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"

	"github.com/dgnsrekt/harrelay/internal/agent"
	"github.com/dgnsrekt/harrelay/internal/api"
	"github.com/dgnsrekt/harrelay/internal/cdp"
	"github.com/dgnsrekt/harrelay/internal/channel"
	"github.com/dgnsrekt/harrelay/internal/nativemsg"
	"github.com/dgnsrekt/harrelay/internal/relay"
	"github.com/dgnsrekt/harrelay/internal/sink"
)

// pipeSink writes native frames into an in-process catcher.
type pipeSink struct {
	w *nativemsg.Writer
}

func (s *pipeSink) Post(_ context.Context, har json.RawMessage) error {
	return s.w.Write(har)
}

type pipeline struct {
	baseURL string
	outDir  string
	acks    chan sink.Ack
}

func startPipeline(t *testing.T, ctx context.Context) *pipeline {
	t.Helper()
	p := &pipeline{outDir: t.TempDir(), acks: make(chan sink.Ack, 8)}

	toCatcher, hubSide := io.Pipe()
	ackRead, ackWrite := io.Pipe()
	t.Cleanup(func() {
		_ = hubSide.Close()
		_ = ackRead.Close()
	})

	catcher := sink.NewCatcher(sink.CatcherOptions{OutDir: p.outDir})
	go func() { _ = catcher.Run(ctx, toCatcher, ackWrite) }()
	go func() {
		r := nativemsg.NewReader(ackRead, nativemsg.MaxHostMessage)
		for {
			msg, err := r.Read()
			if err != nil {
				return
			}
			var ack sink.Ack
			if json.Unmarshal(msg, &ack) == nil {
				p.acks <- ack
			}
		}
	}()

	broker := relay.NewBroker()
	hub := relay.NewHub(&pipeSink{w: nativemsg.NewWriter(hubSide, 0)}, broker)
	srv := httptest.NewServer(api.NewServer(hub, api.Options{
		Events:  relay.SSEHandler(broker),
		Connect: channel.Handler(ctx, hub),
	}))
	t.Cleanup(srv.Close)
	p.baseURL = srv.URL
	return p
}

func (p *pipeline) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(p.baseURL, "http") + path
}

func loadedRecorder(url string) *cdp.Recorder {
	r := cdp.NewRecorder(cdp.RecorderOptions{})
	now := cdpproto.MonotonicTime(time.Now())
	r.HandleEvent(&network.EventRequestWillBeSent{
		RequestID: "L1",
		LoaderID:  "L1",
		FrameID:   "F1",
		Type:      network.ResourceTypeDocument,
		Timestamp: &now,
		Request:   &network.Request{URL: url, Method: "GET"},
	}, nil)
	r.HandleEvent(&page.EventFrameNavigated{Frame: &cdpproto.Frame{ID: "F1", URL: url}}, nil)
	r.HandleEvent(&page.EventLoadEventFired{Timestamp: &now}, nil)
	return r
}

func waitForTab(t *testing.T, baseURL string, tab int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/v1/tabs")
		if err == nil {
			var out struct {
				Tabs []relay.PairInfo `json:"tabs"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&out)
			_ = resp.Body.Close()
			for _, info := range out.Tabs {
				if int64(info.TabID) == tab && info.Devtools != "" {
					return
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tab %d never bound", tab)
}

func TestHARExportThroughAPI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	p := startPipeline(t, ctx)

	conn, err := channel.Dial(ctx, p.wsURL("/connect/devtools"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	rec := loadedRecorder("https://example.com/landing")
	defer rec.Close()
	a := agent.New(conn, 5, rec, rec, agent.Options{PollInterval: 10 * time.Millisecond})
	defer func() { _ = a.Close() }()
	go func() { _ = a.Run(ctx) }()

	waitForTab(t, p.baseURL, 5)

	resp, err := http.Post(p.baseURL+"/api/v1/tabs/5/har?action_id=it-1", "application/json", nil)
	if err != nil {
		t.Fatalf("POST har error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST har status = %d", resp.StatusCode)
	}

	select {
	case ack := <-p.acks:
		if ack.Status != "saved" {
			t.Fatalf("ack = %+v", ack)
		}
	case <-ctx.Done():
		t.Fatalf("no ack from catcher")
	}

	har, err := sink.WaitReady(ctx, p.outDir, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if !strings.Contains(string(har), "https://example.com/landing") {
		t.Fatalf("saved har = %s", har)
	}
}

func TestHARExportThroughContentChannel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	p := startPipeline(t, ctx)

	conn, err := channel.Dial(ctx, p.wsURL("/connect/devtools"))
	if err != nil {
		t.Fatalf("Dial(devtools) error = %v", err)
	}
	rec := loadedRecorder("https://example.com/content")
	defer rec.Close()
	a := agent.New(conn, 9, rec, rec, agent.Options{PollInterval: 10 * time.Millisecond})
	defer func() { _ = a.Close() }()
	go func() { _ = a.Run(ctx) }()
	waitForTab(t, p.baseURL, 9)

	content, err := channel.Dial(ctx, p.wsURL("/connect/content?tab_id=9"))
	if err != nil {
		t.Fatalf("Dial(content) error = %v", err)
	}
	defer func() { _ = content.Close() }()
	if err := content.Send(ctx, []byte(`{"action":"getHAR"}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	har, err := sink.WaitReady(ctx, p.outDir, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if !strings.Contains(string(har), "https://example.com/content") {
		t.Fatalf("saved har = %s", har)
	}
}
