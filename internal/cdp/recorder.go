// Package cdp records a page's network activity over the Chrome DevTools
// Protocol and exposes it as a HAR log.
package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"

	"github.com/dgnsrekt/harrelay/internal/har"
	"github.com/dgnsrekt/harrelay/internal/types"
)

const (
	creatorName    = "harrelay"
	creatorVersion = "1.0"

	pendingTTL       = 5 * time.Minute
	defaultMaxEntry  = 5000
	defaultBodyBytes = 50 * 1024 * 1024
)

// BodyFunc fetches a finished response body.
type BodyFunc func(ctx context.Context) ([]byte, error)

// RecorderOptions bound what the recorder keeps.
type RecorderOptions struct {
	MaxEntries   int
	MaxBodyBytes int
}

type pendingRequest struct {
	entry     *har.Entry
	started   time.Time
	timing    *network.ResourceTiming
	createdAt time.Time
}

type pageState struct {
	page    *har.Page
	started time.Time
}

// Recorder turns network and page events into a HAR log. Feed it events
// with HandleEvent; read it with HAR and OnRequestFinished.
type Recorder struct {
	opts RecorderOptions

	mu        sync.Mutex
	pages     []*pageState
	entries   []*har.Entry
	pending   map[network.RequestID]*pendingRequest
	mainFrame cdpproto.FrameID
	listeners map[int]func(har.FinishedRequest)
	nextID    int

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntry
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultBodyBytes
	}
	r := &Recorder{
		opts:      opts,
		pending:   make(map[network.RequestID]*pendingRequest),
		listeners: make(map[int]func(har.FinishedRequest)),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

func (r *Recorder) Close() {
	r.once.Do(func() { close(r.done) })
}

// HandleEvent dispatches one CDP event. body fetches the response body
// for a finished request; it may be nil.
func (r *Recorder) HandleEvent(ev any, body func(network.RequestID) BodyFunc) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			r.onMainFrameNavigated(e.Frame)
		}
	case *page.EventDomContentEventFired:
		r.onPageEvent(e.Timestamp, false)
	case *page.EventLoadEventFired:
		r.onPageEvent(e.Timestamp, true)
	case *network.EventRequestWillBeSent:
		r.onRequestWillBeSent(e)
	case *network.EventResponseReceived:
		r.onResponseReceived(e)
	case *network.EventLoadingFinished:
		var fetch BodyFunc
		if body != nil {
			fetch = body(e.RequestID)
		}
		r.onLoadingFinished(e, fetch)
	case *network.EventLoadingFailed:
		r.mu.Lock()
		delete(r.pending, e.RequestID)
		r.mu.Unlock()
		slog.Debug("request failed", "request_id", e.RequestID, "error", e.ErrorText, "canceled", e.Canceled)
	}
}

// HAR returns the current log (the object holding pages and entries).
func (r *Recorder) HAR(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	log := har.Log{
		Version: har.Version,
		Creator: har.Creator{Name: creatorName, Version: creatorVersion},
		Pages:   make([]*har.Page, 0, len(r.pages)),
		Entries: make([]*har.Entry, 0, len(r.entries)),
	}
	for _, p := range r.pages {
		cp := *p.page
		log.Pages = append(log.Pages, &cp)
	}
	for _, e := range r.entries {
		cp := *e
		log.Entries = append(log.Entries, &cp)
	}
	r.mu.Unlock()

	data, err := json.Marshal(&log)
	if err != nil {
		return nil, fmt.Errorf("cdp: marshal har: %w", err)
	}
	return data, nil
}

// OnRequestFinished registers fn for every request that finishes loading.
func (r *Recorder) OnRequestFinished(fn func(har.FinishedRequest)) types.Registration {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return types.RegistrationFunc(func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	})
}

func (r *Recorder) startPageLocked(title string, started time.Time) *pageState {
	ps := &pageState{
		page: &har.Page{
			StartedDateTime: formatTime(started),
			ID:              fmt.Sprintf("page_%d", len(r.pages)+1),
			Title:           title,
		},
		started: started,
	}
	r.pages = append(r.pages, ps)
	return ps
}

func (r *Recorder) currentPageLocked() *pageState {
	if len(r.pages) == 0 {
		return nil
	}
	return r.pages[len(r.pages)-1]
}

func (r *Recorder) onMainFrameNavigated(frame *cdpproto.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mainFrame = frame.ID
	if cur := r.currentPageLocked(); cur != nil {
		cur.page.Title = frame.URL
		return
	}
	r.startPageLocked(frame.URL, r.now())
}

// onPageEvent fills page timings in milliseconds since the page started.
func (r *Recorder) onPageEvent(ts *cdpproto.MonotonicTime, load bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.currentPageLocked()
	if cur == nil {
		return
	}
	at := r.now()
	if ts != nil && !ts.Time().IsZero() {
		at = ts.Time()
	}
	ms := millis(at.Sub(cur.started))
	if load {
		cur.page.PageTimings.OnLoad = &ms
	} else {
		cur.page.PageTimings.OnContentLoad = &ms
	}
}

func (r *Recorder) onRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	started := r.now()
	if ev.Timestamp != nil && !ev.Timestamp.Time().IsZero() {
		started = ev.Timestamp.Time()
	}
	wall := started
	if ev.WallTime != nil && !ev.WallTime.Time().IsZero() {
		wall = ev.WallTime.Time()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.pending[ev.RequestID]; ok && ev.RedirectResponse != nil {
		applyResponse(prev.entry, ev.RedirectResponse, prev.entry.ResourceType)
		prev.entry.Response.RedirectURL = ev.Request.URL
		prev.entry.Time = millis(started.Sub(prev.started))
		r.appendEntryLocked(prev.entry)
		delete(r.pending, ev.RequestID)
	}

	navigation := ev.Type == network.ResourceTypeDocument &&
		string(ev.RequestID) == string(ev.LoaderID) &&
		(r.mainFrame == "" || ev.FrameID == r.mainFrame)
	if navigation && ev.RedirectResponse == nil {
		r.startPageLocked(ev.Request.URL, started)
	}

	entry := &har.Entry{
		StartedDateTime: formatTime(wall),
		Request:         buildRequest(ev.Request),
		Response:        har.Response{Cookies: []har.Cookie{}, Headers: []har.NameValue{}},
		Timings:         har.Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1},
		ResourceType:    strings.ToLower(string(ev.Type)),
	}
	if cur := r.currentPageLocked(); cur != nil {
		entry.Pageref = cur.page.ID
	}
	r.pending[ev.RequestID] = &pendingRequest{entry: entry, started: started, createdAt: r.now()}
}

func (r *Recorder) onResponseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[ev.RequestID]
	if !ok {
		return
	}
	applyResponse(p.entry, ev.Response, strings.ToLower(string(ev.Type)))
	p.timing = ev.Response.Timing
}

func (r *Recorder) onLoadingFinished(ev *network.EventLoadingFinished, fetch BodyFunc) {
	finished := r.now()
	if ev.Timestamp != nil && !ev.Timestamp.Time().IsZero() {
		finished = ev.Timestamp.Time()
	}

	r.mu.Lock()
	p, ok := r.pending[ev.RequestID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, ev.RequestID)

	entry := p.entry
	entry.Time = millis(finished.Sub(p.started))
	entry.Timings = buildTimings(p.timing, entry.Time)
	entry.Response.BodySize = int64(ev.EncodedDataLength)
	if entry.Response.Content.Size == 0 {
		entry.Response.Content.Size = int64(ev.EncodedDataLength)
	}
	r.appendEntryLocked(entry)

	listeners := make([]func(har.FinishedRequest), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	snapshot := *entry
	r.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	req := har.FinishedRequest{Entry: &snapshot}
	if fetch != nil {
		maxBytes := r.opts.MaxBodyBytes
		req.Content = func(ctx context.Context) (string, string, error) {
			body, err := fetch(ctx)
			if err != nil {
				return "", "", err
			}
			text, encoding, note := encodeBody(body, maxBytes)
			if note != "" {
				slog.Warn("response body truncated", "url", snapshot.Request.URL, "note", note)
			}
			return text, encoding, nil
		}
	}
	for _, fn := range listeners {
		fn(req)
	}
}

func (r *Recorder) appendEntryLocked(e *har.Entry) {
	r.entries = append(r.entries, e)
	if over := len(r.entries) - r.opts.MaxEntries; over > 0 {
		r.entries = append([]*har.Entry(nil), r.entries[over:]...)
		slog.Warn("har entry limit reached, dropping oldest", "dropped", over)
	}
}

func (r *Recorder) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanupStale()
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) cleanupStale() {
	threshold := r.now().Add(-pendingTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		if p.createdAt.Before(threshold) {
			delete(r.pending, id)
		}
	}
}

func buildRequest(req *network.Request) har.Request {
	out := har.Request{
		Method:      req.Method,
		URL:         req.URL + req.URLFragment,
		HTTPVersion: "HTTP/1.1",
		Cookies:     []har.Cookie{},
		Headers:     headerList(req.Headers),
		QueryString: []har.NameValue{},
		HeadersSize: -1,
		BodySize:    0,
	}
	if u, err := url.Parse(req.URL); err == nil {
		for name, values := range u.Query() {
			for _, v := range values {
				out.QueryString = append(out.QueryString, har.NameValue{Name: name, Value: v})
			}
		}
		sort.Slice(out.QueryString, func(i, j int) bool { return out.QueryString[i].Name < out.QueryString[j].Name })
	}
	if req.HasPostData {
		text := postDataText(req)
		out.PostData = &har.PostData{MimeType: headerValue(req.Headers, "Content-Type"), Text: text}
		out.BodySize = int64(len(text))
	}
	return out
}

func postDataText(req *network.Request) string {
	var decoded []byte
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		part, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			decoded = append(decoded, entry.Bytes...)
		} else {
			decoded = append(decoded, part...)
		}
	}
	return string(decoded)
}

func applyResponse(entry *har.Entry, resp *network.Response, resourceType string) {
	entry.Response.Status = resp.Status
	entry.Response.StatusText = resp.StatusText
	entry.Response.HTTPVersion = httpVersion(resp.Protocol)
	entry.Response.Headers = headerList(resp.Headers)
	entry.Response.Cookies = []har.Cookie{}
	entry.Response.RedirectURL = headerValue(resp.Headers, "Location")
	entry.Response.HeadersSize = -1
	entry.Response.Content.MimeType = resp.MimeType
	if len(resp.RequestHeaders) > 0 {
		entry.Request.Headers = headerList(resp.RequestHeaders)
	}
	entry.Request.HTTPVersion = entry.Response.HTTPVersion
	entry.ServerIPAddress = resp.RemoteIPAddress
	if resp.ConnectionID > 0 {
		entry.Connection = fmt.Sprintf("%.0f", resp.ConnectionID)
	}
	if resourceType != "" {
		entry.ResourceType = resourceType
	}
}

// buildTimings converts CDP resource timing offsets into HAR phases.
func buildTimings(t *network.ResourceTiming, total float64) har.Timings {
	out := har.Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Send: 0, Wait: 0, Receive: total}
	if t == nil {
		return out
	}
	phase := func(start, end float64) float64 {
		if start < 0 || end < 0 {
			return -1
		}
		return end - start
	}
	out.DNS = phase(t.DNSStart, t.DNSEnd)
	out.Connect = phase(t.ConnectStart, t.ConnectEnd)
	out.SSL = phase(t.SslStart, t.SslEnd)
	if first := firstNonNegative(t.DNSStart, t.ConnectStart, t.SendStart); first >= 0 {
		out.Blocked = first
	}
	out.Send = clamp(t.SendEnd - t.SendStart)
	out.Wait = clamp(t.ReceiveHeadersEnd - t.SendEnd)
	out.Receive = clamp(total - t.ReceiveHeadersEnd)
	return out
}

func headerList(h network.Headers) []har.NameValue {
	out := make([]har.NameValue, 0, len(h))
	for k, v := range h {
		out = append(out, har.NameValue{Name: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func headerValue(h network.Headers, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func httpVersion(protocol string) string {
	switch strings.ToLower(protocol) {
	case "", "http/1.1":
		return "HTTP/1.1"
	case "http/1.0":
		return "HTTP/1.0"
	case "h2":
		return "HTTP/2.0"
	case "h3", "h3-29":
		return "HTTP/3"
	default:
		return strings.ToUpper(protocol)
	}
}

func firstNonNegative(vals ...float64) float64 {
	for _, v := range vals {
		if v >= 0 {
			return v
		}
	}
	return -1
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
