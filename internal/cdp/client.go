package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/harrelay/internal/types"
)

// ClientOptions selects the page to attach to.
type ClientOptions struct {
	CDPURL       string
	TabURLFilter string
	// TabID is the relay tab id the attached page is reported under.
	TabID types.TabID
	// Reload reloads the page after attaching so its load is recorded.
	Reload bool
}

// Client attaches a Recorder to one browser page.
type Client struct {
	opts     ClientOptions
	recorder *Recorder

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu  sync.RWMutex
	tab types.TabInfo
}

func NewClient(opts ClientOptions, recorder *Recorder) *Client {
	return &Client{opts: opts, recorder: recorder, tab: types.TabInfo{TabID: opts.TabID}}
}

// Connect attaches to the first page target whose URL matches the filter
// and starts feeding its events to the recorder.
func (c *Client) Connect(ctx context.Context) error {
	slog.Info("connecting to Chromium", "url", c.opts.CDPURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.opts.CDPURL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		c.allocCancel()
		return fmt.Errorf("cdp: connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		c.allocCancel()
		return fmt.Errorf("cdp: enumerate targets: %w", err)
	}
	slog.Info("found browser targets", "count", len(targets))

	for _, t := range targets {
		if t.Type != "page" || !matchesTabURL(c.opts.TabURLFilter, t.URL) {
			continue
		}
		if err := ctx.Err(); err != nil {
			c.allocCancel()
			return err
		}
		if err := c.attach(t.TargetID, t.URL); err != nil {
			slog.Error("failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		return nil
	}

	c.allocCancel()
	return fmt.Errorf("cdp: no page found matching tab url filter %q", c.opts.TabURLFilter)
}

func (c *Client) attach(targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*page.EventFrameNavigated); ok && e.Frame != nil && e.Frame.ParentID == "" {
			c.setTab(targetID, e.Frame.URL)
			slog.Info("tab navigated", "target_id", targetID, "url", truncateURL(e.Frame.URL))
		}
		c.recorder.HandleEvent(ev, c.bodyFunc)
	})

	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable()); err != nil {
		tabCancel()
		return fmt.Errorf("cdp: enable network/page domains: %w", err)
	}

	c.mu.Lock()
	c.tabCtx, c.tabCancel = tabCtx, tabCancel
	c.mu.Unlock()
	c.setTab(targetID, url)
	slog.Info("attached to tab", "target_id", targetID, "url", truncateURL(url))

	if c.opts.Reload {
		reloadCtx, reloadCancel := context.WithTimeout(tabCtx, 30*time.Second)
		defer reloadCancel()
		if err := chromedp.Run(reloadCtx, chromedp.Reload()); err != nil {
			slog.Warn("failed to reload tab (continuing)", "target_id", targetID, "error", err)
		}
	}
	return nil
}

// bodyFunc returns a fetcher for one request's response body.
func (c *Client) bodyFunc(id network.RequestID) BodyFunc {
	return func(ctx context.Context) ([]byte, error) {
		c.mu.RLock()
		tabCtx := c.tabCtx
		c.mu.RUnlock()
		if tabCtx == nil {
			return nil, fmt.Errorf("cdp: not attached")
		}

		bodyCtx, cancel := context.WithTimeout(tabCtx, 10*time.Second)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		var body []byte
		err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err != nil {
			return nil, fmt.Errorf("cdp: get response body %s: %w", id, err)
		}
		return body, nil
	}
}

func (c *Client) setTab(targetID target.ID, url string) {
	c.mu.Lock()
	c.tab = types.TabInfo{TabID: c.opts.TabID, TargetID: string(targetID), URL: url}
	c.mu.Unlock()
}

// Tab returns the attached target and its current URL.
func (c *Client) Tab() types.TabInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tab
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.tabCancel != nil {
		c.tabCancel()
	}
	c.tabCtx = nil
	c.mu.Unlock()

	if c.allocCancel != nil {
		c.allocCancel()
	}
	slog.Info("CDP client closed")
	return nil
}

func matchesTabURL(filter, url string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(filter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
