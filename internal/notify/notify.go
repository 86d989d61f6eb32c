// Package notify posts short text notifications to an ntfy-style endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Notifier posts to one endpoint.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// New returns a Notifier for endpoint. A nil client uses one with a short
// timeout.
func New(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Notifier{endpoint: endpoint, client: client}
}

// HARSaved announces a saved HAR.
func (n *Notifier) HARSaved(ctx context.Context, page string, size int) error {
	if page == "" {
		page = "unknown page"
	}
	return Send(ctx, n.client, n.endpoint, fmt.Sprintf("HAR saved for %s (%d bytes)", page, size))
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("notify: endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
