package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotReady is returned by WaitReady when ctx ends before a HAR is marked
// ready.
var ErrNotReady = errors.New("sink: HAR not ready")

// WaitReady polls dir for the ready marker and returns the saved HAR.
func WaitReady(ctx context.Context, dir string, interval time.Duration) (json.RawMessage, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ready := filepath.Join(dir, ReadyFile)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(ready); err == nil {
			return readHAR(filepath.Join(dir, HARFile))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
}

func readHAR(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sink: read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("sink: %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
