package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/harrelay/internal/sink"
)

func TestParseFlags(t *testing.T) {
	dir := t.TempDir()
	opts, err := parseFlags([]string{"--out-dir", dir, "--strip-content", "--parent-window=12", "chrome-extension://abc/"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.outDir != dir || !opts.stripContent || opts.wait {
		t.Fatalf("parseFlags() = %+v", opts)
	}
	if opts.origin != "chrome-extension://abc/" {
		t.Fatalf("origin = %q", opts.origin)
	}
	if opts.logFile != filepath.Join(dir, "harcatcher.log") {
		t.Fatalf("logFile = %q", opts.logFile)
	}
}

func TestParseFlagsRejectsBadLimit(t *testing.T) {
	if _, err := parseFlags([]string{"--max-message-bytes", "0"}); err == nil {
		t.Fatalf("parseFlags() error = nil; want error")
	}
}

func TestRunWaitPrintsSavedHAR(t *testing.T) {
	dir := t.TempDir()
	if _, err := sink.NewCatcher(sink.CatcherOptions{OutDir: dir}).Save([]byte(`{"log":{"pages":[]}}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var out bytes.Buffer
	opts := &options{outDir: dir, timeout: time.Second, pollInterval: 10 * time.Millisecond}
	if err := runWait(context.Background(), opts, &out); err != nil {
		t.Fatalf("runWait() error = %v", err)
	}
	var got struct {
		HAR map[string]any `json:"har"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output not json: %v", err)
	}
	if _, ok := got.HAR["log"]; !ok {
		t.Fatalf("har = %v; want saved log", got.HAR)
	}
}

func TestRunWaitTimeoutPrintsEmptyHAR(t *testing.T) {
	var out bytes.Buffer
	opts := &options{outDir: t.TempDir(), timeout: 30 * time.Millisecond, pollInterval: 10 * time.Millisecond}
	if err := runWait(context.Background(), opts, &out); err != nil {
		t.Fatalf("runWait() error = %v", err)
	}
	if got := bytes.TrimSpace(out.Bytes()); string(got) != `{"har":{}}` {
		t.Fatalf("runWait() output = %s", got)
	}
}
