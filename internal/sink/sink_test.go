package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/harrelay/internal/nativemsg"
	"github.com/dgnsrekt/harrelay/internal/storage"
)

const helperEnv = "HARRELAY_SINK_HELPER_DIR"

// TestMain doubles as a native helper when the test binary is re-executed
// by TestProcessPostsToHelper.
func TestMain(m *testing.M) {
	if dir := os.Getenv(helperEnv); dir != "" {
		c := NewCatcher(CatcherOptions{OutDir: dir})
		if err := c.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

const sampleHAR = `{"log":{"version":"1.2","pages":[{"id":"page_1","title":"https://example.com/docs"}],"entries":[{"response":{"status":200,"content":{"size":5,"mimeType":"text/plain","text":"hello\\u0000"}}}]}}`

func frames(t *testing.T, msgs ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := nativemsg.NewWriter(&buf, 0)
	for _, m := range msgs {
		if err := w.Write([]byte(m)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	return &buf
}

func readAcks(t *testing.T, out *bytes.Buffer) []Ack {
	t.Helper()
	r := nativemsg.NewReader(out, 0)
	var acks []Ack
	for {
		msg, err := r.Read()
		if err != nil {
			return acks
		}
		var a Ack
		if err := json.Unmarshal(msg, &a); err != nil {
			t.Fatalf("ack not json: %s", msg)
		}
		acks = append(acks, a)
	}
}

func TestCatcherSavesEachMessage(t *testing.T) {
	dir := t.TempDir()
	c := NewCatcher(CatcherOptions{OutDir: dir})

	in := frames(t, `{"log":{"n":1}}`, sampleHAR)
	var out bytes.Buffer
	if err := c.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, HARFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != sampleHAR {
		t.Fatalf("har.json = %s; want last message", data)
	}
	if _, err := os.Stat(filepath.Join(dir, ReadyFile)); err != nil {
		t.Fatalf("ready marker missing: %v", err)
	}

	acks := readAcks(t, &out)
	if len(acks) != 2 {
		t.Fatalf("acks = %d; want 2", len(acks))
	}
	if acks[1].Status != "saved" || acks[1].Bytes != len(sampleHAR) {
		t.Fatalf("ack = %+v", acks[1])
	}
}

type recordingNotifier struct {
	pages []string
	sizes []int
}

func (n *recordingNotifier) HARSaved(_ context.Context, page string, size int) error {
	n.pages = append(n.pages, page)
	n.sizes = append(n.sizes, size)
	return nil
}

func TestCatcherNotifiesSavedHARs(t *testing.T) {
	notifier := &recordingNotifier{}
	c := NewCatcher(CatcherOptions{OutDir: t.TempDir(), Notifier: notifier})

	var out bytes.Buffer
	if err := c.Run(context.Background(), frames(t, sampleHAR, `{broken`), &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(notifier.pages) != 1 || notifier.pages[0] != "https://example.com/docs" || notifier.sizes[0] != len(sampleHAR) {
		t.Fatalf("notifications = %v %v", notifier.pages, notifier.sizes)
	}
}

func TestCatcherAcksInvalidJSONAndContinues(t *testing.T) {
	dir := t.TempDir()
	c := NewCatcher(CatcherOptions{OutDir: dir})

	var out bytes.Buffer
	if err := c.Run(context.Background(), frames(t, `{broken`, `{"ok":true}`), &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	acks := readAcks(t, &out)
	if len(acks) != 2 || acks[0].Status != "error" || acks[1].Status != "saved" {
		t.Fatalf("acks = %+v", acks)
	}
}

func TestCatcherStripsAndArchives(t *testing.T) {
	dir := t.TempDir()
	archiveDir := t.TempDir()
	reg := storage.NewArchiveRegistry(archiveDir, 1)
	c := NewCatcher(CatcherOptions{OutDir: dir, StripContent: true, Archive: reg})
	c.now = func() time.Time { return time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC) }

	if _, err := c.Save([]byte(sampleHAR)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, HARFile))
	if strings.Contains(string(data), "hello") || strings.Contains(string(data), `u0000`) {
		t.Fatalf("har.json still has content: %s", data)
	}

	line, err := os.ReadFile(filepath.Join(archiveDir, "2026-05-06", "example.com_docs", "har.jsonl"))
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	var rec archiveRecord
	if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
		t.Fatalf("archive line not json: %v", err)
	}
	if rec.Page != "https://example.com/docs" {
		t.Fatalf("archive page = %q", rec.Page)
	}
}

func TestWaitReady(t *testing.T) {
	dir := t.TempDir()
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = NewCatcher(CatcherOptions{OutDir: dir}).Save([]byte(`{"log":{}}`))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := WaitReady(ctx, dir, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if string(got) != `{"log":{}}` {
		t.Fatalf("WaitReady() = %s", got)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err := WaitReady(ctx, t.TempDir(), 10*time.Millisecond)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("WaitReady() error = %v; want ErrNotReady", err)
	}
}

func TestProcessPostsToHelper(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(helperEnv, dir)

	p, err := Start("har_catcher", os.Args[0])
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Post(context.Background(), json.RawMessage(sampleHAR)); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := WaitReady(ctx, dir, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if string(got) != sampleHAR {
		t.Fatalf("helper wrote %s", got)
	}

	p.Stop()
	if err := p.Post(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatalf("Post() after Stop succeeded; want error")
	}
}

func TestPostReturnsWhenHelperStalls(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	p := &Process{
		name:    "stalled",
		stdin:   pw,
		writer:  nativemsg.NewWriter(pw, 0),
		timeout: time.Hour,
		exited:  make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.Post(ctx, json.RawMessage(sampleHAR))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Post() error = %v; want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Post() returned after %v", elapsed)
	}

	p.timeout = 20 * time.Millisecond
	if err := p.Post(context.Background(), json.RawMessage(`{}`)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Post() with post timeout error = %v; want context.DeadlineExceeded", err)
	}
}
