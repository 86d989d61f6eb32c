package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dgnsrekt/harrelay/internal/har"
	"github.com/dgnsrekt/harrelay/internal/nativemsg"
	"github.com/dgnsrekt/harrelay/internal/storage"
)

const (
	HARFile   = "har.json"
	ReadyFile = "har.json.ready"
)

// CatcherOptions configures the helper side of the native pipe.
type CatcherOptions struct {
	OutDir       string
	StripContent bool
	MaxMessage   int
	// Archive, when set, receives one record per saved HAR keyed by the
	// first page's URL.
	Archive *storage.ArchiveRegistry
	// Notifier, when set, is told about every saved HAR.
	Notifier Notifier
}

// Notifier announces saved HARs.
type Notifier interface {
	HARSaved(ctx context.Context, page string, size int) error
}

// Ack is the reply frame written after each message.
type Ack struct {
	Status string `json:"status"`
	Bytes  int    `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

type archiveRecord struct {
	Time time.Time       `json:"time"`
	Page string          `json:"page,omitempty"`
	HAR  json.RawMessage `json:"har"`
}

// Catcher saves every HAR it receives on the native pipe.
type Catcher struct {
	opts CatcherOptions
	now  func() time.Time
}

func NewCatcher(opts CatcherOptions) *Catcher {
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	return &Catcher{opts: opts, now: time.Now}
}

// Run reads frames from r until EOF or ctx is done, saving each one and
// acknowledging it on w. A save failure is acknowledged with status "error"
// and does not stop the loop.
func (c *Catcher) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := nativemsg.NewReader(r, c.opts.MaxMessage)
	writer := nativemsg.NewWriter(w, nativemsg.MaxHostMessage)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("native pipe closed")
				return nil
			}
			return fmt.Errorf("sink: read frame: %w", err)
		}

		ack := Ack{Status: "saved"}
		n, err := c.Save(msg)
		if err != nil {
			slog.Error("couldn't save HAR", "error", err)
			ack = Ack{Status: "error", Error: err.Error()}
		} else {
			ack.Bytes = n
			c.notify(ctx, msg, n)
		}
		reply, _ := json.Marshal(ack)
		if err := writer.Write(reply); err != nil {
			return fmt.Errorf("sink: write ack: %w", err)
		}
	}
}

func (c *Catcher) notify(ctx context.Context, msg []byte, size int) {
	if c.opts.Notifier == nil {
		return
	}
	if err := c.opts.Notifier.HARSaved(ctx, har.FirstPageTitle(msg), size); err != nil {
		slog.Warn("HAR notification failed", "error", err)
	}
}

// Save writes one HAR to the output directory and marks it ready. It
// returns the number of bytes written to har.json.
func (c *Catcher) Save(msg []byte) (int, error) {
	if !json.Valid(msg) {
		return 0, errors.New("sink: message is not valid JSON")
	}
	data := msg
	if c.opts.StripContent {
		stripped, err := har.StripContent(msg)
		if err != nil {
			return 0, err
		}
		data = stripped
	}

	if err := storage.WriteFileAtomic(filepath.Join(c.opts.OutDir, HARFile), data); err != nil {
		return 0, err
	}
	if err := storage.Touch(filepath.Join(c.opts.OutDir, ReadyFile)); err != nil {
		return 0, err
	}

	page := har.FirstPageTitle(data)
	slog.Info("HAR saved", "bytes", len(data), "page", page)

	if c.opts.Archive != nil {
		rec := archiveRecord{Time: c.now().UTC(), Page: page, HAR: data}
		if err := c.opts.Archive.Get(storage.PathSegmentFromURL(page)).Append(rec); err != nil {
			// har.json is already in place; the archive is best effort.
			slog.Warn("archive append failed", "page", page, "error", err)
		}
	}
	return len(data), nil
}
