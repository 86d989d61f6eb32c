// Command harcatcher is the native-messaging host that receives exported
// HARs. With --wait it instead waits for a saved HAR and prints it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dgnsrekt/harrelay/internal/logging"
	"github.com/dgnsrekt/harrelay/internal/nativemsg"
	"github.com/dgnsrekt/harrelay/internal/notify"
	"github.com/dgnsrekt/harrelay/internal/sink"
	"github.com/dgnsrekt/harrelay/internal/storage"
)

type options struct {
	outDir          string
	archiveDir      string
	maxArchiveMB    int
	stripContent    bool
	maxMessageBytes int
	logFile         string
	logLevel        string
	notifyURL       string

	wait         bool
	timeout      time.Duration
	pollInterval time.Duration

	// origin is the calling extension, passed by the browser as the first
	// positional argument.
	origin string
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("harcatcher", pflag.ContinueOnError)
	flagSet.StringVar(&opts.outDir, "out-dir", ".", "directory receiving har.json and har.json.ready")
	flagSet.StringVar(&opts.archiveDir, "archive-dir", "", "append every HAR to dated JSONL archives under this directory")
	flagSet.IntVar(&opts.maxArchiveMB, "max-archive-mb", 200, "rotate archive files at this size")
	flagSet.BoolVar(&opts.stripContent, "strip-content", false, "drop response bodies and escaped NULs before saving")
	flagSet.IntVar(&opts.maxMessageBytes, "max-message-bytes", nativemsg.DefaultMaxMessage, "reject incoming messages larger than this")
	flagSet.StringVar(&opts.logFile, "log-file", "", "log file (default: <out-dir>/harcatcher.log)")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.StringVar(&opts.notifyURL, "notify-url", "", "POST a short notice to this ntfy endpoint after each saved HAR")
	flagSet.BoolVar(&opts.wait, "wait", false, "wait for a saved HAR and print {\"har\": ...} on stdout")
	flagSet.DurationVar(&opts.timeout, "timeout", 30*time.Second, "how long --wait waits")
	flagSet.DurationVar(&opts.pollInterval, "poll-interval", 100*time.Millisecond, "how often --wait checks for the ready marker")
	// Chrome on Windows passes --parent-window to native hosts.
	flagSet.Int("parent-window", 0, "")
	_ = flagSet.MarkHidden("parent-window")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		opts.origin = rest[0]
	}
	if opts.logFile == "" {
		opts.logFile = filepath.Join(opts.outDir, "harcatcher.log")
	}
	if opts.maxMessageBytes <= 0 {
		return nil, fmt.Errorf("--max-message-bytes must be positive")
	}
	return opts, nil
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// stdout carries native-messaging frames, so logs go to stderr.
	logCloser, err := logging.Setup(opts.logLevel, opts.logFile, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger setup: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.wait {
		return runWait(ctx, opts, stdout)
	}
	return runCatcher(ctx, opts, stdin, stdout)
}

func runCatcher(ctx context.Context, opts *options, stdin io.Reader, stdout io.Writer) error {
	slog.Info("harcatcher started", "origin", opts.origin, "out_dir", opts.outDir,
		"archive_dir", opts.archiveDir, "strip_content", opts.stripContent)

	var archive *storage.ArchiveRegistry
	if opts.archiveDir != "" {
		archive = storage.NewArchiveRegistry(opts.archiveDir, opts.maxArchiveMB)
		defer func() {
			if err := archive.Close(); err != nil {
				slog.Warn("archive close failed", "error", err)
			}
		}()
	}

	catcherOpts := sink.CatcherOptions{
		OutDir:       opts.outDir,
		StripContent: opts.stripContent,
		MaxMessage:   opts.maxMessageBytes,
		Archive:      archive,
	}
	if opts.notifyURL != "" {
		catcherOpts.Notifier = notify.New(opts.notifyURL, nil)
	}
	c := sink.NewCatcher(catcherOpts)
	return c.Run(ctx, stdin, stdout)
}

// runWait prints the saved HAR, or an empty one when none is ready before
// the timeout.
func runWait(ctx context.Context, opts *options, stdout io.Writer) error {
	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	har, err := sink.WaitReady(waitCtx, opts.outDir, opts.pollInterval)
	if err != nil {
		if !errors.Is(err, sink.ErrNotReady) {
			return err
		}
		slog.Warn("no HAR ready before timeout", "out_dir", opts.outDir, "timeout", opts.timeout)
		har = json.RawMessage(`{}`)
	}
	return json.NewEncoder(stdout).Encode(struct {
		HAR json.RawMessage `json:"har"`
	}{HAR: har})
}
