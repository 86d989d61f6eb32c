// Package sink talks to the native helper that receives exported HARs,
// from both ends of the native-messaging pipe.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/dgnsrekt/harrelay/internal/nativemsg"
)

const (
	stopTimeout = 5 * time.Second
	postTimeout = 30 * time.Second
)

// Process is a spawned native-messaging helper. Each Post becomes one
// frame on the helper's stdin; reply frames are logged.
type Process struct {
	name string
	cmd  *exec.Cmd

	stdin   io.WriteCloser
	writer  *nativemsg.Writer
	timeout time.Duration

	mu      sync.Mutex
	stopped bool
	exited  chan struct{}
	waitErr error
}

// Start launches the helper at path with args.
func Start(name, path string, args ...string) (*Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sink: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sink: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sink: start %s: %w", path, err)
	}
	slog.Info("native app started", "name", name, "path", path, "pid", cmd.Process.Pid)

	p := &Process{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		writer:  nativemsg.NewWriter(stdin, 0),
		timeout: postTimeout,
		exited:  make(chan struct{}),
	}
	go func() {
		p.readReplies(stdout)
		p.waitErr = cmd.Wait()
		close(p.exited)
		slog.Info("native app exited", "name", name, "error", p.waitErr)
	}()
	return p, nil
}

// Post writes one HAR payload to the helper. A stalled helper holds it no
// longer than ctx or the post timeout allows. A frame abandoned that way
// is still written whole once the helper reads again, so later frames stay
// aligned.
func (p *Process) Post(ctx context.Context, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.exited:
		return fmt.Errorf("sink: %s has exited: %v", p.name, p.waitErr)
	default:
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- p.writer.Write(payload) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sink: post to %s: %w", p.name, err)
		}
		return nil
	case <-p.exited:
		return fmt.Errorf("sink: %s has exited: %v", p.name, p.waitErr)
	case <-ctx.Done():
		return fmt.Errorf("sink: post to %s: %w", p.name, ctx.Err())
	}
}

func (p *Process) readReplies(stdout io.Reader) {
	r := nativemsg.NewReader(stdout, nativemsg.MaxHostMessage)
	for {
		msg, err := r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("native app reply stream ended", "name", p.name, "error", err)
			}
			return
		}
		slog.Info("native app response", "name", p.name, "response", string(msg))
	}
}

// Stop closes the helper's stdin, which native hosts treat as a shutdown
// request, then escalates to SIGTERM and SIGKILL.
func (p *Process) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	_ = p.stdin.Close()
	select {
	case <-p.exited:
		return
	case <-time.After(stopTimeout):
	}

	slog.Warn("native app did not exit, sending SIGTERM", "name", p.name)
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(stopTimeout):
		slog.Warn("native app did not exit, sending SIGKILL", "name", p.name)
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}
