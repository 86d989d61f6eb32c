package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/harrelay/internal/relay"
)

// Serve attaches conn to the hub as channel name and pumps its messages
// into the hub until the peer disconnects or ctx is cancelled. The hub
// listener is deregistered before Serve returns.
func Serve(ctx context.Context, hub *relay.Hub, name string, conn *Conn, meta relay.ConnMeta) error {
	listener, err := hub.Attach(name, conn, meta)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer listener.Deregister()
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	slog.Info("channel connected", "channel", name, "endpoint", conn.ID(), "remote", meta.Remote)
	for {
		data, err := conn.Read()
		if err != nil {
			if isDisconnect(err) || ctx.Err() != nil {
				slog.Info("channel disconnected", "channel", name, "endpoint", conn.ID())
				return nil
			}
			slog.Warn("channel read failed", "channel", name, "endpoint", conn.ID(), "error", err)
			return err
		}
		listener.Handle(ctx, data)
	}
}

func isDisconnect(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
