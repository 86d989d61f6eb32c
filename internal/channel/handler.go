package channel

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/gobwas/ws"

	"github.com/dgnsrekt/harrelay/internal/relay"
	"github.com/dgnsrekt/harrelay/internal/types"
)

// Handler upgrades requests to WebSocket channels named by the last path
// segment ("devtools" or "content"). A content request carries its sender
// tab in the tab_id query parameter. Channels are served until ctx ends.
func Handler(ctx context.Context, hub *relay.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Base(r.URL.Path)
		if name != types.ChannelDevtools && name != types.ChannelContent {
			http.Error(w, "unknown channel name: "+name, http.StatusNotFound)
			return
		}

		meta := relay.ConnMeta{Remote: r.RemoteAddr}
		if q := r.URL.Query().Get("tab_id"); q != "" {
			tab, err := types.ParseTabID(q)
			if err != nil {
				http.Error(w, "invalid tab_id: "+q, http.StatusBadRequest)
				return
			}
			meta.SenderTab = &tab
		}

		c, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Warn("channel upgrade failed", "channel", name, "remote", r.RemoteAddr, "error", err)
			return
		}
		if err := Serve(ctx, hub, name, NewServerConn(name, c), meta); err != nil {
			slog.Debug("channel ended with error", "channel", name, "error", err)
		}
	})
}
