package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/harrelay/internal/relay"
	"github.com/dgnsrekt/harrelay/internal/types"
)

// Service is the hub surface the control API drives.
type Service interface {
	Snapshot() []relay.PairInfo
	Dispatch(ctx context.Context, tab types.TabID, data []byte) error
}

// Options carries the non-huma handlers mounted next to the API.
type Options struct {
	// Events streams hub events as server-sent events.
	Events http.Handler
	// Connect upgrades /connect/{channel} requests into hub channels.
	Connect http.Handler
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("HAR Relay API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(channelDocsHTML)); err != nil {
			slog.Debug("channel docs response write failed", "error", err)
		}
	})

	if opts.Events != nil {
		router.Method(http.MethodGet, "/events", opts.Events)
	}
	if opts.Connect != nil {
		router.Method(http.MethodGet, "/connect/{channel}", opts.Connect)
	}

	registerHealthHandlers(api)
	registerTabHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *relay.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case relay.CodeTabNotBound, relay.CodeUnknownChannel:
			return huma.Error404NotFound(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
