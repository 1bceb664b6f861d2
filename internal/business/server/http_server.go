package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/config"
	"github.com/openkcm/link-checkout/pkg/bridge"
)

const bridgeOperation = "bridge"

// createHTTPServer creates the bridge http server using the given config
func createHTTPServer(cfg *config.Config, ch *bridge.Channel) (*http.Server, error) {
	handler, err := ch.HTTPHandler(cfg.Bridge.PathPrefix)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: newTraceMiddleware(cfg, bridgeOperation)(handler),
	}, nil
}

// StartHTTPServer serves the bridge channel over HTTP until ctx is done.
func StartHTTPServer(ctx context.Context, cfg *config.Config, ch *bridge.Channel) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server, err := createHTTPServer(cfg, ch)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create the bridge handler")
	}

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Addresses in the form network://address select the network, so tests
	// can bind to a unix socket. tcp is the default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving the bridge", "address", listener.Addr().String(), "prefix", cfg.Bridge.PathPrefix)
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
