// Package loopback presents browser sessions in the system browser and
// captures the terminal redirect on a 127.0.0.1 listener.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/nonce"
	"github.com/openkcm/link-checkout/internal/serviceerr"
)

// ReturnURLParam is appended to the presented URL and names the loopback
// address the session must redirect to.
const ReturnURLParam = "return_url"

const shutdownTimeout = 5 * time.Second

var ErrAlreadyPresenting = errors.New("a loopback session is already being presented")

// Opener shows url to the user, typically by launching the system browser.
type Opener func(ctx context.Context, url string) error

// SystemOpener launches the platform's default browser.
func SystemOpener(ctx context.Context, u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", u)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", u)
	}
	return cmd.Start()
}

// LogOpener only logs the URL. It is meant for headless sandboxes where the
// operator opens the link manually.
func LogOpener(ctx context.Context, u string) error {
	slogctx.Info(ctx, "Open this URL in a browser to continue", "url", u)
	return nil
}

type Presenter struct {
	listenAddress string
	open          Opener
	nonces        nonce.Source

	mu       sync.Mutex
	server   *http.Server
	complete func(*url.URL, error)
}

// NewPresenter returns a presenter listening on listenAddress, which should
// be a loopback address. Port 0 picks a free port per session.
func NewPresenter(listenAddress string, open Opener) *Presenter {
	return &Presenter{
		listenAddress: listenAddress,
		open:          open,
	}
}

// Present opens target with the loopback return address appended and calls
// complete with the first redirect. dismiss ends this presentation with a
// user cancellation.
func (p *Presenter) Present(ctx context.Context, target *url.URL, callbackScheme string, complete func(*url.URL, error)) (dismiss func(), _ error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return nil, ErrAlreadyPresenting
	}

	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", p.listenAddress)
	if err != nil {
		return nil, fmt.Errorf("starting loopback listener: %w", err)
	}

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
	}

	path := p.nonces.CallbackPath()
	router := mux.NewRouter()
	router.HandleFunc("/"+path+"/{action}", p.redirectHandler(ctx, server, callbackScheme)).Methods(http.MethodGet)
	server.Handler = router

	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve loopback listener", "error", err)
		}
	}()

	presented := *target
	q := presented.Query()
	q.Set(ReturnURLParam, fmt.Sprintf("http://%s/%s", listener.Addr().String(), path))
	presented.RawQuery = q.Encode()

	if err := p.open(ctx, presented.String()); err != nil {
		go shutdown(ctx, server)
		return nil, fmt.Errorf("opening browser: %w", err)
	}

	p.server = server
	p.complete = complete

	slogctx.Debug(ctx, "Loopback listener waiting for redirect", "address", listener.Addr().String())

	return func() {
		p.finish(ctx, server, nil, serviceerr.ErrUserCanceled)
	}, nil
}

func (p *Presenter) redirectHandler(ctx context.Context, server *http.Server, callbackScheme string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirect := &url.URL{
			Scheme:   callbackScheme,
			Host:     mux.Vars(r)["action"],
			RawQuery: r.URL.RawQuery,
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("You can close this window and return to the application.\n"))

		go p.finish(ctx, server, redirect, nil)
	}
}

// finish completes the presentation served by server. It is a no-op once
// that presentation has ended.
func (p *Presenter) finish(ctx context.Context, server *http.Server, redirect *url.URL, err error) {
	p.mu.Lock()
	if p.server != server {
		p.mu.Unlock()
		return
	}
	complete := p.complete
	p.server, p.complete = nil, nil
	p.mu.Unlock()

	complete(redirect, err)
	shutdown(ctx, server)
}

func shutdown(ctx context.Context, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slogctx.Warn(ctx, "Failed shutting down loopback listener", "error", err)
	}
}
