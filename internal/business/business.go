package business

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/business/server"
	"github.com/openkcm/link-checkout/internal/config"
	"github.com/openkcm/link-checkout/internal/metrics"
	"github.com/openkcm/link-checkout/pkg/account"
	"github.com/openkcm/link-checkout/pkg/account/mock"
	"github.com/openkcm/link-checkout/pkg/bridge"
	"github.com/openkcm/link-checkout/pkg/browser"
	"github.com/openkcm/link-checkout/pkg/browser/loopback"
	"github.com/openkcm/link-checkout/pkg/flow"
	"github.com/openkcm/link-checkout/pkg/hosted"

	accountvalkey "github.com/openkcm/link-checkout/pkg/account/valkey"
)

// Sandbox runs one checkout flow against a scripted embedding application
// and serves the hosted surface bridge over HTTP while the flow runs.
func Sandbox(ctx context.Context, cfg *config.Config) error {
	opener := loopback.LogOpener
	if cfg.Browser.OpenSystemBrowser {
		opener = loopback.SystemOpener
	}

	result, err := runSandbox(ctx, cfg, opener)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Sandbox flow finished",
		"outcome", result.Outcome,
		"account_id", result.Account.ID,
		"phase", result.Account.Phase,
	)

	return nil
}

// BridgeService serves the hosted surface bridge over HTTP.
type BridgeService struct {
	cfg  *config.Config
	host *hosted.Host
	ch   *bridge.Channel
}

// NewBridge prepares the bridge handlers and the metrics they record.
func NewBridge(ctx context.Context, cfg *config.Config) (*BridgeService, error) {
	if err := metrics.Init(ctx, cfg.Application); err != nil {
		return nil, fmt.Errorf("initialising metrics: %w", err)
	}

	host, ch, err := initBridge(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &BridgeService{cfg: cfg, host: host, ch: ch}, nil
}

// Run serves the bridge until ctx is done.
func (s *BridgeService) Run(ctx context.Context) error {
	return server.StartHTTPServer(ctx, s.cfg, s.ch)
}

// Checks reports whether every bridge handler is registered and whether the
// hosted surface load url can be built with the current client secret.
func (s *BridgeService) Checks() []health.Check {
	return []health.Check{
		{
			Name:  "bridge_handlers",
			Check: func(context.Context) error { return s.ch.Validate() },
		},
		{
			Name: "hosted_load_url",
			Check: func(ctx context.Context) error {
				_, err := s.host.LoadURL(ctx)
				return err
			},
		},
	}
}

func runSandbox(ctx context.Context, cfg *config.Config, opener loopback.Opener) (flow.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := metrics.Init(ctx, cfg.Application); err != nil {
		return flow.Result{}, fmt.Errorf("initialising metrics: %w", err)
	}

	repo, closeFn, err := initAccountRepository(cfg)
	if err != nil {
		return flow.Result{}, fmt.Errorf("initialising the account repository: %w", err)
	}
	defer closeFn()

	store := account.NewCache(repo, cfg.Flow.CacheKey)

	_, ch, err := initBridge(ctx, cfg)
	if err != nil {
		return flow.Result{}, err
	}

	presenter := loopback.NewPresenter(cfg.Browser.ListenAddress, opener)
	browsers := browser.NewManager(presenter, browser.WithAccountCache(store))

	app := newScriptedApp(cfg.Sandbox)
	coordinator := flow.New(app, app,
		flow.WithBrowser(timedBrowser{Manager: browsers, timeout: cfg.Browser.SessionTimeout}),
		flow.WithFallback(app),
		flow.WithAccountStore(store),
		flow.WithCallbackScheme(cfg.Browser.CallbackScheme),
	)
	app.bind(coordinator)

	// errChan captures the first result and shuts the other side down.
	errChan := make(chan error, 2)

	var (
		wg     sync.WaitGroup
		result flow.Result
	)

	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, ch)
	})

	wg.Go(func() {
		var err error
		result, err = coordinator.Run(ctx)
		errChan <- err
	})

	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down the sandbox", "error", err)
	}
	cancel()

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return flow.Result{}, err
	}

	return result, nil
}

func initBridge(ctx context.Context, cfg *config.Config) (*hosted.Host, *bridge.Channel, error) {
	host, err := hosted.NewHost(cfg.Hosted, hosted.SourceRefSecret(cfg.Hosted.ClientSecret))
	if err != nil {
		return nil, nil, fmt.Errorf("creating hosted surface host: %w", err)
	}

	ch := bridge.NewChannel(bridge.WithTimeout(cfg.Bridge.HandlerTimeout))
	host.Register(ch)

	loadURL, err := host.LoadURL(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Hosted surface load url is unavailable", "error", err)
	} else {
		slogctx.Info(ctx, "Hosted surface load url", "url", loadURL)
	}

	return host, ch, nil
}

// initAccountRepository connects to valkey when a host is configured and
// falls back to an in-memory cache otherwise.
func initAccountRepository(cfg *config.Config) (_ account.Repository, closeFn func(), _ error) {
	if cfg.ValKey.Host.Source == "" {
		return mock.NewInMemRepository(), func() {}, nil
	}

	valkeyOpts, err := config.MakeValKeyOptions(cfg.ValKey)
	if err != nil {
		return nil, nil, err
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return accountvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix, cfg.Flow.AccountTTL), valkeyClient.Close, nil
}

// timedBrowser bounds every browser session by timeout.
type timedBrowser struct {
	*browser.Manager

	timeout time.Duration
}

func (b timedBrowser) Start(ctx context.Context, rawURL, callbackScheme string) <-chan browser.Result {
	if b.timeout <= 0 {
		return b.Manager.Start(ctx, rawURL, callbackScheme)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	in := b.Manager.Start(ctx, rawURL, callbackScheme)

	out := make(chan browser.Result, 1)
	go func() {
		defer cancel()
		defer close(out)
		if r, ok := <-in; ok {
			out <- r
		}
	}()

	return out
}
