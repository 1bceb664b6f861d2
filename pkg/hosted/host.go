package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/config"
	"github.com/openkcm/link-checkout/internal/serviceerr"
	"github.com/openkcm/link-checkout/pkg/bridge"
)

const defaultCacheTTL = 5 * time.Minute

// ClientSecretProvider fetches the client secret right before it is used.
// It returns serviceerr.ErrNotFound when no secret is available.
type ClientSecretProvider interface {
	ClientSecret(ctx context.Context) (string, error)
}

type ClientSecretFunc func(ctx context.Context) (string, error)

func (f ClientSecretFunc) ClientSecret(ctx context.Context) (string, error) { return f(ctx) }

// SourceRefSecret resolves a configured secret reference on every call.
func SourceRefSecret(ref commoncfg.SourceRef) ClientSecretProvider {
	return ClientSecretFunc(func(context.Context) (string, error) {
		value, err := commoncfg.LoadValueFromSourceRef(ref)
		if err != nil {
			return "", fmt.Errorf("loading client secret: %w", err)
		}
		if len(value) == 0 {
			return "", serviceerr.ErrNotFound
		}
		return string(value), nil
	})
}

// Host serves the bridge requests of one hosted surface. Its handlers are
// safe for concurrent invocation.
type Host struct {
	baseURL        string
	component      string
	locale         string
	publishableKey string

	secrets    ClientSecretProvider
	appearance *appearanceCache
}

type Option func(*Host)

func WithAppearance(load AppearanceLoader, ttl time.Duration) Option {
	return func(h *Host) {
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		h.appearance = newAppearanceCache(load, ttl)
	}
}

// NewHost builds a host from cfg. The appearance file, when configured, is
// read lazily and cached for cfg.CacheTTL.
func NewHost(cfg config.HostedSurface, secrets ClientSecretProvider, opts ...Option) (*Host, error) {
	publishableKey, err := commoncfg.LoadValueFromSourceRef(cfg.PublishableKey)
	if err != nil {
		return nil, fmt.Errorf("loading publishable key: %w", err)
	}

	h := &Host{
		baseURL:        cfg.BaseURL,
		component:      cfg.Component,
		locale:         NormalizeLocale(cfg.Locale),
		publishableKey: string(publishableKey),
		secrets:        secrets,
		appearance:     newAppearanceCache(StaticAppearance(Appearance{}), defaultCacheTTL),
	}
	if cfg.AppearanceFile != "" {
		WithAppearance(FileAppearance(cfg.AppearanceFile), cfg.CacheTTL)(h)
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	return h, nil
}

// LoadURL fetches a fresh client secret and builds the load URL. Appearance
// variables are passed along as extra parameters.
func (h *Host) LoadURL(ctx context.Context) (string, error) {
	secret, err := h.secrets.ClientSecret(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching client secret: %w", err)
	}

	appearance, err := h.appearance.get(ctx)
	if err != nil {
		return "", fmt.Errorf("loading appearance: %w", err)
	}

	return BuildLoadURL(LoadParams{
		BaseURL:        h.baseURL,
		Component:      h.component,
		Locale:         h.locale,
		PublishableKey: h.publishableKey,
		ClientSecret:   secret,
		Appearance:     appearance.Variables,
	})
}

// InvalidateAppearance drops the cached appearance so the next request
// reloads it.
func (h *Host) InvalidateAppearance() {
	h.appearance.invalidate()
}

// Register installs the handlers for every bridge message on ch.
func (h *Host) Register(ch *bridge.Channel) {
	ch.Register(bridge.HandlerDebug, bridge.HandlerFunc(h.debug))
	ch.Register(bridge.HandlerFetchClientSecret, bridge.HandlerFunc(h.fetchClientSecret))
	ch.Register(bridge.HandlerFetchAppearanceOptions, bridge.HandlerFunc(h.fetchAppearanceOptions))
	ch.Register(bridge.HandlerFetchFonts, bridge.HandlerFunc(h.fetchFonts))
}

func (h *Host) debug(ctx context.Context, body json.RawMessage) (any, error) {
	slogctx.Debug(ctx, "Hosted surface debug message", "payload", string(body))
	return nil, nil
}

func (h *Host) fetchClientSecret(ctx context.Context, _ json.RawMessage) (any, error) {
	secret, err := h.secrets.ClientSecret(ctx)
	if errors.Is(err, serviceerr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return secret, nil
}

func (h *Host) fetchAppearanceOptions(ctx context.Context, _ json.RawMessage) (any, error) {
	a, err := h.appearance.get(ctx)
	if err != nil {
		return nil, err
	}
	return a.Variables, nil
}

func (h *Host) fetchFonts(ctx context.Context, _ json.RawMessage) (any, error) {
	a, err := h.appearance.get(ctx)
	if err != nil {
		return nil, err
	}
	return a.Fonts, nil
}
