// Package browser runs system-brokered browser sessions used for redirect
// based sign-up and verification, one at a time, and turns the terminal
// redirect of each session into a Result.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"github.com/google/uuid"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/metrics"
	"github.com/openkcm/link-checkout/internal/serviceerr"
)

// Presenter shows a URL in a secure browser and reports the terminal
// redirect through complete. complete may be called from any goroutine and
// more than once; only the first call counts. A presenter that is refused by
// the system returns an error from Present without calling complete.
// The returned dismiss func ends that presentation and no other; calling it
// after the presentation finished is a no-op.
type Presenter interface {
	Present(ctx context.Context, target *url.URL, callbackScheme string, complete func(*url.URL, error)) (dismiss func(), err error)
}

// AccountCache is cleared when a session ends with a logout redirect.
type AccountCache interface {
	Clear(ctx context.Context) error
}

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*$`)

type Manager struct {
	presenter Presenter
	cache     AccountCache

	mu     sync.Mutex
	active *session
}

type Option func(*Manager)

func WithAccountCache(cache AccountCache) Option {
	return func(m *Manager) {
		m.cache = cache
	}
}

func NewManager(presenter Presenter, opts ...Option) *Manager {
	m := &Manager{presenter: presenter}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m
}

type session struct {
	id     string
	scheme string
	ctx    context.Context

	once sync.Once
	ch   chan Result

	// guarded by Manager.mu
	stop     func() bool
	dismiss  func()
	resolved bool
}

// Start presents rawURL and returns a channel that receives exactly one
// Result. A second Start while a session is active, an invalid URL or scheme
// and a presenter refusal all resolve immediately as failed with
// serviceerr.ErrCannotStart, without presenting anything. Canceling ctx
// cancels the session.
func (m *Manager) Start(ctx context.Context, rawURL, callbackScheme string) <-chan Result {
	s := &session{
		id:     uuid.NewString(),
		scheme: callbackScheme,
		ch:     make(chan Result, 1),
	}
	s.ctx = slogctx.With(ctx, "browser_session_id", s.id)

	target, err := validateStart(rawURL, callbackScheme)
	if err != nil {
		m.resolve(s, failed(err))
		return s.ch
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		slogctx.Warn(s.ctx, "Refusing browser session while another is active", "active_session_id", m.activeID())
		m.resolve(s, failed(serviceerr.ErrCannotStart.WithDescription("a browser session is already active")))
		return s.ch
	}
	m.active = s
	s.stop = context.AfterFunc(ctx, func() { m.cancel(s) })
	m.mu.Unlock()

	if ctx.Err() != nil {
		m.resolve(s, canceled())
		return s.ch
	}

	slogctx.Info(s.ctx, "Starting browser session", "host", target.Host)

	dismiss, err := m.presenter.Present(s.ctx, target, callbackScheme, func(u *url.URL, err error) {
		m.complete(s, u, err)
	})
	if err != nil {
		slogctx.Error(s.ctx, "Browser presenter refused the session", "error", err)
		m.resolve(s, failed(fmt.Errorf("%w: %w", serviceerr.ErrCannotStart, err)))
		return s.ch
	}
	m.attach(s, dismiss)

	return s.ch
}

// attach hands the presentation's dismiss func to s, or dismisses it right
// away when s was resolved while being presented.
func (m *Manager) attach(s *session, dismiss func()) {
	if dismiss == nil {
		return
	}

	m.mu.Lock()
	if !s.resolved {
		s.dismiss = dismiss
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	dismiss()
}

// cancel resolves s as canceled and dismisses its presentation. It reports
// whether s was still pending.
func (m *Manager) cancel(s *session) bool {
	if !m.resolve(s, canceled()) {
		return false
	}

	m.mu.Lock()
	dismiss := s.dismiss
	s.dismiss = nil
	m.mu.Unlock()

	if dismiss != nil {
		dismiss()
	}
	return true
}

// Cancel terminates the active session and resolves it as canceled. It is a
// no-op when no session is active.
func (m *Manager) Cancel() {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()

	if s == nil {
		return
	}
	if m.cancel(s) {
		slogctx.Info(s.ctx, "Browser session canceled")
	}
}

// Active reports whether a session is in progress.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

func (m *Manager) activeID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.id
}

func (m *Manager) complete(s *session, redirect *url.URL, err error) {
	if err != nil {
		if errors.Is(err, serviceerr.ErrUserCanceled) {
			m.resolve(s, canceled())
			return
		}
		slogctx.Error(s.ctx, "Browser session failed", "error", err)
		m.resolve(s, failed(err))
		return
	}

	cb, err := parseCallback(redirect, s.scheme)
	if err != nil {
		slogctx.Warn(s.ctx, "Rejecting browser redirect", "error", err)
		m.resolve(s, failed(err))
		return
	}

	if cb.logout {
		if m.cache != nil {
			if err := m.cache.Clear(s.ctx); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
				slogctx.Error(s.ctx, "Failed to clear cached account on logout", "error", err)
				m.resolve(s, failed(fmt.Errorf("clearing cached account: %w", err)))
				return
			}
		}
		m.resolve(s, Result{Status: StatusCanceled, LoggedOut: true})
		return
	}

	m.resolve(s, success(cb.ref))
}

// resolve delivers r if s has not produced a result yet and reports whether
// it did.
func (m *Manager) resolve(s *session, r Result) bool {
	resolved := false
	s.once.Do(func() {
		resolved = true

		m.mu.Lock()
		if m.active == s {
			m.active = nil
		}
		s.resolved = true
		stop := s.stop
		m.mu.Unlock()

		if stop != nil {
			stop()
		}

		s.ch <- r
		close(s.ch)

		metrics.RecordBrowserSession(s.ctx, r.Status.String())
		slogctx.Debug(s.ctx, "Browser session resolved", "status", r.Status, "logged_out", r.LoggedOut)
	})
	return resolved
}

func validateStart(rawURL, scheme string) (*url.URL, error) {
	if !schemeRe.MatchString(scheme) {
		return nil, serviceerr.ErrCannotStart.WithDescription(fmt.Sprintf("invalid callback scheme %q", scheme))
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", serviceerr.ErrCannotStart, err)
	}
	if target.Scheme != "https" && target.Scheme != "http" || target.Host == "" {
		return nil, serviceerr.ErrCannotStart.WithDescription("session url must be an absolute http(s) url")
	}

	return target, nil
}
