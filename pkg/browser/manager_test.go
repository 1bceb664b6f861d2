package browser_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/link-checkout/internal/serviceerr"
	"github.com/openkcm/link-checkout/pkg/browser"
)

const (
	scheme    = "link-checkout"
	targetURL = "https://auth.example.com/sign-up?session=abc"
)

type fakePresenter struct {
	mu         sync.Mutex
	presented  int
	dismissed  []int
	complete   func(*url.URL, error)
	presentErr error
	onPresent  func()
	onDismiss  func(i int)
}

func (p *fakePresenter) Present(_ context.Context, _ *url.URL, _ string, complete func(*url.URL, error)) (func(), error) {
	p.mu.Lock()
	if p.presentErr != nil {
		p.mu.Unlock()
		return nil, p.presentErr
	}
	i := p.presented
	p.presented++
	p.complete = complete
	onPresent := p.onPresent
	p.mu.Unlock()

	if onPresent != nil {
		onPresent()
	}

	return func() {
		p.mu.Lock()
		p.dismissed = append(p.dismissed, i)
		onDismiss := p.onDismiss
		p.mu.Unlock()

		if onDismiss != nil {
			onDismiss(i)
		}
	}, nil
}

func (p *fakePresenter) finish(t *testing.T, redirect string, err error) {
	t.Helper()
	p.mu.Lock()
	complete := p.complete
	p.mu.Unlock()
	require.NotNil(t, complete, "nothing presented")

	var u *url.URL
	if redirect != "" {
		var perr error
		u, perr = url.Parse(redirect)
		require.NoError(t, perr)
	}
	complete(u, err)
}

func (p *fakePresenter) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presented, len(p.dismissed)
}

func (p *fakePresenter) dismissals() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.dismissed...)
}

type fakeCache struct {
	cleared int
	err     error
}

func (c *fakeCache) Clear(context.Context) error {
	c.cleared++
	return c.err
}

func receive(t *testing.T, ch <-chan browser.Result) browser.Result {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "channel closed without a result")
		return r
	case <-time.After(time.Second):
		t.Fatal("no browser result")
		return browser.Result{}
	}
}

func assertNoSecondResult(t *testing.T, ch <-chan browser.Result) {
	t.Helper()
	_, ok := <-ch
	assert.False(t, ok, "a session must produce exactly one result")
}

func TestManager_Redirects(t *testing.T) {
	pm := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"csmrpd_123","type":"card"}`))

	tests := []struct {
		name        string
		redirect    string
		wantStatus  browser.Status
		wantAccount string
		wantPM      string
		wantErr     error
		wantLogout  bool
	}{
		{
			name:        "complete with account",
			redirect:    scheme + "://complete?link_status=complete&account_id=acct_1",
			wantStatus:  browser.StatusSuccess,
			wantAccount: "acct_1",
		},
		{
			name:       "complete with payment method",
			redirect:   scheme + "://complete?link_status=complete&pm=" + pm,
			wantStatus: browser.StatusSuccess,
			wantPM:     `{"id":"csmrpd_123","type":"card"}`,
		},
		{
			name:       "logout",
			redirect:   scheme + "://logout?link_status=logout",
			wantStatus: browser.StatusCanceled,
			wantLogout: true,
		},
		{
			name:       "unknown discriminator",
			redirect:   scheme + "://complete?link_status=pending",
			wantStatus: browser.StatusFailed,
			wantErr:    serviceerr.ErrParse,
		},
		{
			name:       "missing discriminator",
			redirect:   scheme + "://complete?account_id=acct_1",
			wantStatus: browser.StatusFailed,
			wantErr:    serviceerr.ErrParse,
		},
		{
			name:       "complete without reference",
			redirect:   scheme + "://complete?link_status=complete",
			wantStatus: browser.StatusFailed,
			wantErr:    serviceerr.ErrParse,
		},
		{
			name:       "malformed payment method",
			redirect:   scheme + "://complete?link_status=complete&pm=!!!",
			wantStatus: browser.StatusFailed,
			wantErr:    serviceerr.ErrParse,
		},
		{
			name:       "foreign scheme",
			redirect:   "https://evil.example.com/complete?link_status=complete&account_id=acct_1",
			wantStatus: browser.StatusFailed,
			wantErr:    serviceerr.ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePresenter{}
			cache := &fakeCache{}
			m := browser.NewManager(p, browser.WithAccountCache(cache))

			ch := m.Start(t.Context(), targetURL, scheme)
			p.finish(t, tt.redirect, nil)

			r := receive(t, ch)
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, tt.wantLogout, r.LoggedOut)
			if tt.wantErr != nil {
				assert.ErrorIs(t, r.Err, tt.wantErr)
			} else {
				assert.NoError(t, r.Err)
			}
			assert.Equal(t, tt.wantAccount, r.Ref.AccountID)
			if tt.wantPM != "" {
				assert.JSONEq(t, tt.wantPM, string(r.Ref.PaymentMethod))
			}
			if tt.wantLogout {
				assert.Equal(t, 1, cache.cleared)
			} else {
				assert.Zero(t, cache.cleared)
			}
			assert.False(t, m.Active())
			assertNoSecondResult(t, ch)
		})
	}
}

func TestManager_BadPaymentMethodPayload(t *testing.T) {
	p := &fakePresenter{}
	m := browser.NewManager(p)

	ch := m.Start(t.Context(), targetURL, scheme)
	notJSON := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	p.finish(t, scheme+"://complete?link_status=complete&pm="+notJSON, nil)

	r := receive(t, ch)
	assert.Equal(t, browser.StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, serviceerr.ErrParse)
}

func TestManager_SystemErrors(t *testing.T) {
	t.Run("user cancellation is canceled", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)

		ch := m.Start(t.Context(), targetURL, scheme)
		p.finish(t, "", serviceerr.ErrUserCanceled.WithDescription("user closed the sheet"))

		r := receive(t, ch)
		assert.Equal(t, browser.StatusCanceled, r.Status)
		assert.NoError(t, r.Err)
	})

	t.Run("other system error is failed", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)
		systemErr := errors.New("presentation context missing")

		ch := m.Start(t.Context(), targetURL, scheme)
		p.finish(t, "", systemErr)

		r := receive(t, ch)
		assert.Equal(t, browser.StatusFailed, r.Status)
		assert.ErrorIs(t, r.Err, systemErr)
	})

	t.Run("presenter refusal cannot start", func(t *testing.T) {
		p := &fakePresenter{presentErr: errors.New("policy restriction")}
		m := browser.NewManager(p)

		r := receive(t, m.Start(t.Context(), targetURL, scheme))
		assert.Equal(t, browser.StatusFailed, r.Status)
		assert.ErrorIs(t, r.Err, serviceerr.ErrCannotStart)
		assert.False(t, m.Active())
	})

	t.Run("logout with failing cache is failed", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p, browser.WithAccountCache(&fakeCache{err: errors.New("valkey down")}))

		ch := m.Start(t.Context(), targetURL, scheme)
		p.finish(t, scheme+"://logout?link_status=logout", nil)

		r := receive(t, ch)
		assert.Equal(t, browser.StatusFailed, r.Status)
		assert.False(t, r.LoggedOut)
	})
}

func TestManager_SingleActiveSession(t *testing.T) {
	p := &fakePresenter{}
	m := browser.NewManager(p)

	first := m.Start(t.Context(), targetURL, scheme)
	second := m.Start(t.Context(), targetURL, scheme)

	r := receive(t, second)
	assert.Equal(t, browser.StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, serviceerr.ErrCannotStart)

	presented, _ := p.counts()
	assert.Equal(t, 1, presented, "the second session must not be presented")
	assert.True(t, m.Active())

	m.Cancel()
	assert.Equal(t, browser.StatusCanceled, receive(t, first).Status)
}

func TestManager_Cancel(t *testing.T) {
	t.Run("no active session is a no-op", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)

		assert.NotPanics(t, m.Cancel)
		_, dismissed := p.counts()
		assert.Zero(t, dismissed)
	})

	t.Run("start then cancel yields canceled once", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)

		ch := m.Start(t.Context(), targetURL, scheme)
		m.Cancel()
		m.Cancel()
		p.finish(t, scheme+"://complete?link_status=complete&account_id=acct_1", nil)

		r := receive(t, ch)
		assert.Equal(t, browser.StatusCanceled, r.Status)
		assertNoSecondResult(t, ch)

		_, dismissed := p.counts()
		assert.Equal(t, 1, dismissed)
	})

	t.Run("context cancellation cancels the session", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)

		ctx, cancel := context.WithCancel(t.Context())
		ch := m.Start(ctx, targetURL, scheme)
		cancel()

		assert.Equal(t, browser.StatusCanceled, receive(t, ch).Status)
		assert.Eventually(t, func() bool {
			_, dismissed := p.counts()
			return dismissed == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("second completion is ignored", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)

		ch := m.Start(t.Context(), targetURL, scheme)
		p.finish(t, scheme+"://complete?link_status=complete&account_id=acct_1", nil)
		p.finish(t, scheme+"://logout?link_status=logout", nil)

		r := receive(t, ch)
		assert.Equal(t, browser.StatusSuccess, r.Status)
		assertNoSecondResult(t, ch)
	})
}

func TestManager_CanceledContext(t *testing.T) {
	t.Run("already canceled context presents nothing", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		r := receive(t, m.Start(ctx, targetURL, scheme))
		assert.Equal(t, browser.StatusCanceled, r.Status)

		presented, _ := p.counts()
		assert.Zero(t, presented)
		assert.False(t, m.Active())
	})

	t.Run("cancellation while presenting dismisses the presentation", func(t *testing.T) {
		p := &fakePresenter{}
		m := browser.NewManager(p)

		ctx, cancel := context.WithCancel(t.Context())
		p.onPresent = func() {
			cancel()
			require.Eventually(t, func() bool { return !m.Active() }, time.Second, time.Millisecond)
		}

		ch := m.Start(ctx, targetURL, scheme)

		assert.Equal(t, browser.StatusCanceled, receive(t, ch).Status)
		assert.Equal(t, []int{0}, p.dismissals())
	})
}

func TestManager_CancelTargetsItsOwnSession(t *testing.T) {
	p := &fakePresenter{}
	m := browser.NewManager(p)

	first := m.Start(t.Context(), targetURL, scheme)

	var second <-chan browser.Result
	p.onDismiss = func(i int) {
		if i == 0 {
			// a new session starts while the first is being dismissed
			second = m.Start(t.Context(), targetURL, scheme)
		}
	}

	m.Cancel()
	assert.Equal(t, browser.StatusCanceled, receive(t, first).Status)

	require.NotNil(t, second)
	assert.Equal(t, []int{0}, p.dismissals(), "only the canceled session is dismissed")
	assert.True(t, m.Active(), "the newer session keeps running")

	p.finish(t, scheme+"://complete?link_status=complete&account_id=acct_2", nil)
	r := receive(t, second)
	assert.Equal(t, browser.StatusSuccess, r.Status)
	assert.Equal(t, "acct_2", r.Ref.AccountID)
}

func TestManager_InvalidStart(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		scheme string
	}{
		{name: "relative url", url: "/sign-up", scheme: scheme},
		{name: "non http url", url: "ftp://example.com/x", scheme: scheme},
		{name: "empty scheme", url: targetURL, scheme: ""},
		{name: "scheme with separator", url: targetURL, scheme: "link://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePresenter{}
			m := browser.NewManager(p)

			r := receive(t, m.Start(t.Context(), tt.url, tt.scheme))
			assert.Equal(t, browser.StatusFailed, r.Status)
			assert.ErrorIs(t, r.Err, serviceerr.ErrCannotStart)

			presented, _ := p.counts()
			assert.Zero(t, presented)
		})
	}
}
