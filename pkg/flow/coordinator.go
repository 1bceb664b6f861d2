// Package flow drives one linked account checkout: it picks the step for the
// account phase, reacts to step callbacks and reports the terminal result to
// the host. All state transitions happen on the goroutine running Run.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/metrics"
	"github.com/openkcm/link-checkout/internal/serviceerr"
	"github.com/openkcm/link-checkout/pkg/account"
	"github.com/openkcm/link-checkout/pkg/browser"
	"github.com/openkcm/link-checkout/pkg/confirm"
)

const DefaultCallbackScheme = "link-checkout"

var ErrAlreadyRunning = errors.New("flow is already running")

type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCanceled
)

func (o Outcome) String() string {
	if o == OutcomeCompleted {
		return "completed"
	}
	return "canceled"
}

// Result is what Run reports to the host once the flow is terminal.
type Result struct {
	Outcome Outcome
	Account account.Snapshot
}

type mode int

const (
	modeSelecting mode = iota
	modeConfirming
)

type Coordinator struct {
	id        string
	navigator Navigator
	host      Host
	confirmer *confirm.Coordinator

	browser        BrowserSessions
	fallback       FallbackSource
	store          AccountStore
	callbackScheme string

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// loop goroutine only
	state    *account.State
	current  Step
	mode     mode
	finished bool
	result   Result
}

type Option func(*Coordinator)

func WithBrowser(b BrowserSessions) Option {
	return func(c *Coordinator) { c.browser = b }
}

func WithFallback(f FallbackSource) Option {
	return func(c *Coordinator) { c.fallback = f }
}

func WithAccountStore(s AccountStore) Option {
	return func(c *Coordinator) { c.store = s }
}

func WithCallbackScheme(scheme string) Option {
	return func(c *Coordinator) { c.callbackScheme = scheme }
}

func New(navigator Navigator, host Host, opts ...Option) *Coordinator {
	c := &Coordinator{
		id:             uuid.NewString(),
		navigator:      navigator,
		host:           host,
		confirmer:      confirm.NewCoordinator(host.Confirm, navigator),
		callbackScheme: DefaultCallbackScheme,
		events:         make(chan event, 32),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// ID identifies the flow instance in logs.
func (c *Coordinator) ID() string { return c.id }

// Done is closed once the flow is terminal.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run presents the first step and processes events until the flow is
// terminal or ctx is canceled, which ends the flow as canceled.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}

	ctx = slogctx.With(ctx, "flow_id", c.id)
	slogctx.Info(ctx, "Starting flow")

	c.state = c.loadState(ctx)
	c.updateUI(ctx)

	for !c.finished {
		select {
		case <-ctx.Done():
			slogctx.Info(ctx, "Flow context ended", "error", ctx.Err())
			c.finish(ctx, OutcomeCanceled)
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}

	return c.result, nil
}

func (c *Coordinator) loadState(ctx context.Context) *account.State {
	if c.store == nil {
		return account.NewState()
	}

	snap, err := c.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Warn(ctx, "Failed to load cached account, starting without one", "error", err)
		}
		return account.NewState()
	}

	state, err := account.FromSnapshot(snap)
	if err != nil {
		slogctx.Warn(ctx, "Ignoring invalid cached account", "error", err)
		return account.NewState()
	}

	slogctx.Debug(ctx, "Restored cached account", "phase", state.Phase())
	return state
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	slogctx.Debug(ctx, "Handling flow event", "event", ev.name(), "phase", c.state.Phase(), "step", c.current)

	switch ev := ev.(type) {
	case signUpCompleted:
		c.onSignUpCompleted(ctx, ev)
	case signUpCanceled:
		if c.state.Phase() > account.PhaseRequiresSignUp {
			c.ignore(ctx, ev)
			return
		}
		c.finish(ctx, OutcomeCanceled)
	case signUpFailed:
		c.onSignUpFailed(ctx, ev.err)
	case verificationCompleted:
		c.onVerificationCompleted(ctx)
	case verificationCanceled:
		c.onVerificationCanceled(ctx, ev.fallback)
	case verificationFallback:
		c.onVerificationFallback(ctx, ev.url)
	case accountUpdated:
		c.onAccountUpdated(ctx, ev.snapshot)
	case logoutRequested:
		c.logout(ctx, ev.shouldCancel)
	case paymentDetailsAdded:
		c.onPaymentDetailsAdded(ctx, ev.id)
	case paymentSelected:
		c.onPaymentSelected(ctx, ev.details)
	case confirmationFinished:
		c.onConfirmationFinished(ctx, ev.outcome)
	case fallbackURLResolved:
		c.onFallbackURL(ctx, ev)
	case browserFinished:
		c.onBrowserFinished(ctx, ev)
	case dismissed:
		c.finish(ctx, OutcomeCanceled)
	}
}

func (c *Coordinator) onSignUpCompleted(ctx context.Context, ev signUpCompleted) {
	if c.state.Phase() > account.PhaseRequiresSignUp {
		c.ignore(ctx, ev)
		return
	}

	next := account.PhaseVerified
	if ev.requiresVerification {
		next = account.PhaseRequiresVerification
	}

	if err := c.advance(ctx, next, ev.accountID); err != nil {
		slogctx.Error(ctx, "Rejecting sign-up result", "error", err)
		c.navigator.ShowError(StepSignUp, err)
		return
	}
	if ev.email != "" {
		c.state.SetEmail(ev.email)
	}

	c.accountChanged(ctx)
}

func (c *Coordinator) onSignUpFailed(ctx context.Context, err error) {
	if c.state.Phase() > account.PhaseRequiresSignUp {
		c.ignore(ctx, signUpFailed{err: err})
		return
	}

	if serviceerr.ClassOf(err) != serviceerr.ClassAttestation {
		slogctx.Warn(ctx, "Sign-up failed, staying on the step", "error", err)
		c.navigator.ShowError(StepSignUp, err)
		return
	}

	if c.fallback == nil || c.browser == nil {
		slogctx.Error(ctx, "Attestation failed and no browser fallback is configured", "error", err)
		c.navigator.ShowError(StepSignUp, err)
		return
	}

	slogctx.Info(ctx, "Attestation failed, bailing out to browser sign-up")
	c.resolveFallbackURL(ctx, purposeSignUp, func(ctx context.Context) (string, error) {
		return c.fallback.SignUpURL(ctx)
	})
}

func (c *Coordinator) onVerificationCompleted(ctx context.Context) {
	if c.state.Phase() != account.PhaseRequiresVerification {
		c.ignore(ctx, verificationCompleted{})
		return
	}

	if err := c.advance(ctx, account.PhaseVerified, c.state.AccountID()); err != nil {
		slogctx.Error(ctx, "Rejecting verification result", "error", err)
		c.navigator.ShowError(StepVerification, err)
		return
	}

	c.accountChanged(ctx)
}

func (c *Coordinator) onVerificationCanceled(ctx context.Context, fallback bool) {
	if c.state.Phase() != account.PhaseRequiresVerification {
		c.ignore(ctx, verificationCanceled{fallback: fallback})
		return
	}

	if fallback {
		c.finish(ctx, OutcomeCanceled)
		return
	}
	c.logout(ctx, false)
}

func (c *Coordinator) onVerificationFallback(ctx context.Context, url string) {
	if c.state.Phase() != account.PhaseRequiresVerification {
		c.ignore(ctx, verificationFallback{url: url})
		return
	}
	if c.browser == nil {
		c.navigator.ShowError(StepVerification, serviceerr.ErrCannotStart.WithDescription("no browser configured"))
		return
	}

	if !c.state.Visited(url) {
		c.startBrowser(ctx, purposeVerification, url)
		return
	}

	if c.fallback == nil {
		c.navigator.ShowError(StepVerification, fmt.Errorf("verification url already used: %w", serviceerr.ErrCannotStart))
		return
	}

	slogctx.Info(ctx, "Verification url already visited, refreshing it")
	c.resolveFallbackURL(ctx, purposeVerification, func(ctx context.Context) (string, error) {
		return c.fallback.RefreshVerificationURL(ctx, url)
	})
}

func (c *Coordinator) onFallbackURL(ctx context.Context, ev fallbackURLResolved) {
	step := StepFor(c.state.Phase())

	switch {
	case ev.purpose == purposeSignUp && step != StepSignUp,
		ev.purpose == purposeVerification && step != StepVerification:
		c.ignore(ctx, ev)
		return
	case ev.err != nil:
		slogctx.Warn(ctx, "Failed to get a fallback url", "purpose", ev.purpose, "error", ev.err)
		c.navigator.ShowError(step, ev.err)
		return
	case ev.purpose == purposeVerification && c.state.Visited(ev.url):
		slogctx.Error(ctx, "Refreshed fallback url was already visited", "purpose", ev.purpose)
		c.navigator.ShowError(step, fmt.Errorf("refreshed url already used: %w", serviceerr.ErrCannotStart))
		return
	}

	c.startBrowser(ctx, ev.purpose, ev.url)
}

// startBrowser presents url. Verification URLs are single use and join the
// visited set; the sign-up URL may be shown again after a failed attempt.
func (c *Coordinator) startBrowser(ctx context.Context, p purpose, url string) {
	if p == purposeVerification {
		c.state.MarkVisited(url)
	}
	results := c.browser.Start(ctx, url, c.callbackScheme)

	go func() {
		result, ok := <-results
		if !ok {
			return
		}
		c.post(browserFinished{purpose: p, url: url, result: result})
	}()
}

func (c *Coordinator) resolveFallbackURL(ctx context.Context, p purpose, fetch func(context.Context) (string, error)) {
	go func() {
		url, err := fetch(ctx)
		c.post(fallbackURLResolved{purpose: p, url: url, err: err})
	}()
}

func (c *Coordinator) onBrowserFinished(ctx context.Context, ev browserFinished) {
	res := ev.result
	step := StepFor(c.state.Phase())

	switch {
	case res.LoggedOut:
		// the browser already cleared the cache
		c.logout(ctx, false)
	case res.Status == browser.StatusCanceled:
		if ev.purpose == purposeVerification {
			c.onVerificationCanceled(ctx, true)
			return
		}
		if c.state.Phase() > account.PhaseRequiresSignUp {
			c.ignore(ctx, ev)
			return
		}
		c.finish(ctx, OutcomeCanceled)
	case res.Status == browser.StatusFailed:
		if errors.Is(res.Err, serviceerr.ErrCannotStart) {
			// never shown, so still usable
			c.state.ForgetVisited(ev.url)
		}
		slogctx.Warn(ctx, "Browser fallback failed", "purpose", ev.purpose, "error", res.Err)
		c.navigator.ShowError(step, res.Err)
	default:
		c.onBrowserSuccess(ctx, res.Ref)
	}
}

// onBrowserSuccess applies a completed browser fallback. The browser flow
// signs up and verifies in one go, so the account becomes verified.
func (c *Coordinator) onBrowserSuccess(ctx context.Context, ref browser.Reference) {
	accountID := ref.AccountID
	if accountID == "" {
		accountID = c.state.AccountID()
	}
	if accountID == "" {
		c.navigator.ShowError(StepFor(c.state.Phase()), serviceerr.ErrParse.WithDescription("browser result carries no account"))
		return
	}

	snap := c.state.Snapshot()
	if snap.ID != accountID {
		snap = account.Snapshot{ID: accountID, Email: snap.Email}
	}
	snap.Phase = account.PhaseVerified

	if id := paymentMethodID(ref.PaymentMethod); id != "" {
		snap.LastAddedPaymentDetailsID = id
	}

	c.onAccountUpdated(ctx, snap)
	c.host.AccountUpdated(ctx, c.state.Snapshot())
}

func paymentMethodID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var pm struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &pm); err != nil {
		return ""
	}
	return pm.ID
}

func (c *Coordinator) onAccountUpdated(ctx context.Context, snap account.Snapshot) {
	from := c.state.Phase()

	changed, err := c.state.Refresh(snap)
	if err != nil {
		slogctx.Warn(ctx, "Ignoring invalid account update", "error", err)
		return
	}
	if !changed {
		c.updateUI(ctx)
		return
	}

	c.recordTransition(ctx, from.String(), c.state.Phase().String())
	c.persist(ctx)
	c.updateUI(ctx)
}

func (c *Coordinator) onPaymentDetailsAdded(ctx context.Context, id string) {
	if c.state.Phase() != account.PhaseVerified || id == "" {
		c.ignore(ctx, paymentDetailsAdded{id: id})
		return
	}

	c.state.SetLastAddedPaymentDetails(id)
	c.persist(ctx)
	c.host.AccountUpdated(ctx, c.state.Snapshot())
	c.navigator.Update(StepWallet, propsOf(c.state))
}

func (c *Coordinator) onPaymentSelected(ctx context.Context, details confirm.PaymentDetails) {
	if c.state.Phase() != account.PhaseVerified || c.mode != modeSelecting {
		c.ignore(ctx, paymentSelected{details: details})
		return
	}

	outcomes, err := c.confirmer.Confirm(ctx, details)
	if err != nil {
		slogctx.Error(ctx, "Confirmation rejected", "error", err, "class", serviceerr.ClassOf(err))
		return
	}

	c.mode = modeConfirming
	c.navigator.SetConfirmEnabled(false)
	c.navigator.ShowError(StepWallet, nil)

	go func() {
		outcome, ok := <-outcomes
		if !ok {
			return
		}
		c.post(confirmationFinished{outcome: outcome})
	}()
}

func (c *Coordinator) onConfirmationFinished(ctx context.Context, outcome confirm.Outcome) {
	if c.mode != modeConfirming {
		c.ignore(ctx, confirmationFinished{outcome: outcome})
		return
	}
	c.mode = modeSelecting

	switch outcome.Status {
	case confirm.StatusCompleted:
		c.finish(ctx, OutcomeCompleted)
	case confirm.StatusCanceled:
		c.navigator.SetConfirmEnabled(true)
	default:
		c.navigator.ShowError(StepWallet, outcome.Err)
		c.navigator.SetConfirmEnabled(true)
	}
}

func (c *Coordinator) logout(ctx context.Context, shouldCancel bool) {
	from := c.state.Phase()
	c.state.Logout()
	c.recordTransition(ctx, from.String(), c.state.Phase().String())
	c.persist(ctx)

	slogctx.Info(ctx, "Logged out", "should_cancel", shouldCancel)
	c.host.LoggedOut(ctx, shouldCancel)

	if shouldCancel {
		c.finish(ctx, OutcomeCanceled)
		return
	}
	c.updateUI(ctx)
}

func (c *Coordinator) advance(ctx context.Context, phase account.Phase, accountID string) error {
	from := c.state.Phase()
	if err := c.state.Advance(phase, accountID); err != nil {
		return err
	}
	c.recordTransition(ctx, from.String(), phase.String())
	return nil
}

// accountChanged persists the state, tells the host and presents the step
// for the new phase.
func (c *Coordinator) accountChanged(ctx context.Context) {
	c.persist(ctx)
	c.host.AccountUpdated(ctx, c.state.Snapshot())
	c.updateUI(ctx)
}

// updateUI presents the step implied by the phase. Presenting the current
// step again is a no-op.
func (c *Coordinator) updateUI(ctx context.Context) {
	step := StepFor(c.state.Phase())
	if step == c.current {
		return
	}

	slogctx.Debug(ctx, "Presenting step", "from", c.current, "to", step)
	c.current = step
	if step != StepWallet {
		c.mode = modeSelecting
	}
	c.navigator.Show(step, propsOf(c.state))
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.store == nil {
		return
	}

	var err error
	if c.state.Phase() == account.PhaseNoAccount {
		err = c.store.Clear(ctx)
		if errors.Is(err, serviceerr.ErrNotFound) {
			err = nil
		}
	} else {
		err = c.store.Store(ctx, c.state.Snapshot())
	}
	if err != nil {
		slogctx.Warn(ctx, "Failed to update cached account", "error", err)
	}
}

func (c *Coordinator) finish(ctx context.Context, outcome Outcome) {
	if c.finished {
		return
	}

	c.finished = true
	c.result = Result{Outcome: outcome, Account: c.state.Snapshot()}

	if c.browser != nil {
		c.browser.Cancel()
	}
	c.confirmer.Close()
	close(c.done)

	c.recordTransition(ctx, c.state.Phase().String(), outcome.String())
	slogctx.Info(ctx, "Flow finished", "outcome", outcome, "phase", c.state.Phase())
}

func (c *Coordinator) ignore(ctx context.Context, ev event) {
	slogctx.Debug(ctx, "Ignoring flow event in current state", "event", ev.name(), "phase", c.state.Phase(), "step", c.current)
}

func (c *Coordinator) recordTransition(ctx context.Context, from, to string) {
	if from == to {
		return
	}
	metrics.RecordTransition(ctx, from, to)
}
