package business

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/config"
	"github.com/openkcm/link-checkout/internal/serviceerr"
	"github.com/openkcm/link-checkout/pkg/account"
	"github.com/openkcm/link-checkout/pkg/confirm"
	"github.com/openkcm/link-checkout/pkg/flow"
)

const (
	confirmOutcomeCompleted = "completed"
	confirmOutcomeCanceled  = "canceled"
	confirmOutcomeFailed    = "failed"
)

// scriptedApp plays the embedding application: it answers every presented
// step the way a customer following the happy path would, and gives up once
// something goes wrong.
type scriptedApp struct {
	cfg config.Sandbox

	// ctx carries the logger of the running sandbox into the callbacks
	// that have none.
	ctx  context.Context
	flow *flow.Coordinator

	mu        sync.Mutex
	attempted bool
	gaveUp    bool
}

func newScriptedApp(cfg config.Sandbox) *scriptedApp {
	return &scriptedApp{cfg: cfg, ctx: context.Background()}
}

func (a *scriptedApp) bind(c *flow.Coordinator) {
	a.flow = c
	a.ctx = slogctx.With(a.ctx, "flow_id", c.ID())
}

func (a *scriptedApp) Show(step flow.Step, props flow.StepProps) {
	slogctx.Info(a.ctx, "Showing step", "step", step, "account_id", props.AccountID)

	switch step {
	case flow.StepSignUp:
		if a.cfg.AttestationFailure {
			go a.flow.SignUpFailed(serviceerr.ErrAttestation)
			return
		}
		go a.flow.SignUpCompleted(a.cfg.AccountID, a.cfg.Email, a.cfg.RequireVerification)
	case flow.StepVerification:
		if a.cfg.VerificationURL != "" {
			go a.flow.VerificationFallbackRequired(a.cfg.VerificationURL)
			return
		}
		go a.flow.VerificationCompleted()
	case flow.StepWallet:
		a.mu.Lock()
		a.attempted = true
		a.mu.Unlock()
		go a.flow.PaymentSelected(a.paymentDetails(props))
	case flow.StepNone:
	}
}

func (a *scriptedApp) Update(step flow.Step, props flow.StepProps) {
	slogctx.Debug(a.ctx, "Updating step", "step", step, "email", props.Email)
}

func (a *scriptedApp) ShowError(step flow.Step, err error) {
	if err == nil {
		return
	}
	slogctx.Warn(a.ctx, "Step shows an error", "step", step, "error", err)
	a.giveUp()
}

// SetConfirmEnabled re-enabling the trigger after an attempt means the
// confirmation did not complete.
func (a *scriptedApp) SetConfirmEnabled(enabled bool) {
	a.mu.Lock()
	attempted := a.attempted
	a.mu.Unlock()

	if enabled && attempted {
		slogctx.Info(a.ctx, "Confirmation did not complete")
		a.giveUp()
	}
}

func (a *scriptedApp) SetDismissalEnabled(enabled bool) {
	slogctx.Debug(a.ctx, "Dismissal toggled", "enabled", enabled)
}

func (a *scriptedApp) giveUp() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gaveUp {
		return
	}
	a.gaveUp = true
	go a.flow.Dismiss()
}

func (a *scriptedApp) paymentDetails(props flow.StepProps) confirm.PaymentDetails {
	p := a.cfg.Payment
	id := p.ID
	if props.PreselectedPaymentDetailsID != "" {
		id = props.PreselectedPaymentDetailsID
	}
	return confirm.PaymentDetails{
		ID:       id,
		Type:     p.Type,
		Last4:    p.Last4,
		Amount:   p.Amount,
		Currency: p.Currency,
	}
}

func (a *scriptedApp) Confirm(ctx context.Context, details confirm.PaymentDetails) confirm.Outcome {
	slogctx.Info(ctx, "Confirming payment", "payment_details_id", details.ID, "amount", details.Amount, "currency", details.Currency)

	select {
	case <-ctx.Done():
		return confirm.Canceled()
	case <-time.After(a.cfg.ConfirmDelay):
	}

	switch a.cfg.ConfirmOutcome {
	case confirmOutcomeCanceled:
		return confirm.Canceled()
	case confirmOutcomeFailed:
		return confirm.Failed(serviceerr.ErrNetwork.WithDescription("sandbox confirmation failed"))
	default:
		return confirm.Completed()
	}
}

func (a *scriptedApp) AccountUpdated(ctx context.Context, snapshot account.Snapshot) {
	slogctx.Info(ctx, "Account updated", "account_id", snapshot.ID, "phase", snapshot.Phase)
}

func (a *scriptedApp) LoggedOut(ctx context.Context, shouldCancel bool) {
	slogctx.Info(ctx, "Logged out", "should_cancel", shouldCancel)
}

func (a *scriptedApp) SignUpURL(context.Context) (string, error) {
	if a.cfg.SignUpURL == "" {
		return "", serviceerr.ErrNotFound.WithDescription("no sign-up url configured")
	}
	return a.cfg.SignUpURL, nil
}

// RefreshVerificationURL hands out the configured url with a fresh session
// parameter, so it is never the stale one.
func (a *scriptedApp) RefreshVerificationURL(_ context.Context, stale string) (string, error) {
	u, err := url.Parse(stale)
	if err != nil {
		return "", fmt.Errorf("parsing verification url: %w", err)
	}
	q := u.Query()
	q.Set("session", uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
