package flow

import (
	"context"
	"fmt"

	"github.com/openkcm/link-checkout/pkg/account"
	"github.com/openkcm/link-checkout/pkg/browser"
	"github.com/openkcm/link-checkout/pkg/confirm"
)

// Step is a screen of the flow.
type Step int

const (
	StepNone Step = iota
	StepSignUp
	StepVerification
	StepWallet
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepSignUp:
		return "sign_up"
	case StepVerification:
		return "verification"
	case StepWallet:
		return "wallet"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// StepFor returns the step presented for phase.
func StepFor(phase account.Phase) Step {
	switch phase {
	case account.PhaseNoAccount, account.PhaseRequiresSignUp:
		return StepSignUp
	case account.PhaseRequiresVerification:
		return StepVerification
	case account.PhaseVerified:
		return StepWallet
	default:
		return StepNone
	}
}

// StepProps is the read-only view of the account a step renders.
type StepProps struct {
	AccountID                   string
	Email                       string
	PreselectedPaymentDetailsID string
}

func propsOf(s *account.State) StepProps {
	return StepProps{
		AccountID:                   s.AccountID(),
		Email:                       s.Email(),
		PreselectedPaymentDetailsID: s.LastAddedPaymentDetailsID(),
	}
}

// Navigator presents steps. All calls are made from the coordinator's loop
// goroutine except SetDismissalEnabled, which the confirmation runs from its
// own goroutine.
type Navigator interface {
	confirm.Surface

	// Show replaces the presented step.
	Show(step Step, props StepProps)
	// Update refreshes the props of the presented step without navigating.
	Update(step Step, props StepProps)
	// ShowError displays err inline on step. A nil err clears it.
	ShowError(step Step, err error)
	// SetConfirmEnabled gates the wallet's confirm trigger.
	SetConfirmEnabled(enabled bool)
}

// Host is the embedding application.
type Host interface {
	Confirm(ctx context.Context, details confirm.PaymentDetails) confirm.Outcome
	AccountUpdated(ctx context.Context, snapshot account.Snapshot)
	LoggedOut(ctx context.Context, shouldCancel bool)
}

// FallbackSource hands out browser based fallback URLs. Verification URLs are
// single use, so a visited one is exchanged for a fresh one.
type FallbackSource interface {
	SignUpURL(ctx context.Context) (string, error)
	RefreshVerificationURL(ctx context.Context, stale string) (string, error)
}

// BrowserSessions starts system browser sessions.
type BrowserSessions interface {
	Start(ctx context.Context, rawURL, callbackScheme string) <-chan browser.Result
	Cancel()
}

// AccountStore caches the account between flow instances.
type AccountStore interface {
	Load(ctx context.Context) (account.Snapshot, error)
	Store(ctx context.Context, snapshot account.Snapshot) error
	Clear(ctx context.Context) error
}
