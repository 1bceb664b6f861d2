package flow

import (
	"github.com/openkcm/link-checkout/pkg/account"
	"github.com/openkcm/link-checkout/pkg/browser"
	"github.com/openkcm/link-checkout/pkg/confirm"
)

type event interface {
	name() string
}

type (
	signUpCompleted struct {
		accountID            string
		email                string
		requiresVerification bool
	}
	signUpCanceled        struct{}
	signUpFailed          struct{ err error }
	verificationCompleted struct{}
	verificationCanceled  struct{ fallback bool }
	verificationFallback  struct{ url string }
	accountUpdated        struct{ snapshot account.Snapshot }
	logoutRequested       struct{ shouldCancel bool }
	paymentDetailsAdded   struct{ id string }
	paymentSelected       struct{ details confirm.PaymentDetails }
	dismissed             struct{}
	confirmationFinished  struct{ outcome confirm.Outcome }
	fallbackURLResolved   struct {
		purpose purpose
		url     string
		err     error
	}
	browserFinished struct {
		purpose purpose
		url     string
		result  browser.Result
	}
)

func (signUpCompleted) name() string       { return "sign_up_completed" }
func (signUpCanceled) name() string        { return "sign_up_canceled" }
func (signUpFailed) name() string          { return "sign_up_failed" }
func (verificationCompleted) name() string { return "verification_completed" }
func (verificationCanceled) name() string  { return "verification_canceled" }
func (verificationFallback) name() string  { return "verification_fallback_required" }
func (accountUpdated) name() string        { return "account_updated" }
func (logoutRequested) name() string       { return "logout_requested" }
func (paymentDetailsAdded) name() string   { return "payment_details_added" }
func (paymentSelected) name() string       { return "payment_selected" }
func (dismissed) name() string             { return "dismissed" }
func (confirmationFinished) name() string  { return "confirmation_finished" }
func (fallbackURLResolved) name() string   { return "fallback_url_resolved" }
func (browserFinished) name() string       { return "browser_finished" }

// purpose tells browser results and fallback URLs apart.
type purpose int

const (
	purposeSignUp purpose = iota
	purposeVerification
)

func (p purpose) String() string {
	if p == purposeSignUp {
		return "sign_up"
	}
	return "verification"
}

// SignUpCompleted reports that the sign-up step created accountID.
// requiresVerification decides whether verification is shown next.
func (c *Coordinator) SignUpCompleted(accountID, email string, requiresVerification bool) {
	c.post(signUpCompleted{accountID: accountID, email: email, requiresVerification: requiresVerification})
}

func (c *Coordinator) SignUpCanceled() { c.post(signUpCanceled{}) }

// SignUpFailed reports a failed sign-up attempt. Attestation failures bail
// out to the browser based sign-up; anything else is shown on the step.
func (c *Coordinator) SignUpFailed(err error) { c.post(signUpFailed{err: err}) }

func (c *Coordinator) VerificationCompleted() { c.post(verificationCompleted{}) }

// VerificationCanceled reports the verification step was backed out of. An
// embedded cancel logs out; a canceled browser fallback ends the flow.
func (c *Coordinator) VerificationCanceled(fallback bool) {
	c.post(verificationCanceled{fallback: fallback})
}

// VerificationFallbackRequired asks for url to be shown in a browser session.
func (c *Coordinator) VerificationFallbackRequired(url string) {
	c.post(verificationFallback{url: url})
}

// AccountUpdated applies an externally refreshed account.
func (c *Coordinator) AccountUpdated(snapshot account.Snapshot) {
	c.post(accountUpdated{snapshot: snapshot})
}

// Logout resets the flow to no account. With shouldCancel the flow ends as
// canceled.
func (c *Coordinator) Logout(shouldCancel bool) { c.post(logoutRequested{shouldCancel: shouldCancel}) }

func (c *Coordinator) PaymentDetailsAdded(id string) { c.post(paymentDetailsAdded{id: id}) }

// PaymentSelected confirms details.
func (c *Coordinator) PaymentSelected(details confirm.PaymentDetails) {
	c.post(paymentSelected{details: details})
}

// Dismiss ends the flow as canceled.
func (c *Coordinator) Dismiss() { c.post(dismissed{}) }

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
