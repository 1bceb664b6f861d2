package account

import (
	"errors"
	"fmt"
)

// Phase is the lifecycle position of a linked account.
type Phase int

const (
	PhaseNoAccount Phase = iota
	PhaseRequiresSignUp
	PhaseRequiresVerification
	PhaseVerified
)

var phaseNames = map[Phase]string{
	PhaseNoAccount:            "no_account",
	PhaseRequiresSignUp:       "requires_sign_up",
	PhaseRequiresVerification: "requires_verification",
	PhaseVerified:             "verified",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	name, ok := phaseNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown phase %d", int(p))
	}
	return []byte(name), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

var (
	ErrBackwardTransition = errors.New("phase transitions only move forward")
	ErrMissingAccountID   = errors.New("account id is required outside of no_account")
	ErrUnexpectedID       = errors.New("account id must be empty in no_account")
)

// Snapshot is the cached, serialisable form of a linked account.
type Snapshot struct {
	ID                        string `json:"id,omitempty"`
	Phase                     Phase  `json:"phase"`
	Email                     string `json:"email,omitempty"`
	LastAddedPaymentDetailsID string `json:"lastAddedPaymentDetailsId,omitempty"`
}

// Validate checks that the snapshot honours the no-account invariant.
func (s Snapshot) Validate() error {
	if _, ok := phaseNames[s.Phase]; !ok {
		return fmt.Errorf("unknown phase %d", int(s.Phase))
	}
	if s.Phase == PhaseNoAccount && s.ID != "" {
		return ErrUnexpectedID
	}
	if s.Phase != PhaseNoAccount && s.ID == "" {
		return ErrMissingAccountID
	}
	return nil
}
