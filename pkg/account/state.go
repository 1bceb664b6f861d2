package account

import "fmt"

// State is the account session state of a single flow instance. It is not
// safe for concurrent use; the owning flow coordinator serialises access.
type State struct {
	phase                     Phase
	accountID                 string
	email                     string
	lastAddedPaymentDetailsID string
	visitedFallbackURLs       map[string]struct{}
}

// NewState returns a state without an account.
func NewState() *State {
	return &State{visitedFallbackURLs: make(map[string]struct{})}
}

// FromSnapshot restores a state from a cached account.
func FromSnapshot(s Snapshot) (*State, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating snapshot: %w", err)
	}

	st := NewState()
	st.phase = s.Phase
	st.accountID = s.ID
	st.email = s.Email
	st.lastAddedPaymentDetailsID = s.LastAddedPaymentDetailsID

	return st, nil
}

func (s *State) Phase() Phase                      { return s.phase }
func (s *State) AccountID() string                 { return s.accountID }
func (s *State) Email() string                     { return s.email }
func (s *State) LastAddedPaymentDetailsID() string { return s.lastAddedPaymentDetailsID }

// Advance moves the state forward to phase for accountID.
func (s *State) Advance(phase Phase, accountID string) error {
	if phase < s.phase {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, s.phase, phase)
	}
	if phase == PhaseNoAccount {
		if accountID != "" {
			return ErrUnexpectedID
		}
		return nil
	}
	if accountID == "" {
		return ErrMissingAccountID
	}
	if s.accountID != "" && s.accountID != accountID {
		return fmt.Errorf("%w: account changed from %s to %s", ErrBackwardTransition, s.accountID, accountID)
	}

	s.phase = phase
	s.accountID = accountID

	return nil
}

// Logout resets the state to no account. Visited fallback URLs are kept so a
// single-use URL is never replayed within the flow instance.
func (s *State) Logout() {
	s.phase = PhaseNoAccount
	s.accountID = ""
	s.email = ""
	s.lastAddedPaymentDetailsID = ""
}

// Refresh applies an externally refreshed account. A different account id
// replaces the state; the same account only ever moves forward. It reports
// whether anything changed.
func (s *State) Refresh(snap Snapshot) (bool, error) {
	if err := snap.Validate(); err != nil {
		return false, fmt.Errorf("validating snapshot: %w", err)
	}

	if snap.Phase == PhaseNoAccount {
		changed := s.phase != PhaseNoAccount
		s.Logout()
		return changed, nil
	}

	if snap.ID != s.accountID {
		s.phase = snap.Phase
		s.accountID = snap.ID
		s.email = snap.Email
		s.lastAddedPaymentDetailsID = snap.LastAddedPaymentDetailsID
		return true, nil
	}

	changed := false
	if snap.Phase > s.phase {
		s.phase = snap.Phase
		changed = true
	}
	if snap.Email != "" && snap.Email != s.email {
		s.email = snap.Email
		changed = true
	}
	if snap.LastAddedPaymentDetailsID != "" && snap.LastAddedPaymentDetailsID != s.lastAddedPaymentDetailsID {
		s.lastAddedPaymentDetailsID = snap.LastAddedPaymentDetailsID
		changed = true
	}

	return changed, nil
}

func (s *State) SetEmail(email string) { s.email = email }

func (s *State) SetLastAddedPaymentDetails(id string) { s.lastAddedPaymentDetailsID = id }

// MarkVisited records a fallback URL as shown.
func (s *State) MarkVisited(url string) { s.visitedFallbackURLs[url] = struct{}{} }

// ForgetVisited drops url from the visited set. Used when a session for url
// could not be started at all.
func (s *State) ForgetVisited(url string) { delete(s.visitedFallbackURLs, url) }

// Visited reports whether url was already shown through a browser session.
func (s *State) Visited(url string) bool {
	_, ok := s.visitedFallbackURLs[url]
	return ok
}

// Snapshot returns the cacheable form of the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		ID:                        s.accountID,
		Phase:                     s.phase,
		Email:                     s.email,
		LastAddedPaymentDetailsID: s.lastAddedPaymentDetailsID,
	}
}
