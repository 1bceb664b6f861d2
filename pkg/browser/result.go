package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/openkcm/link-checkout/internal/serviceerr"
)

type Status int

const (
	StatusSuccess Status = iota
	StatusCanceled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Reference is what a successful redirect carries: a payment method, an
// account id, or both.
type Reference struct {
	AccountID     string
	PaymentMethod json.RawMessage
}

// Result is the single outcome of one browser session.
type Result struct {
	Status Status
	Ref    Reference
	// Err is set only for StatusFailed.
	Err error
	// LoggedOut is set when the redirect was a logout. The cached account has
	// been cleared and Status is StatusCanceled.
	LoggedOut bool
}

func success(ref Reference) Result { return Result{Status: StatusSuccess, Ref: ref} }
func canceled() Result             { return Result{Status: StatusCanceled} }
func failed(err error) Result      { return Result{Status: StatusFailed, Err: err} }

const (
	paramStatus        = "link_status"
	paramPaymentMethod = "pm"
	paramAccountID     = "account_id"

	statusComplete = "complete"
	statusLogout   = "logout"
)

type callback struct {
	logout bool
	ref    Reference
}

func parseCallback(u *url.URL, scheme string) (callback, error) {
	if u == nil {
		return callback{}, serviceerr.ErrParse.WithDescription("missing redirect url")
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return callback{}, serviceerr.ErrParse.WithDescription(fmt.Sprintf("unexpected scheme %q", u.Scheme))
	}

	q := u.Query()
	switch status := q.Get(paramStatus); status {
	case statusLogout:
		return callback{logout: true}, nil
	case statusComplete:
		ref := Reference{AccountID: q.Get(paramAccountID)}

		if pm := q.Get(paramPaymentMethod); pm != "" {
			raw, err := decodePaymentMethod(pm)
			if err != nil {
				return callback{}, err
			}
			ref.PaymentMethod = raw
		}

		if ref.AccountID == "" && ref.PaymentMethod == nil {
			return callback{}, serviceerr.ErrParse.WithDescription("complete redirect carries no reference")
		}
		return callback{ref: ref}, nil
	case "":
		return callback{}, serviceerr.ErrParse.WithDescription("missing " + paramStatus)
	default:
		return callback{}, serviceerr.ErrParse.WithDescription(fmt.Sprintf("unknown %s %q", paramStatus, status))
	}
}

func decodePaymentMethod(pm string) (json.RawMessage, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(pm, "="))
	if err != nil {
		return nil, serviceerr.ErrParse.WithDescription("payment method is not base64url: " + err.Error())
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, serviceerr.ErrParse.WithDescription("payment method is not a JSON object")
	}

	return json.RawMessage(data), nil
}
