package confirm

import (
	"fmt"

	"github.com/openkcm/link-checkout/internal/serviceerr"
	"github.com/openkcm/link-checkout/internal/validation"
)

var validate = validation.New()

// PaymentDetails is the payment method the customer selected in the wallet
// together with the amount being confirmed.
type PaymentDetails struct {
	ID       string `json:"id" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=card bank_account"`
	Last4    string `json:"last4,omitempty" validate:"omitempty,len=4,numeric"`
	Amount   int64  `json:"amount" validate:"gt=0"`
	Currency string `json:"currency" validate:"required,currency"`
	// CVC is collected again for cards that require it on reuse.
	CVC string `json:"cvc,omitempty" validate:"omitempty,numeric,min=3,max=4"`
}

func (d PaymentDetails) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", serviceerr.ErrInvalidDetails, validation.Normalize(err))
	}
	return nil
}
