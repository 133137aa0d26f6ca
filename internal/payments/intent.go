package payments

import (
	"encoding/json"
	"strings"

	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/types"
)

// Intent is the method-specific payment payload supplied by the buyer.
type Intent interface {
	Method() enums.PaymentMethod
	validate() error
}

// CardIntent carries a tokenized card from the Square Web Payments SDK.
type CardIntent struct {
	SourceID          string         `json:"source_id" validate:"required"`
	VerificationToken string         `json:"verification_token,omitempty"`
	CustomerID        string         `json:"customer_id,omitempty"`
	BillingAddress    *types.Address `json:"billing_address,omitempty"`
}

func (CardIntent) Method() enums.PaymentMethod { return enums.PaymentMethodCard }

func (c CardIntent) validate() error {
	if strings.TrimSpace(c.SourceID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "card source id is required")
	}
	return nil
}

// BankTransferIntent records the buyer's declared transfer. Settlement is manual.
type BankTransferIntent struct {
	BankName       string `json:"bank_name,omitempty"`
	TransferNumber string `json:"transfer_number,omitempty"`
}

func (BankTransferIntent) Method() enums.PaymentMethod { return enums.PaymentMethodBankTransfer }

func (BankTransferIntent) validate() error { return nil }

// CashIntent is payment on pickup or delivery. Settlement is manual.
type CashIntent struct {
	Notes string `json:"notes,omitempty"`
}

func (CashIntent) Method() enums.PaymentMethod { return enums.PaymentMethodCash }

func (CashIntent) validate() error { return nil }

// DecodeIntent parses the raw payload for method. Manual methods accept an
// empty payload.
func DecodeIntent(method enums.PaymentMethod, raw json.RawMessage) (Intent, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	var (
		intent Intent
		err    error
	)
	switch method {
	case enums.PaymentMethodCard:
		var card CardIntent
		if empty {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "card payment details are required")
		}
		err = json.Unmarshal(raw, &card)
		intent = card
	case enums.PaymentMethodBankTransfer:
		var bank BankTransferIntent
		if !empty {
			err = json.Unmarshal(raw, &bank)
		}
		intent = bank
	case enums.PaymentMethodCash:
		var cash CashIntent
		if !empty {
			err = json.Unmarshal(raw, &cash)
		}
		intent = cash
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"payment_method": string(method)})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment details")
	}
	if err := intent.validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

func defaultIntent(method enums.PaymentMethod) Intent {
	switch method {
	case enums.PaymentMethodBankTransfer:
		return BankTransferIntent{}
	case enums.PaymentMethodCash:
		return CashIntent{}
	default:
		return nil
	}
}
