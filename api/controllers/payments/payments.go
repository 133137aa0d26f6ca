package payments

import (
	"encoding/json"
	"net/http"

	"github.com/threadline/settlement-backend/api/controllers"
	"github.com/threadline/settlement-backend/api/middleware"
	"github.com/threadline/settlement-backend/api/responses"
	"github.com/threadline/settlement-backend/api/validators"
	internalpayments "github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
)

type initiateRequest struct {
	PaymentMethod string          `json:"payment_method" validate:"required"`
	Payment       json.RawMessage `json:"payment"`
}

type manualConfirmRequest struct {
	Notes string `json:"notes" validate:"omitempty,max=1000"`
}

type refundRequest struct {
	AmountCents *int64 `json:"amount_cents" validate:"omitempty,gt=0"`
	Reason      string `json:"reason" validate:"required,max=500"`
}

type verifyResponse struct {
	TransactionID string                  `json:"transaction_id"`
	Status        enums.TransactionStatus `json:"status"`
}

// Initiate starts or resumes a payment attempt for an order. A live attempt
// inside the reuse window is returned with 200 instead of a new one.
func Initiate(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload initiateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}
		intent, err := internalpayments.DecodeIntent(method, payload.Payment)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ref, err := svc.Initiate(r.Context(), internalpayments.InitiateInput{
			OrderID: orderID,
			Method:  method,
			Payload: intent,
			Actor:   actor,
			Request: controllers.RiskRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if ref.Existing {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, ref)
	}
}

// Verify asks the gateway for the attempt's current status and settles it.
func Verify(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := svc.Verify(r.Context(), txID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, verifyResponse{TransactionID: txID.String(), Status: status})
	}
}

// ManualConfirm lets the seller or an admin mark a bank transfer or cash payment received.
func ManualConfirm(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload manualConfirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref, err := svc.MarkManuallyPaid(r.Context(), txID, validators.SanitizeString(payload.Notes, 1000), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ref)
	}
}

// Detail returns one payment attempt with its refunds.
func Detail(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.Get(r.Context(), txID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, controllers.NewTransactionView(txn))
	}
}

// Refund records a refund against the order's completed payment. Without an
// amount the whole remaining captured balance is refunded.
func Refund(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(payload.Reason, 500)

		var result internalpayments.RefundResult
		if payload.AmountCents != nil {
			result, err = svc.RefundPartial(r.Context(), orderID, *payload.AmountCents, reason, actor)
		} else {
			result, err = svc.RefundFull(r.Context(), orderID, reason, actor)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// ListFlagged is the admin risk review queue of challenged payment attempts.
func ListFlagged(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListFlagged(r.Context(), actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, controllers.MapPage(page, controllers.NewTransactionView))
	}
}
