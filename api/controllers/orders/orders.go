package orders

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/api/controllers"
	"github.com/threadline/settlement-backend/api/middleware"
	"github.com/threadline/settlement-backend/api/responses"
	"github.com/threadline/settlement-backend/api/validators"
	internalorders "github.com/threadline/settlement-backend/internal/orders"
	"github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/internal/pricing"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/types"
)

type placeOrderRequest struct {
	ListingID            uuid.UUID         `json:"listing_id" validate:"required"`
	Quantity             int               `json:"quantity" validate:"required,gt=0"`
	CustomizationChoices map[string]string `json:"customization_choices"`
	DeliveryMethod       string            `json:"delivery_method" validate:"required"`
	DeliveryAddress      *types.Address    `json:"delivery_address"`
	PaymentMethod        string            `json:"payment_method" validate:"required"`
	Payment              json.RawMessage   `json:"payment"`
}

type quoteRequest struct {
	ListingID            uuid.UUID         `json:"listing_id" validate:"required"`
	Quantity             int               `json:"quantity" validate:"required,gt=0"`
	CustomizationChoices map[string]string `json:"customization_choices"`
	DeliveryMethod       string            `json:"delivery_method" validate:"required"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"omitempty,max=1000"`
}

type trackingRequest struct {
	Carrier string `json:"carrier" validate:"omitempty,max=100"`
	Number  string `json:"number" validate:"omitempty,max=100"`
	URL     string `json:"url" validate:"omitempty,url,max=500"`
}

type rateRequest struct {
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string `json:"comment" validate:"omitempty,max=2000"`
}

type placeOrderResponse struct {
	Order        controllers.OrderView    `json:"order"`
	Breakdown    pricing.Breakdown        `json:"breakdown"`
	Payment      *payments.TransactionRef `json:"payment,omitempty"`
	PaymentError *controllers.ErrorView   `json:"payment_error,omitempty"`
}

// Place prices the listing, reserves materials and starts the first payment attempt.
func Place(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload placeOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delivery, err := enums.ParseDeliveryMethod(payload.DeliveryMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery method"))
			return
		}
		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}
		intent, err := payments.DecodeIntent(method, payload.Payment)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Place(r.Context(), internalorders.PlaceInput{
			ListingID:            payload.ListingID,
			Quantity:             payload.Quantity,
			CustomizationChoices: payload.CustomizationChoices,
			DeliveryMethod:       delivery,
			DeliveryAddress:      payload.DeliveryAddress,
			PaymentMethod:        method,
			Payment:              intent,
			Actor:                actor,
			Request:              controllers.RiskRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, placeOrderResponse{
			Order:        controllers.NewOrderView(result.Order),
			Breakdown:    result.Breakdown.Rounded(),
			Payment:      result.Payment,
			PaymentError: controllers.NewErrorView(result.PaymentErr),
		})
	}
}

// Quote returns the price breakdown for a prospective order without side effects.
func Quote(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		var payload quoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delivery, err := enums.ParseDeliveryMethod(payload.DeliveryMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery method"))
			return
		}
		breakdown, err := svc.Quote(r.Context(), payload.ListingID, payload.Quantity, payload.CustomizationChoices, delivery)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, breakdown.Rounded())
	}
}

// List returns the caller's orders: purchases for buyers, sales for sellers, all for admins.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
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
		list := internalorders.ListParams{Pagination: params}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			list.Status = &status
		}

		page, err := svc.List(r.Context(), actor, list)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, controllers.MapPage(page, controllers.NewOrderView))
	}
}

// Detail returns one order with its status history and payment attempts.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return withOrder(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) (*models.Order, error) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			return nil, err
		}
		return svc.Get(r.Context(), orderID, actor)
	})
}

// Transition moves the order to the requested status.
func Transition(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return withOrder(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) (*models.Order, error) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			return nil, err
		}
		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		return svc.Transition(r.Context(), internalorders.TransitionInput{
			OrderID: orderID,
			Target:  target,
			Note:    validators.SanitizeString(payload.Note, 1000),
			Actor:   actor,
		})
	})
}

// Tracking records the seller's shipment tracking details.
func Tracking(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return withOrder(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) (*models.Order, error) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			return nil, err
		}
		var payload trackingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.UpdateTracking(r.Context(), internalorders.TrackingInput{
			OrderID: orderID,
			Carrier: validators.SanitizeString(payload.Carrier, 100),
			Number:  validators.SanitizeString(payload.Number, 100),
			URL:     validators.SanitizeString(payload.URL, 500),
			Actor:   actor,
		})
	})
}

// Rate stores the buyer's one-time rating.
func Rate(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return withOrder(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) (*models.Order, error) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			return nil, err
		}
		var payload rateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Rate(r.Context(), internalorders.RateInput{
			OrderID: orderID,
			Rating:  payload.Rating,
			Comment: validators.SanitizeString(payload.Comment, 2000),
			Actor:   actor,
		})
	})
}

type orderAction func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) (*models.Order, error)

func withOrder(svc internalorders.Service, logg *logger.Logger, action orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		order, err := action(w, r.WithContext(ctx), orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, controllers.NewOrderView(order))
	}
}
