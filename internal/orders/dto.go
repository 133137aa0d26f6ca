package orders

import (
	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/internal/pricing"
	"github.com/threadline/settlement-backend/internal/risk"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/pagination"
	"github.com/threadline/settlement-backend/pkg/types"
)

// PlaceInput is a buyer's purchase request for one listing.
type PlaceInput struct {
	ListingID            uuid.UUID
	Quantity             int
	CustomizationChoices map[string]string
	DeliveryMethod       enums.DeliveryMethod
	DeliveryAddress      *types.Address
	PaymentMethod        enums.PaymentMethod
	Payment              payments.Intent
	Actor                authz.Actor
	Request              risk.RequestContext
}

// PlaceResult is the created order with its frozen price and first payment
// attempt. PaymentErr is set when the order committed but payment could not
// start; the buyer retries through the payment surface.
type PlaceResult struct {
	Order      *models.Order
	Breakdown  pricing.Breakdown
	Payment    *payments.TransactionRef
	PaymentErr error
}

// TransitionInput requests a status change.
type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Note    string
	Actor   authz.Actor
}

// TrackingInput attaches shipment tracking to an order.
type TrackingInput struct {
	OrderID uuid.UUID
	Carrier string
	Number  string
	URL     string
	Actor   authz.Actor
}

// RateInput is the buyer's one-time rating.
type RateInput struct {
	OrderID uuid.UUID
	Rating  int
	Comment string
	Actor   authz.Actor
}

// ListParams selects the caller's orders.
type ListParams struct {
	Status     *enums.OrderStatus
	Pagination pagination.Params
}

// ListFilter is the repository view of ListParams after authorization.
type ListFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *enums.OrderStatus
}
