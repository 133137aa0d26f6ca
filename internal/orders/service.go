package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/internal/inventory"
	"github.com/threadline/settlement-backend/internal/listings"
	"github.com/threadline/settlement-backend/internal/notifications"
	"github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/internal/pricing"
	"github.com/threadline/settlement-backend/internal/risk"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/metrics"
	"github.com/threadline/settlement-backend/pkg/outbox"
	"github.com/threadline/settlement-backend/pkg/outbox/payloads"
	"github.com/threadline/settlement-backend/pkg/pagination"
	"github.com/threadline/settlement-backend/pkg/phone"
	"github.com/threadline/settlement-backend/pkg/types"
)

const (
	maxRating   = 5
	maxNoteLen  = 500
	defaultArea = "US"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type priceQuoter interface {
	ComputePrice(ctx context.Context, listing listings.Snapshot, quantity int, choices map[string]string, method enums.DeliveryMethod) (pricing.Breakdown, error)
}

type stockReserver interface {
	ReserveForOrder(ctx context.Context, tx *gorm.DB, lines []listings.MaterialLine, orderQty int, orderRef uuid.UUID) (inventory.Reservation, error)
	ReleaseForOrder(ctx context.Context, tx *gorm.DB, orderRef uuid.UUID, actor authz.Actor) (inventory.Reservation, error)
}

type riskChecker interface {
	Check(ctx context.Context, txn risk.Transaction, req risk.RequestContext) (risk.Assessment, error)
}

type paymentInitiator interface {
	Initiate(ctx context.Context, input payments.InitiateInput) (payments.TransactionRef, error)
}

// Service is the order state machine plus purchase orchestration.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (PlaceResult, error)
	Quote(ctx context.Context, listingID uuid.UUID, quantity int, choices map[string]string, method enums.DeliveryMethod) (pricing.Breakdown, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	UpdateTracking(ctx context.Context, input TrackingInput) (*models.Order, error)
	Rate(ctx context.Context, input RateInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID, actor authz.Actor) (*models.Order, error)
	List(ctx context.Context, actor authz.Actor, params ListParams) (pagination.Page[models.Order], error)
}

// ServiceParams bundles the collaborators of the order service.
type ServiceParams struct {
	Repo          Repository
	Tx            txRunner
	Catalog       listings.Catalog
	Pricing       priceQuoter
	Inventory     stockReserver
	Risk          riskChecker
	Payments      paymentInitiator
	Outbox        outboxPublisher
	Metrics       *metrics.SettlementMetrics
	Logger        *logger.Logger
	DefaultRegion string
	Now           func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	catalog   listings.Catalog
	pricing   priceQuoter
	inventory stockReserver
	risk      riskChecker
	payments  paymentInitiator
	outbox    outboxPublisher
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
	region    string
	now       func() time.Time
}

// NewService validates params and builds the order service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("listing catalog required")
	case params.Pricing == nil:
		return nil, fmt.Errorf("pricing engine required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Risk == nil:
		return nil, fmt.Errorf("risk gate required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payment ledger required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	region := strings.ToUpper(strings.TrimSpace(params.DefaultRegion))
	if region == "" {
		region = defaultArea
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		catalog:   params.Catalog,
		pricing:   params.Pricing,
		inventory: params.Inventory,
		risk:      params.Risk,
		payments:  params.Payments,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		region:    region,
		now:       now,
	}, nil
}

func (s *service) Quote(ctx context.Context, listingID uuid.UUID, quantity int, choices map[string]string, method enums.DeliveryMethod) (pricing.Breakdown, error) {
	snap, err := s.availableListing(ctx, listingID)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	breakdown, err := s.pricing.ComputePrice(ctx, snap, quantity, choices, method)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	return breakdown.Rounded(), nil
}

// Place prices the listing, scores the payment, then commits the order, its
// first history entry and the inventory reservation together. Payment is
// initiated after the commit with the same risk decision.
func (s *service) Place(ctx context.Context, input PlaceInput) (PlaceResult, error) {
	if err := authz.RequireRole(input.Actor, enums.RoleBuyer); err != nil {
		return PlaceResult{}, err
	}
	if input.Quantity <= 0 {
		return PlaceResult{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be a positive integer")
	}
	if !input.PaymentMethod.IsValid() {
		return PlaceResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"payment_method": string(input.PaymentMethod)})
	}
	if input.Payment != nil && input.Payment.Method() != input.PaymentMethod {
		return PlaceResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment details do not match payment method")
	}
	if input.Payment == nil && input.PaymentMethod == enums.PaymentMethodCard {
		return PlaceResult{}, pkgerrors.New(pkgerrors.CodeValidation, "card payment details are required")
	}
	address, err := s.deliveryAddress(input.DeliveryMethod, input.DeliveryAddress)
	if err != nil {
		return PlaceResult{}, err
	}

	snap, err := s.availableListing(ctx, input.ListingID)
	if err != nil {
		return PlaceResult{}, err
	}
	if snap.SellerID == input.Actor.UserID {
		return PlaceResult{}, pkgerrors.New(pkgerrors.CodeValidation, "sellers cannot order their own listing")
	}
	breakdown, err := s.pricing.ComputePrice(ctx, snap, input.Quantity, input.CustomizationChoices, input.DeliveryMethod)
	if err != nil {
		return PlaceResult{}, err
	}
	breakdown = breakdown.Rounded()
	cents := breakdown.Cents()

	orderID := uuid.New()
	// A new order has no stored payment attempts yet.
	req := input.Request
	req.RetryCount = 0
	assessment, err := s.risk.Check(ctx, risk.Transaction{
		OrderID:         orderID,
		BuyerID:         input.Actor.UserID,
		Method:          input.PaymentMethod,
		AmountCents:     cents.Total,
		ShippingAddress: address,
		BillingAddress:  billingAddress(input.Payment),
	}, req)
	if err != nil {
		return PlaceResult{}, err
	}

	order := &models.Order{
		ID:                    orderID,
		BuyerID:               input.Actor.UserID,
		SellerID:              snap.SellerID,
		ListingID:             snap.ID,
		Quantity:              input.Quantity,
		CustomizationChoices:  input.CustomizationChoices,
		Status:                enums.OrderStatusPending,
		PaymentMethod:         input.PaymentMethod,
		PaymentStatus:         enums.PaymentStatusPending,
		DeliveryMethod:        input.DeliveryMethod,
		DeliveryAddress:       address,
		Currency:              breakdown.Currency,
		BasePriceCents:        cents.BasePrice,
		TotalBasePriceCents:   cents.TotalBasePrice,
		CustomizationFeeCents: cents.CustomizationFee,
		MaterialCostCents:     cents.MaterialCost,
		DeliveryFeeCents:      cents.DeliveryFee,
		HandlingFeeCents:      cents.HandlingFee,
		BulkDiscountCents:     cents.BulkDiscount,
		PlatformFeeCents:      cents.PlatformFee,
		SubtotalCents:         cents.Subtotal,
		TaxCents:              cents.Tax,
		TotalCents:            cents.Total,
		TaxRate:               breakdown.TaxRate.String(),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := repo.AppendHistory(ctx, historyEntry(order.ID, nil, enums.OrderStatusPending, "", input.Actor)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order history")
		}
		if _, err := s.inventory.ReserveForOrder(ctx, tx, snap.Materials, input.Quantity, order.ID); err != nil {
			return err
		}
		events := []outbox.DomainEvent{{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				BuyerID:        order.BuyerID,
				SellerID:       order.SellerID,
				ListingID:      order.ListingID,
				Quantity:       order.Quantity,
				TotalCents:     order.TotalCents,
				Currency:       order.Currency,
				PaymentMethod:  order.PaymentMethod,
				DeliveryMethod: order.DeliveryMethod,
			},
		}}
		events = append(events, notifications.OrderCreated(order.ID, order.BuyerID, order.SellerID, snap.Title, input.Actor.Ref())...)
		return s.emitAll(ctx, tx, events)
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"listing_id": snap.ID.String(),
				"quantity":   input.Quantity,
			}), "order.insufficient_stock")
		}
		return PlaceResult{}, err
	}

	s.metrics.IncOrderCreated()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":    order.ID.String(),
		"listing_id":  order.ListingID.String(),
		"total_cents": order.TotalCents,
	})
	s.logg.Info(ctx, "order.placed")

	result := PlaceResult{Breakdown: breakdown}
	ref, payErr := s.payments.Initiate(ctx, payments.InitiateInput{
		OrderID:    order.ID,
		Method:     order.PaymentMethod,
		Payload:    input.Payment,
		Actor:      input.Actor,
		Request:    req,
		Assessment: &assessment,
	})
	if payErr != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", payErr.Error()), "order.payment_not_started")
		result.PaymentErr = payErr
	} else {
		result.Payment = &ref
	}

	detail, err := s.repo.FindDetail(ctx, order.ID)
	if err != nil {
		return PlaceResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	result.Order = detail
	return result, nil
}

// Transition applies one edge of the state machine. The order row is locked
// and the status update is conditional on the status read, so transitions on
// one order are strictly serialized.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": string(input.Target)})
	}
	if err := authz.Authenticated(input.Actor); err != nil {
		return nil, err
	}
	note := strings.TrimSpace(input.Note)
	if len(note) > maxNoteLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "note is too long")
	}

	var from enums.OrderStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, input.OrderID)
		if err != nil {
			return mapLookupError(err)
		}
		if err := authz.RequireParty(input.Actor, order.BuyerID, order.SellerID); err != nil {
			return err
		}
		from = order.Status
		if err := checkTransition(order, input.Target, input.Actor); err != nil {
			return err
		}

		extra := map[string]any{}
		if input.Target == enums.OrderStatusMaking && order.ProductionStartedAt == nil {
			extra["production_started_at"] = s.now().UTC()
		}
		ok, err := repo.UpdateStatusIfCurrent(ctx, order.ID, from, input.Target, extra)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}
		fromStatus := from
		if err := repo.AppendHistory(ctx, historyEntry(order.ID, &fromStatus, input.Target, note, input.Actor)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order history")
		}

		change := payloads.OrderStateChangedEvent{
			OrderID:    order.ID,
			FromStatus: from,
			ToStatus:   input.Target,
			Note:       note,
			ActorRole:  enums.Role(input.Actor.RoleLabel()),
		}
		events := []outbox.DomainEvent{{
			EventType:     enums.EventOrderStateChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor.Ref(),
			Data:          change,
		}}
		if input.Target == enums.OrderStatusCanceled {
			events = append(events, outbox.DomainEvent{
				EventType:     enums.EventOrderCanceled,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         input.Actor.Ref(),
				Data:          change,
			})
			if releasesStock(order, from) {
				released, err := s.inventory.ReleaseForOrder(ctx, tx, order.ID, input.Actor)
				if err != nil {
					return err
				}
				if len(released.Lines) > 0 {
					events = append(events, outbox.DomainEvent{
						EventType:     enums.EventReservationReleased,
						AggregateType: enums.AggregateOrder,
						AggregateID:   order.ID,
						Actor:         input.Actor.Ref(),
						Data:          releasedEvent(released),
					})
				}
			}
		}
		for _, recipient := range recipients(order, input.Actor) {
			events = append(events, notifications.OrderStatusChanged(order.ID, recipient, input.Target, input.Actor.Ref()))
		}
		return s.emitAll(ctx, tx, events)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncOrderTransition(from.String(), input.Target.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":   input.OrderID.String(),
		"from":       from,
		"to":         input.Target,
		"actor_role": input.Actor.RoleLabel(),
	}), "order.transitioned")
	return s.load(ctx, input.OrderID)
}

func (s *service) UpdateTracking(ctx context.Context, input TrackingInput) (*models.Order, error) {
	if err := authz.RequireRole(input.Actor, enums.RoleSeller, enums.RoleAdmin); err != nil {
		return nil, err
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}
	order, err := s.repo.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if !input.Actor.IsAdmin() && !authz.IsSellerOf(input.Actor, order.SellerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to seller")
	}
	switch order.Status {
	case enums.OrderStatusReady, enums.OrderStatusShipped, enums.OrderStatusDelivered:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "tracking can only be added once the order is ready").
			WithDetails(map[string]any{"status": order.Status})
	}
	if err := s.repo.UpdateTracking(ctx, order.ID, optional(input.Carrier), &number, optional(input.URL)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update tracking")
	}
	return s.load(ctx, order.ID)
}

func (s *service) Rate(ctx context.Context, input RateInput) (*models.Order, error) {
	if err := authz.RequireRole(input.Actor, enums.RoleBuyer); err != nil {
		return nil, err
	}
	if input.Rating < 1 || input.Rating > maxRating {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}
	order, err := s.repo.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if !authz.IsBuyerOf(input.Actor, order.BuyerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can rate this order")
	}
	if !order.Status.AcceptsRating() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be rated in its current status").
			WithDetails(map[string]any{"status": order.Status})
	}
	ok, err := s.repo.SetRatingIfUnset(ctx, order.ID, input.Rating, optional(input.Comment), s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save rating")
	}
	if !ok {
		current, err := s.repo.FindByID(ctx, order.ID)
		if err != nil {
			return nil, mapLookupError(err)
		}
		if !current.Status.AcceptsRating() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be rated in its current status").
				WithDetails(map[string]any{"status": current.Status})
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already rated")
	}
	return s.load(ctx, order.ID)
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor authz.Actor) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireParty(actor, order.BuyerID, order.SellerID); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) List(ctx context.Context, actor authz.Actor, params ListParams) (pagination.Page[models.Order], error) {
	if err := authz.Authenticated(actor); err != nil {
		return pagination.Page[models.Order]{}, err
	}
	if params.Status != nil && !params.Status.IsValid() {
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	filter := ListFilter{Status: params.Status}
	switch {
	case actor.IsAdmin():
	case actor.Role == enums.RoleSeller:
		id := actor.UserID
		filter.SellerID = &id
	default:
		id := actor.UserID
		filter.BuyerID = &id
	}
	cursor, err := pagination.ParseCursor(params.Pagination.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, cursor, params.Pagination.Limit)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return pagination.BuildPage(rows, params.Pagination.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindDetail(ctx, orderID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return order, nil
}

func (s *service) availableListing(ctx context.Context, listingID uuid.UUID) (listings.Snapshot, error) {
	snap, err := s.catalog.Snapshot(ctx, listingID)
	if err != nil {
		return listings.Snapshot{}, err
	}
	if !snap.Active {
		return listings.Snapshot{}, pkgerrors.New(pkgerrors.CodeConflict, "listing is not available")
	}
	return snap, nil
}

// deliveryAddress normalizes the address and its phone. Pickup orders may omit it.
func (s *service) deliveryAddress(method enums.DeliveryMethod, address *types.Address) (*types.Address, error) {
	if address == nil {
		if method == enums.DeliveryMethodPickup {
			return nil, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery address is required")
	}
	normalized := address.Normalized()
	if normalized.Phone != "" {
		region := normalized.Country
		if region == "" {
			region = s.region
		}
		e164, err := phone.NormalizeE164(normalized.Phone, region)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery phone number")
		}
		normalized.Phone = e164
	}
	return &normalized, nil
}

func (s *service) emitAll(ctx context.Context, tx *gorm.DB, events []outbox.DomainEvent) error {
	for _, event := range events {
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order event")
		}
	}
	return nil
}

func historyEntry(orderID uuid.UUID, from *enums.OrderStatus, to enums.OrderStatus, note string, actor authz.Actor) *models.OrderStatusEvent {
	return &models.OrderStatusEvent{
		OrderID:    orderID,
		FromStatus: from,
		Status:     to,
		Note:       optional(note),
		ActorID:    actor.UserID,
		ActorRole:  enums.Role(actor.RoleLabel()),
	}
}

// recipients notifies the counterparty of whoever acted, or both parties when
// an admin or the system moved the order.
func recipients(order *models.Order, actor authz.Actor) []uuid.UUID {
	switch {
	case authz.IsBuyerOf(actor, order.BuyerID):
		return []uuid.UUID{order.SellerID}
	case authz.IsSellerOf(actor, order.SellerID):
		return []uuid.UUID{order.BuyerID}
	default:
		return []uuid.UUID{order.BuyerID, order.SellerID}
	}
}

func releasedEvent(reservation inventory.Reservation) payloads.ReservationReleasedEvent {
	event := payloads.ReservationReleasedEvent{OrderID: reservation.OrderID}
	for _, line := range reservation.Lines {
		event.Lines = append(event.Lines, payloads.ReleasedLine{
			InventoryItemID: line.InventoryItemID,
			Quantity:        line.Quantity,
		})
	}
	return event
}

func billingAddress(intent payments.Intent) *types.Address {
	if card, ok := intent.(payments.CardIntent); ok {
		return card.BillingAddress
	}
	return nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
