package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/pagination"
	"github.com/threadline/settlement-backend/pkg/types"
)

// OrderView is the API representation of an order with its frozen price.
type OrderView struct {
	ID                   uuid.UUID            `json:"id"`
	BuyerID              uuid.UUID            `json:"buyer_id"`
	SellerID             uuid.UUID            `json:"seller_id"`
	ListingID            uuid.UUID            `json:"listing_id"`
	Quantity             int                  `json:"quantity"`
	CustomizationChoices map[string]string    `json:"customization_choices,omitempty"`
	Status               enums.OrderStatus    `json:"status"`
	PaymentMethod        enums.PaymentMethod  `json:"payment_method"`
	PaymentStatus        enums.PaymentStatus  `json:"payment_status"`
	DeliveryMethod       enums.DeliveryMethod `json:"delivery_method"`
	DeliveryAddress      *types.Address       `json:"delivery_address,omitempty"`
	Price                PriceView            `json:"price"`
	Tracking             *TrackingView        `json:"tracking,omitempty"`
	Rating               *RatingView          `json:"rating,omitempty"`
	ProductionStartedAt  *time.Time           `json:"production_started_at,omitempty"`
	StatusHistory        []StatusEventView    `json:"status_history,omitempty"`
	Transactions         []TransactionView    `json:"transactions,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// PriceView is the stored price breakdown in minor units.
type PriceView struct {
	Currency              string `json:"currency"`
	BasePriceCents        int64  `json:"base_price_cents"`
	TotalBasePriceCents   int64  `json:"total_base_price_cents"`
	CustomizationFeeCents int64  `json:"customization_fee_cents"`
	MaterialCostCents     int64  `json:"material_cost_cents"`
	DeliveryFeeCents      int64  `json:"delivery_fee_cents"`
	HandlingFeeCents      int64  `json:"handling_fee_cents"`
	BulkDiscountCents     int64  `json:"bulk_discount_cents"`
	PlatformFeeCents      int64  `json:"platform_fee_cents"`
	SubtotalCents         int64  `json:"subtotal_cents"`
	TaxRate               string `json:"tax_rate"`
	TaxCents              int64  `json:"tax_cents"`
	TotalCents            int64  `json:"total_cents"`
}

type TrackingView struct {
	Carrier string `json:"carrier,omitempty"`
	Number  string `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
}

type RatingView struct {
	Rating  int        `json:"rating"`
	Comment string     `json:"comment,omitempty"`
	RatedAt *time.Time `json:"rated_at,omitempty"`
}

type StatusEventView struct {
	From      *enums.OrderStatus `json:"from,omitempty"`
	Status    enums.OrderStatus  `json:"status"`
	Note      string             `json:"note,omitempty"`
	ActorID   uuid.UUID          `json:"actor_id"`
	ActorRole enums.Role         `json:"actor_role"`
	CreatedAt time.Time          `json:"created_at"`
}

// TransactionView is a payment attempt. Risk scores stay server side.
type TransactionView struct {
	ID            uuid.UUID               `json:"id"`
	OrderID       uuid.UUID               `json:"order_id"`
	Method        enums.PaymentMethod     `json:"method"`
	Provider      enums.PaymentProvider   `json:"provider"`
	Status        enums.TransactionStatus `json:"status"`
	AmountCents   int64                   `json:"amount_cents"`
	RefundedCents int64                   `json:"refunded_cents"`
	Currency      string                  `json:"currency"`
	Reference     string                  `json:"reference,omitempty"`
	Flagged       bool                    `json:"flagged"`
	Notes         string                  `json:"notes,omitempty"`
	SettledAt     *time.Time              `json:"settled_at,omitempty"`
	FailedAt      *time.Time              `json:"failed_at,omitempty"`
	Refunds       []RefundView            `json:"refunds,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

type RefundView struct {
	ID          uuid.UUID `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// ItemView is an inventory item with its optional movement history.
type ItemView struct {
	ID              uuid.UUID           `json:"id"`
	SellerID        uuid.UUID           `json:"seller_id"`
	Name            string              `json:"name"`
	Unit            string              `json:"unit"`
	UnitPriceCents  int64               `json:"unit_price_cents"`
	Stock           int                 `json:"stock"`
	ReorderPoint    int                 `json:"reorder_point"`
	ReorderQuantity int                 `json:"reorder_quantity"`
	History         []StockMovementView `json:"history,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type StockMovementView struct {
	Action     enums.StockAction `json:"action"`
	Quantity   int               `json:"quantity"`
	StockAfter int               `json:"stock_after"`
	Note       string            `json:"note,omitempty"`
	Reference  *uuid.UUID        `json:"reference,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// PageView wraps a keyset page for any item view.
type PageView[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ErrorView is an inline error attached to an otherwise successful response.
type ErrorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewOrderView(o *models.Order) OrderView {
	view := OrderView{
		ID:                   o.ID,
		BuyerID:              o.BuyerID,
		SellerID:             o.SellerID,
		ListingID:            o.ListingID,
		Quantity:             o.Quantity,
		CustomizationChoices: o.CustomizationChoices,
		Status:               o.Status,
		PaymentMethod:        o.PaymentMethod,
		PaymentStatus:        o.PaymentStatus,
		DeliveryMethod:       o.DeliveryMethod,
		DeliveryAddress:      o.DeliveryAddress,
		Price: PriceView{
			Currency:              o.Currency,
			BasePriceCents:        o.BasePriceCents,
			TotalBasePriceCents:   o.TotalBasePriceCents,
			CustomizationFeeCents: o.CustomizationFeeCents,
			MaterialCostCents:     o.MaterialCostCents,
			DeliveryFeeCents:      o.DeliveryFeeCents,
			HandlingFeeCents:      o.HandlingFeeCents,
			BulkDiscountCents:     o.BulkDiscountCents,
			PlatformFeeCents:      o.PlatformFeeCents,
			SubtotalCents:         o.SubtotalCents,
			TaxRate:               o.TaxRate,
			TaxCents:              o.TaxCents,
			TotalCents:            o.TotalCents,
		},
		ProductionStartedAt: o.ProductionStartedAt,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
	if o.TrackingCarrier != nil || o.TrackingNumber != nil || o.TrackingURL != nil {
		view.Tracking = &TrackingView{
			Carrier: deref(o.TrackingCarrier),
			Number:  deref(o.TrackingNumber),
			URL:     deref(o.TrackingURL),
		}
	}
	if o.Rating != nil {
		view.Rating = &RatingView{Rating: *o.Rating, Comment: deref(o.RatingComment), RatedAt: o.RatedAt}
	}
	for _, e := range o.StatusHistory {
		view.StatusHistory = append(view.StatusHistory, StatusEventView{
			From:      e.FromStatus,
			Status:    e.Status,
			Note:      deref(e.Note),
			ActorID:   e.ActorID,
			ActorRole: e.ActorRole,
			CreatedAt: e.CreatedAt,
		})
	}
	for i := range o.Transactions {
		view.Transactions = append(view.Transactions, NewTransactionView(&o.Transactions[i]))
	}
	return view
}

func NewTransactionView(t *models.PaymentTransaction) TransactionView {
	view := TransactionView{
		ID:            t.ID,
		OrderID:       t.OrderID,
		Method:        t.Method,
		Provider:      t.Provider,
		Status:        t.Status,
		AmountCents:   t.AmountCents,
		RefundedCents: t.RefundedCents,
		Currency:      t.Currency,
		Reference:     deref(t.Reference),
		Flagged:       t.Flagged,
		Notes:         deref(t.Notes),
		SettledAt:     t.SettledAt,
		FailedAt:      t.FailedAt,
		CreatedAt:     t.CreatedAt,
	}
	for _, r := range t.Refunds {
		view.Refunds = append(view.Refunds, RefundView{ID: r.ID, AmountCents: r.AmountCents, Reason: r.Reason, CreatedAt: r.CreatedAt})
	}
	return view
}

func NewItemView(i *models.InventoryItem) ItemView {
	view := ItemView{
		ID:              i.ID,
		SellerID:        i.SellerID,
		Name:            i.Name,
		Unit:            i.Unit,
		UnitPriceCents:  i.UnitPriceCents,
		Stock:           i.Stock,
		ReorderPoint:    i.ReorderPoint,
		ReorderQuantity: i.ReorderQuantity,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
	for _, m := range i.History {
		view.History = append(view.History, StockMovementView{
			Action:     m.Action,
			Quantity:   m.Quantity,
			StockAfter: m.StockAfter,
			Note:       deref(m.Note),
			Reference:  m.Reference,
			CreatedAt:  m.CreatedAt,
		})
	}
	return view
}

// MapPage converts a model page into a view page.
func MapPage[M, V any](page pagination.Page[M], fn func(*M) V) PageView[V] {
	out := PageView[V]{Items: make([]V, 0, len(page.Items)), NextCursor: page.NextCursor}
	for i := range page.Items {
		out.Items = append(out.Items, fn(&page.Items[i]))
	}
	return out
}

// NewErrorView renders err the way WriteError would, without the status.
func NewErrorView(err error) *ErrorView {
	if err == nil {
		return nil
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	return &ErrorView{Code: string(typed.Code()), Message: pkgerrors.MetadataFor(typed.Code()).PublicMessage}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
