package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/internal/listings"
	"github.com/threadline/settlement-backend/internal/notifications"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/metrics"
	"github.com/threadline/settlement-backend/pkg/outbox"
	"github.com/threadline/settlement-backend/pkg/outbox/payloads"
	"github.com/threadline/settlement-backend/pkg/pagination"
)

const (
	reservationNote = "order reservation"
	releaseNote     = "order release"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the inventory ledger. All stock mutation goes through Adjust.
type Service interface {
	Create(ctx context.Context, actor authz.Actor, input CreateItemInput) (*models.InventoryItem, error)
	Get(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.InventoryItem, error)
	List(ctx context.Context, actor authz.Actor, params pagination.Params) (pagination.Page[models.InventoryItem], error)
	ManualAdjust(ctx context.Context, actor authz.Actor, id uuid.UUID, input ManualAdjustInput) (ItemResult, error)
	Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (ItemResult, error)
	ReserveForOrder(ctx context.Context, tx *gorm.DB, lines []listings.MaterialLine, orderQty int, orderRef uuid.UUID) (Reservation, error)
	ReleaseForOrder(ctx context.Context, tx *gorm.DB, orderRef uuid.UUID, actor authz.Actor) (Reservation, error)
	Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error
	UnitPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
}

// NewService builds the inventory ledger. metrics may be nil.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, m *metrics.SettlementMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, outbox: publisher, metrics: m, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, actor authz.Actor, input CreateItemInput) (*models.InventoryItem, error) {
	if err := authz.RequireRole(actor, enums.RoleSeller); err != nil {
		return nil, err
	}
	if actor.System {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "inventory items belong to a seller")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if input.Stock < 0 || input.ReorderPoint < 0 || input.ReorderQuantity < 0 || input.UnitPriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock, prices and reorder settings must not be negative")
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = "unit"
	}

	item := &models.InventoryItem{
		SellerID:        actor.UserID,
		Name:            name,
		Unit:            unit,
		UnitPriceCents:  input.UnitPriceCents,
		Stock:           input.Stock,
		ReorderPoint:    input.ReorderPoint,
		ReorderQuantity: input.ReorderQuantity,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create inventory item")
		}
		movement := &models.StockMovement{
			InventoryItemID: item.ID,
			Action:          enums.StockActionInitial,
			Quantity:        item.Stock,
			StockAfter:      item.Stock,
			ActorID:         actor.UserPtr(),
		}
		if err := repo.AppendMovement(ctx, movement); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record initial stock")
		}
		item.History = []models.StockMovement{*movement}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *service) Get(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.InventoryItem, error) {
	if err := authz.RequireRole(actor, enums.RoleSeller, enums.RoleAdmin); err != nil {
		return nil, err
	}
	item, err := s.repo.FindByIDWithHistory(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if err := requireOwner(actor, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *service) List(ctx context.Context, actor authz.Actor, params pagination.Params) (pagination.Page[models.InventoryItem], error) {
	if err := authz.RequireRole(actor, enums.RoleSeller); err != nil {
		return pagination.Page[models.InventoryItem]{}, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.InventoryItem]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	items, err := s.repo.ListBySeller(ctx, actor.UserID, cursor, params.Limit)
	if err != nil {
		return pagination.Page[models.InventoryItem]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inventory items")
	}
	return pagination.BuildPage(items, params.Limit, func(item models.InventoryItem) pagination.Cursor {
		return pagination.Cursor{CreatedAt: item.CreatedAt, ID: item.ID}
	}), nil
}

func (s *service) ManualAdjust(ctx context.Context, actor authz.Actor, id uuid.UUID, input ManualAdjustInput) (ItemResult, error) {
	if err := authz.RequireRole(actor, enums.RoleSeller, enums.RoleAdmin); err != nil {
		return ItemResult{}, err
	}
	if input.Quantity <= 0 {
		return ItemResult{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	delta := input.Quantity
	switch input.Action {
	case enums.StockActionAdd:
	case enums.StockActionRemove:
		delta = -delta
	default:
		return ItemResult{}, pkgerrors.New(pkgerrors.CodeValidation, "action must be add or remove")
	}

	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return ItemResult{}, mapLookupError(err)
	}
	if err := requireOwner(actor, item); err != nil {
		return ItemResult{}, err
	}
	return s.Adjust(ctx, nil, AdjustInput{
		ItemID: id,
		Delta:  delta,
		Action: input.Action,
		Note:   input.Note,
		Actor:  actor,
	})
}

// Adjust applies one movement inside tx, or in its own transaction when tx is nil.
func (s *service) Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (ItemResult, error) {
	if tx != nil {
		return s.adjust(ctx, tx, input)
	}
	var result ItemResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.adjust(ctx, tx, input)
		return err
	})
	if err != nil {
		return ItemResult{}, err
	}
	return result, nil
}

func (s *service) adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (ItemResult, error) {
	if input.ItemID == uuid.Nil {
		return ItemResult{}, pkgerrors.New(pkgerrors.CodeValidation, "inventory item id is required")
	}
	if err := validateDelta(input.Action, input.Delta); err != nil {
		return ItemResult{}, err
	}

	repo := s.repo.WithTx(tx)
	applied, err := repo.ApplyDelta(ctx, input.ItemID, input.Delta)
	if err != nil {
		return ItemResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
	}
	if !applied {
		item, err := repo.FindByID(ctx, input.ItemID)
		if err != nil {
			return ItemResult{}, mapLookupError(err)
		}
		s.metrics.IncStockRejection()
		return ItemResult{}, pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough inventory available").
			WithDetails(map[string]any{
				"inventory_item_id": item.ID,
				"requested":         -input.Delta,
				"available":         item.Stock,
			})
	}

	item, err := repo.FindByID(ctx, input.ItemID)
	if err != nil {
		return ItemResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload inventory item")
	}
	result := ItemResult{
		Item:        *item,
		StockAfter:  item.Stock,
		StockBefore: item.Stock - input.Delta,
	}

	var note *string
	if trimmed := strings.TrimSpace(input.Note); trimmed != "" {
		note = &trimmed
	}
	movement := &models.StockMovement{
		InventoryItemID: item.ID,
		Action:          input.Action,
		Quantity:        input.Delta,
		StockAfter:      item.Stock,
		Note:            note,
		Reference:       input.Reference,
		ActorID:         input.Actor.UserPtr(),
	}
	if err := repo.AppendMovement(ctx, movement); err != nil {
		return ItemResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock movement")
	}

	result.LowStock = crossedLowStock(result.StockBefore, result.StockAfter, item.ReorderPoint)
	result.OutOfStock = result.StockBefore > 0 && result.StockAfter == 0
	if err := s.signal(ctx, tx, result); err != nil {
		return ItemResult{}, err
	}
	return result, nil
}

// ReserveForOrder decrements every bill-of-materials line for orderQty units.
// Items are locked in id order. On error the caller must roll back tx so no
// partial reservation survives.
func (s *service) ReserveForOrder(ctx context.Context, tx *gorm.DB, lines []listings.MaterialLine, orderQty int, orderRef uuid.UUID) (Reservation, error) {
	if orderQty <= 0 {
		return Reservation{}, pkgerrors.New(pkgerrors.CodeValidation, "order quantity must be positive")
	}
	if orderRef == uuid.Nil {
		return Reservation{}, pkgerrors.New(pkgerrors.CodeValidation, "order reference is required")
	}
	totals := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		if line.InventoryItemID == uuid.Nil || line.QuantityPerUnit <= 0 {
			return Reservation{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid bill-of-materials line")
		}
		totals[line.InventoryItemID] += line.QuantityPerUnit * orderQty
	}

	reservation := Reservation{OrderID: orderRef, Lines: []ReservedLine{}}
	if len(totals) == 0 {
		return reservation, nil
	}
	run := func(tx *gorm.DB) error {
		for _, id := range sortedIDs(totals) {
			ref := orderRef
			result, err := s.adjust(ctx, tx, AdjustInput{
				ItemID:    id,
				Delta:     -totals[id],
				Action:    enums.StockActionRemove,
				Note:      reservationNote,
				Reference: &ref,
				Actor:     authz.SystemActor,
			})
			if err != nil {
				return err
			}
			reservation.Lines = append(reservation.Lines, ReservedLine{
				InventoryItemID: id,
				Quantity:        totals[id],
				StockAfter:      result.StockAfter,
			})
		}
		return nil
	}
	if tx != nil {
		if err := run(tx); err != nil {
			return Reservation{}, err
		}
		return reservation, nil
	}
	if err := s.tx.WithTx(ctx, run); err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

// ReleaseForOrder returns whatever is still held for orderRef. Releasing twice
// is a no-op because the ledger nets to zero after the first release.
func (s *service) ReleaseForOrder(ctx context.Context, tx *gorm.DB, orderRef uuid.UUID, actor authz.Actor) (Reservation, error) {
	if orderRef == uuid.Nil {
		return Reservation{}, pkgerrors.New(pkgerrors.CodeValidation, "order reference is required")
	}
	released := Reservation{OrderID: orderRef, Lines: []ReservedLine{}}
	run := func(tx *gorm.DB) error {
		movements, err := s.repo.WithTx(tx).MovementsByReference(ctx, orderRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		held := make(map[uuid.UUID]int)
		for _, movement := range movements {
			held[movement.InventoryItemID] -= movement.Quantity
		}
		for _, id := range sortedIDs(held) {
			qty := held[id]
			if qty <= 0 {
				continue
			}
			ref := orderRef
			result, err := s.adjust(ctx, tx, AdjustInput{
				ItemID:    id,
				Delta:     qty,
				Action:    enums.StockActionAdd,
				Note:      releaseNote,
				Reference: &ref,
				Actor:     actor,
			})
			if err != nil {
				return err
			}
			released.Lines = append(released.Lines, ReservedLine{
				InventoryItemID: id,
				Quantity:        qty,
				StockAfter:      result.StockAfter,
			})
		}
		return nil
	}
	if tx != nil {
		if err := run(tx); err != nil {
			return Reservation{}, err
		}
		return released, nil
	}
	if err := s.tx.WithTx(ctx, run); err != nil {
		return Reservation{}, err
	}
	return released, nil
}

func (s *service) Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	if err := authz.RequireRole(actor, enums.RoleSeller, enums.RoleAdmin); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := repo.FindByID(ctx, id)
		if err != nil {
			return mapLookupError(err)
		}
		if err := requireOwner(actor, item); err != nil {
			return err
		}
		refs, err := repo.CountListingReferences(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check listing references")
		}
		if refs > 0 {
			return pkgerrors.New(pkgerrors.CodeItemInUse, "inventory item is referenced by a listing").
				WithDetails(map[string]any{"inventory_item_id": id, "listings": refs})
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete inventory item")
		}
		return nil
	})
}

// UnitPrices serves the pricing engine's material lookup.
func (s *service) UnitPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	prices, err := s.repo.UnitPrices(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit prices")
	}
	return prices, nil
}

func (s *service) signal(ctx context.Context, tx *gorm.DB, result ItemResult) error {
	kinds := make([]enums.NotificationType, 0, 2)
	if result.LowStock {
		kinds = append(kinds, enums.NotificationTypeLowStock)
	}
	if result.OutOfStock {
		kinds = append(kinds, enums.NotificationTypeOutOfStock)
	}
	item := result.Item
	for _, kind := range kinds {
		events := []outbox.DomainEvent{
			{
				EventType:     enums.EventInventoryThresholdCrossed,
				AggregateType: enums.AggregateInventoryItem,
				AggregateID:   item.ID,
				Data: payloads.InventoryThresholdCrossedEvent{
					InventoryItemID: item.ID,
					SellerID:        item.SellerID,
					Kind:            kind,
					StockBefore:     result.StockBefore,
					StockAfter:      result.StockAfter,
					ReorderPoint:    item.ReorderPoint,
					ReorderQuantity: item.ReorderQuantity,
				},
			},
			notifications.StockSignal(item.ID, item.SellerID, item.Name, kind, result.StockAfter),
		}
		for _, event := range events {
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit stock signal")
			}
		}
		s.metrics.IncStockSignal(kind.String())
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"inventory_item_id": item.ID.String(),
			"seller_id":         item.SellerID.String(),
			"stock_before":      result.StockBefore,
			"stock_after":       result.StockAfter,
			"reorder_point":     item.ReorderPoint,
		})
		s.logg.Info(logCtx, "inventory."+kind.String())
	}
	return nil
}

// crossedLowStock is edge triggered: only the move from above the reorder
// point to at-or-below it counts.
func crossedLowStock(before, after, reorderPoint int) bool {
	if reorderPoint <= 0 {
		return false
	}
	return before > reorderPoint && after <= reorderPoint
}

func validateDelta(action enums.StockAction, delta int) error {
	if delta == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be zero")
	}
	switch action {
	case enums.StockActionAdd:
		if delta < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "add requires a positive quantity")
		}
	case enums.StockActionRemove:
		if delta > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "remove requires a negative quantity")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported stock action")
	}
	return nil
}

func requireOwner(actor authz.Actor, item *models.InventoryItem) error {
	if actor.IsAdmin() || authz.IsSellerOf(actor, item.SellerID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "inventory item does not belong to seller")
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory item")
}

func sortedIDs(m map[uuid.UUID]int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}
