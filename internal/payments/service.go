package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/internal/notifications"
	"github.com/threadline/settlement-backend/internal/risk"
	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/db"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/metrics"
	"github.com/threadline/settlement-backend/pkg/outbox"
	"github.com/threadline/settlement-backend/pkg/outbox/payloads"
	"github.com/threadline/settlement-backend/pkg/pagination"
	"github.com/threadline/settlement-backend/pkg/types"
)

const (
	providerCodeDeclined = "DECLINED"
	providerCodeExpired  = "EXPIRED"
	refundKindFull       = "full"
	refundKindPartial    = "partial"
	refundKindGateway    = "gateway"
	gatewayRefundReason  = "refund issued through payment provider"
	refundConstraint     = "ux_refunds_gateway_refund_id"
)

var (
	errNotPending   = errors.New("transaction is not pending")
	errRefundReplay = errors.New("refund already recorded")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type riskChecker interface {
	Check(ctx context.Context, txn risk.Transaction, req risk.RequestContext) (risk.Assessment, error)
}

// Service is the payment ledger. It alone writes orders.payment_status.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (TransactionRef, error)
	Verify(ctx context.Context, txID uuid.UUID, actor authz.Actor) (enums.TransactionStatus, error)
	MarkManuallyPaid(ctx context.Context, txID uuid.UUID, notes string, actor authz.Actor) (TransactionRef, error)
	RefundFull(ctx context.Context, orderID uuid.UUID, reason string, actor authz.Actor) (RefundResult, error)
	RefundPartial(ctx context.Context, orderID uuid.UUID, amountCents int64, reason string, actor authz.Actor) (RefundResult, error)
	ApplyGatewayEvent(ctx context.Context, event GatewayEvent) error
	Get(ctx context.Context, txID uuid.UUID, actor authz.Actor) (*models.PaymentTransaction, error)
	ListFlagged(ctx context.Context, actor authz.Actor, params pagination.Params) (pagination.Page[models.PaymentTransaction], error)
	PendingForReconcile(ctx context.Context, limit int) ([]models.PaymentTransaction, error)
}

// Options tune attempt reuse and reconciliation.
type Options struct {
	InitiateWindow time.Duration
	ReconcileAfter time.Duration
	Now            func() time.Time
}

// OptionsFromConfig maps env configuration onto Options.
func OptionsFromConfig(cfg config.PaymentsConfig) Options {
	return Options{InitiateWindow: cfg.InitiateWindow, ReconcileAfter: cfg.ReconcileAfter}
}

type service struct {
	repo     Repository
	tx       txRunner
	gateways Registry
	risk     riskChecker
	outbox   outboxPublisher
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	window   time.Duration
	staleAge time.Duration
	now      func() time.Time
}

// NewService wires the payment ledger. metrics may be nil.
func NewService(repo Repository, tx txRunner, gateways Registry, gate riskChecker, publisher outboxPublisher, m *metrics.SettlementMetrics, logg *logger.Logger, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("at least one payment gateway required")
	}
	if gate == nil {
		return nil, fmt.Errorf("risk gate required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.InitiateWindow <= 0 {
		opts.InitiateWindow = 15 * time.Minute
	}
	if opts.ReconcileAfter <= 0 {
		opts.ReconcileAfter = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &service{
		repo:     repo,
		tx:       tx,
		gateways: gateways,
		risk:     gate,
		outbox:   publisher,
		metrics:  m,
		logg:     logg,
		window:   opts.InitiateWindow,
		staleAge: opts.ReconcileAfter,
		now:      opts.Now,
	}, nil
}

type reuse int

const (
	reuseNone reuse = iota
	reuseReturn
	reuseResubmit
)

// decide reports whether an earlier attempt answers this Initiate call.
// Completed attempts always do; pending ones only within the initiate window.
func (s *service) decide(txn *models.PaymentTransaction) reuse {
	if txn == nil {
		return reuseNone
	}
	switch txn.Status {
	case enums.TransactionStatusCompleted:
		return reuseReturn
	case enums.TransactionStatusPending:
		if s.now().Sub(txn.CreatedAt) >= s.window {
			return reuseNone
		}
		if txn.Reference == nil || *txn.Reference == "" {
			return reuseResubmit
		}
		return reuseReturn
	default:
		return reuseNone
	}
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (TransactionRef, error) {
	if input.OrderID == uuid.Nil {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if err := authz.Authenticated(input.Actor); err != nil {
		return TransactionRef{}, err
	}
	gw, ok := s.gateways.For(input.Method)
	if !ok {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeValidation, "payment method not available").
			WithDetails(map[string]any{"payment_method": string(input.Method)})
	}
	intent := input.Payload
	if intent == nil {
		intent = defaultIntent(input.Method)
	}
	if intent == nil {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeValidation, "payment details are required")
	}
	if intent.Method() != input.Method {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeValidation, "payment details do not match payment method")
	}
	if err := intent.validate(); err != nil {
		return TransactionRef{}, err
	}

	order, err := s.repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		return TransactionRef{}, mapOrderLookup(err)
	}
	if !input.Actor.IsAdmin() && !authz.IsBuyerOf(input.Actor, order.BuyerID) {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can pay for this order")
	}
	if err := payable(order, input.Method); err != nil {
		return TransactionRef{}, err
	}

	existing, err := s.repo.FindLatestForOrder(ctx, order.ID, input.Method)
	if err != nil {
		return TransactionRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempts")
	}
	switch s.decide(existing) {
	case reuseReturn:
		return refFrom(*existing, true), nil
	case reuseResubmit:
		return s.submit(ctx, gw, *existing, intent, true)
	}

	assessment := input.Assessment
	if assessment == nil {
		attempts, err := s.repo.CountAttempts(ctx, order.ID)
		if err != nil {
			return TransactionRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count payment attempts")
		}
		req := input.Request
		req.RetryCount = int(attempts)
		scored, err := s.risk.Check(ctx, risk.Transaction{
			OrderID:         order.ID,
			BuyerID:         order.BuyerID,
			Method:          input.Method,
			AmountCents:     order.TotalCents,
			ShippingAddress: order.DeliveryAddress,
			BillingAddress:  billingAddress(intent),
		}, req)
		if err != nil {
			return TransactionRef{}, err
		}
		assessment = &scored
	}
	if assessment.Blocked() {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeRiskBlocked, "payment could not be processed")
	}

	var (
		created models.PaymentTransaction
		reused  *models.PaymentTransaction
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockOrder(ctx, order.ID)
		if err != nil {
			return mapOrderLookup(err)
		}
		if err := payable(locked, input.Method); err != nil {
			return err
		}
		current, err := repo.FindLatestForOrder(ctx, order.ID, input.Method)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempts")
		}
		if d := s.decide(current); d != reuseNone {
			reused = current
			return nil
		}
		if current != nil && current.Status == enums.TransactionStatusPending {
			if _, err := repo.FailIfPending(ctx, current.ID, providerCodeExpired, s.now().UTC()); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire stale payment attempt")
			}
		}

		created = models.PaymentTransaction{
			OrderID:     locked.ID,
			Method:      input.Method,
			Provider:    gw.Provider(),
			Status:      enums.TransactionStatusPending,
			AmountCents: locked.TotalCents,
			Currency:    locked.Currency,
			RiskScore:   assessment.Score,
			RiskAction:  assessment.Action,
			Flagged:     assessment.Challenged(),
		}
		if err := repo.CreateTransaction(ctx, &created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
		}
		// The order tracks the live attempt, not the one it replaced.
		if locked.PaymentStatus == enums.PaymentStatusFailed {
			if err := repo.UpdateOrderPaymentStatus(ctx, locked.ID, enums.PaymentStatusPending); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset order payment status")
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   created.ID,
			Actor:         input.Actor.Ref(),
			Data:          statusEvent(created, s.now()),
		})
	})
	if err != nil {
		return TransactionRef{}, err
	}
	if reused != nil {
		if s.decide(reused) == reuseResubmit {
			return s.submit(ctx, gw, *reused, intent, true)
		}
		return refFrom(*reused, true), nil
	}

	s.metrics.IncPaymentStatus(created.Method.String(), created.Status.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":       created.OrderID.String(),
		"transaction_id": created.ID.String(),
		"method":         created.Method,
		"flagged":        created.Flagged,
	}), "payment.initiated")
	return s.submit(ctx, gw, created, intent, false)
}

// submit hands the attempt to its gateway outside any database transaction.
// The transaction id is the provider idempotency key, so resubmitting the same
// attempt never charges twice.
func (s *service) submit(ctx context.Context, gw Gateway, txn models.PaymentTransaction, intent Intent, existing bool) (TransactionRef, error) {
	result, err := gw.CreatePayment(ctx, Charge{
		TransactionID:  txn.ID,
		OrderID:        txn.OrderID,
		AmountCents:    txn.AmountCents,
		Currency:       txn.Currency,
		Intent:         intent,
		IdempotencyKey: txn.ID.String(),
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodePaymentDeclined) {
			if _, ferr := s.fail(ctx, txn.ID, providerCodeDeclined); ferr != nil {
				return TransactionRef{}, ferr
			}
			return TransactionRef{}, pkgerrors.Wrap(pkgerrors.CodePaymentDeclined, err, "payment was declined")
		}
		if pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			return TransactionRef{}, err
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"transaction_id": txn.ID.String(),
			"provider":       txn.Provider,
			"error":          err.Error(),
		}), "payment.gateway_unavailable")
		return TransactionRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
	}

	if result.Reference != "" {
		if err := s.repo.SetReference(ctx, txn.ID, result.Reference, result.ProviderCode); err != nil {
			return TransactionRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment reference")
		}
		reference := result.Reference
		txn.Reference = &reference
	}

	switch result.Status {
	case GatewaySucceeded:
		settled, err := s.settle(ctx, txn.ID, authz.SystemActor, nil)
		if err != nil && !errors.Is(err, errNotPending) {
			return TransactionRef{}, err
		}
		if err == nil {
			txn = settled
		}
	case GatewayFailed:
		if _, err := s.fail(ctx, txn.ID, result.ProviderCode); err != nil {
			return TransactionRef{}, err
		}
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodePaymentDeclined, "payment was declined")
	}
	return refFrom(txn, existing), nil
}

// settle moves a pending attempt to completed and marks the order paid.
// It returns errNotPending when another caller settled or failed it first.
func (s *service) settle(ctx context.Context, txID uuid.UUID, actor authz.Actor, notes *string) (models.PaymentTransaction, error) {
	var (
		settled models.PaymentTransaction
		order   *models.Order
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.CompleteIfPending(ctx, txID, actor.UserPtr(), notes, s.now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment")
		}
		if !ok {
			return errNotPending
		}
		txn, err := repo.FindTransaction(ctx, txID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		settled = *txn
		order, err = repo.FindOrder(ctx, txn.OrderID)
		if err != nil {
			return mapOrderLookup(err)
		}
		if err := repo.UpdateOrderPaymentStatus(ctx, order.ID, enums.PaymentStatusPaid); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		events := []outbox.DomainEvent{{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Actor:         actor.Ref(),
			Data:          statusEvent(*txn, s.now()),
		}}
		events = append(events, notifications.PaymentConfirmed(order.ID, order.BuyerID, order.SellerID, actor.Ref())...)
		return s.emitAll(ctx, tx, events)
	})
	if err != nil {
		return models.PaymentTransaction{}, err
	}
	s.metrics.IncPaymentStatus(settled.Method.String(), settled.Status.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":       settled.OrderID.String(),
		"transaction_id": settled.ID.String(),
		"actor_role":     actor.RoleLabel(),
	}), "payment.settled")
	return settled, nil
}

// fail moves a pending attempt to failed. The order only reflects the failure
// while it has not been paid by another attempt.
func (s *service) fail(ctx context.Context, txID uuid.UUID, providerCode string) (bool, error) {
	var failed models.PaymentTransaction
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.FailIfPending(ctx, txID, providerCode, s.now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
		}
		if !ok {
			return nil
		}
		changed = true
		txn, err := repo.FindTransaction(ctx, txID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		failed = *txn
		order, err := repo.FindOrder(ctx, txn.OrderID)
		if err != nil {
			return mapOrderLookup(err)
		}
		if order.PaymentStatus == enums.PaymentStatusPending {
			if err := repo.UpdateOrderPaymentStatus(ctx, order.ID, enums.PaymentStatusFailed); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order payment failed")
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Actor:         authz.SystemActor.Ref(),
			Data:          statusEvent(*txn, s.now()),
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.metrics.IncPaymentStatus(failed.Method.String(), failed.Status.String())
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"order_id":       failed.OrderID.String(),
			"transaction_id": failed.ID.String(),
			"provider_code":  providerCode,
		}), "payment.failed")
	}
	return changed, nil
}

func (s *service) Verify(ctx context.Context, txID uuid.UUID, actor authz.Actor) (enums.TransactionStatus, error) {
	txn, order, err := s.loadWithOrder(ctx, txID)
	if err != nil {
		return "", err
	}
	if err := authz.RequireParty(actor, order.BuyerID, order.SellerID); err != nil {
		return "", err
	}
	if txn.Status != enums.TransactionStatusPending {
		return txn.Status, nil
	}
	if txn.Reference == nil || *txn.Reference == "" {
		return txn.Status, nil
	}
	gw, ok := s.gateways.ByProvider(txn.Provider)
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "no gateway for provider").
			WithDetails(map[string]any{"provider": txn.Provider})
	}
	status, err := gw.VerifyPayment(ctx, *txn.Reference)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify payment with provider")
	}
	switch status {
	case GatewaySucceeded:
		if _, err := s.settle(ctx, txn.ID, actor, nil); err != nil {
			if errors.Is(err, errNotPending) {
				return "", pkgerrors.New(pkgerrors.CodeStateConflict, "transaction was already resolved")
			}
			return "", err
		}
		return enums.TransactionStatusCompleted, nil
	case GatewayFailed:
		if _, err := s.fail(ctx, txn.ID, providerCodeDeclined); err != nil {
			return "", err
		}
		return enums.TransactionStatusFailed, nil
	default:
		return enums.TransactionStatusPending, nil
	}
}

func (s *service) MarkManuallyPaid(ctx context.Context, txID uuid.UUID, notes string, actor authz.Actor) (TransactionRef, error) {
	if err := authz.RequireRole(actor, enums.RoleSeller, enums.RoleAdmin); err != nil {
		return TransactionRef{}, err
	}
	txn, order, err := s.loadWithOrder(ctx, txID)
	if err != nil {
		return TransactionRef{}, err
	}
	if !actor.IsAdmin() && !authz.IsSellerOf(actor, order.SellerID) {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to seller")
	}
	if txn.Provider != enums.ProviderManual {
		return TransactionRef{}, pkgerrors.New(pkgerrors.CodeValidation, "only manual payments can be marked as paid")
	}
	var notePtr *string
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		notePtr = &trimmed
	}
	settled, err := s.settle(ctx, txn.ID, actor, notePtr)
	if err != nil {
		if errors.Is(err, errNotPending) {
			return TransactionRef{}, pkgerrors.New(pkgerrors.CodeConflict, "transaction is not pending").
				WithDetails(map[string]any{"status": txn.Status})
		}
		return TransactionRef{}, err
	}
	return refFrom(settled, false), nil
}

type refundInput struct {
	orderID         uuid.UUID
	amountCents     int64
	full            bool
	reason          string
	actor           authz.Actor
	gatewayRefundID string
	kind            string
}

func (s *service) RefundFull(ctx context.Context, orderID uuid.UUID, reason string, actor authz.Actor) (RefundResult, error) {
	return s.refund(ctx, refundInput{orderID: orderID, full: true, reason: reason, actor: actor, kind: refundKindFull})
}

func (s *service) RefundPartial(ctx context.Context, orderID uuid.UUID, amountCents int64, reason string, actor authz.Actor) (RefundResult, error) {
	if amountCents <= 0 {
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	return s.refund(ctx, refundInput{orderID: orderID, amountCents: amountCents, reason: reason, actor: actor, kind: refundKindPartial})
}

func (s *service) refund(ctx context.Context, in refundInput) (RefundResult, error) {
	if err := authz.RequireRole(in.actor, enums.RoleSeller, enums.RoleAdmin); err != nil {
		return RefundResult{}, err
	}
	in.reason = strings.TrimSpace(in.reason)
	if in.reason == "" {
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeValidation, "refund reason is required")
	}
	order, err := s.repo.FindOrder(ctx, in.orderID)
	if err != nil {
		return RefundResult{}, mapOrderLookup(err)
	}
	if !in.actor.IsAdmin() && !authz.IsSellerOf(in.actor, order.SellerID) {
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to seller")
	}
	txn, err := s.repo.FindLatestCompleted(ctx, order.ID)
	if err != nil {
		return RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load captured payment")
	}
	if txn == nil {
		if order.PaymentStatus == enums.PaymentStatusRefunded {
			return RefundResult{}, pkgerrors.New(pkgerrors.CodeRefundExceedsCaptured, "payment already fully refunded")
		}
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "no captured payment to refund")
	}
	amount := in.amountCents
	if in.full {
		amount = txn.RemainingCents()
	}
	if amount <= 0 || amount > txn.RemainingCents() {
		return RefundResult{}, exceedsCaptured(amount, txn.RemainingCents())
	}

	if gw, ok := s.gateways.ByProvider(txn.Provider); ok && txn.Reference != nil {
		if refunder, ok := gw.(Refunder); ok {
			gatewayRefundID, err := refunder.Refund(ctx, RefundRequest{
				Reference:      *txn.Reference,
				AmountCents:    amount,
				Currency:       txn.Currency,
				Reason:         in.reason,
				IdempotencyKey: uuid.NewString(),
			})
			if err != nil {
				return RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund with payment provider")
			}
			in.gatewayRefundID = gatewayRefundID
		}
	}
	result, err := s.recordRefund(ctx, order, txn.ID, amount, in)
	if err != nil && in.gatewayRefundID != "" && !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"order_id":          order.ID.String(),
			"transaction_id":    txn.ID.String(),
			"gateway_refund_id": in.gatewayRefundID,
		}), "payment.refund_unrecorded", err)
	}
	return result, err
}

// recordRefund applies the refund to the ledger. A gateway refund id that was
// already recorded is reported as a replay instead of being applied twice.
func (s *service) recordRefund(ctx context.Context, order *models.Order, txID uuid.UUID, amount int64, in refundInput) (RefundResult, error) {
	var gatewayID *string
	if in.gatewayRefundID != "" {
		id := in.gatewayRefundID
		gatewayID = &id
		existing, err := s.repo.FindRefundByGatewayID(ctx, id)
		if err != nil {
			return RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
		}
		if existing != nil {
			return s.replayResult(ctx, existing)
		}
	}

	var result RefundResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.ApplyRefund(ctx, txID, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund")
		}
		if !ok {
			current, err := repo.FindTransaction(ctx, txID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
			}
			if current.Status != enums.TransactionStatusCompleted && current.Status != enums.TransactionStatusRefunded {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not captured")
			}
			return exceedsCaptured(amount, current.RemainingCents())
		}
		refund := &models.Refund{
			TransactionID:   txID,
			OrderID:         order.ID,
			AmountCents:     amount,
			Reason:          in.reason,
			ActorID:         in.actor.UserPtr(),
			GatewayRefundID: gatewayID,
		}
		if err := repo.CreateRefund(ctx, refund); err != nil {
			if db.IsUniqueViolation(err, refundConstraint) {
				return errRefundReplay
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}
		txn, err := repo.FindTransaction(ctx, txID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		paymentStatus := enums.PaymentStatusPartiallyRefunded
		if txn.Status == enums.TransactionStatusRefunded {
			paymentStatus = enums.PaymentStatusRefunded
		}
		if err := repo.UpdateOrderPaymentStatus(ctx, order.ID, paymentStatus); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order payment status")
		}
		result = RefundResult{
			RefundID:          refund.ID,
			TransactionID:     txn.ID,
			OrderID:           order.ID,
			AmountCents:       amount,
			RefundedCents:     txn.RefundedCents,
			RemainingCents:    txn.RemainingCents(),
			TransactionStatus: txn.Status,
			PaymentStatus:     paymentStatus,
		}
		return s.emitAll(ctx, tx, []outbox.DomainEvent{
			{
				EventType:     enums.EventPaymentRefunded,
				AggregateType: enums.AggregatePaymentTransaction,
				AggregateID:   txn.ID,
				Actor:         in.actor.Ref(),
				Data: payloads.PaymentRefundedEvent{
					TransactionID: txn.ID,
					OrderID:       order.ID,
					RefundID:      refund.ID,
					AmountCents:   amount,
					RefundedCents: txn.RefundedCents,
					PaymentStatus: paymentStatus,
					Reason:        in.reason,
				},
			},
			notifications.PaymentRefunded(order.ID, order.BuyerID, amount, txn.Currency, in.actor.Ref()),
		})
	})
	if errors.Is(err, errRefundReplay) {
		existing, lookupErr := s.repo.FindRefundByGatewayID(ctx, in.gatewayRefundID)
		if lookupErr != nil || existing == nil {
			return RefundResult{}, pkgerrors.New(pkgerrors.CodeConflict, "refund already recorded")
		}
		return s.replayResult(ctx, existing)
	}
	if err != nil {
		return RefundResult{}, err
	}
	s.metrics.IncRefund(in.kind)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":       order.ID.String(),
		"transaction_id": txID.String(),
		"amount_cents":   amount,
		"kind":           in.kind,
	}), "payment.refunded")
	return result, nil
}

func (s *service) replayResult(ctx context.Context, refund *models.Refund) (RefundResult, error) {
	txn, order, err := s.loadWithOrder(ctx, refund.TransactionID)
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{
		RefundID:          refund.ID,
		TransactionID:     txn.ID,
		OrderID:           refund.OrderID,
		AmountCents:       refund.AmountCents,
		RefundedCents:     txn.RefundedCents,
		RemainingCents:    txn.RemainingCents(),
		TransactionStatus: txn.Status,
		PaymentStatus:     order.PaymentStatus,
		Replayed:          true,
	}, nil
}

// ApplyGatewayEvent folds a verified provider notification into the ledger.
// Replays and notifications for already-resolved attempts are no-ops.
func (s *service) ApplyGatewayEvent(ctx context.Context, event GatewayEvent) error {
	reference := strings.TrimSpace(event.PaymentReference)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	txn, err := s.repo.FindByReference(ctx, event.Provider, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment transaction not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transaction")
	}

	switch event.Kind {
	case GatewayEventPayment:
		switch event.Status {
		case GatewaySucceeded:
			_, err := s.settle(ctx, txn.ID, authz.SystemActor, nil)
			if !errors.Is(err, errNotPending) {
				return err
			}
			if txn.Status == enums.TransactionStatusFailed {
				// Captured after the attempt expired; needs a manual refund.
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"transaction_id": txn.ID.String(),
					"order_id":       txn.OrderID.String(),
				}), "payment.captured_after_failure")
			}
			return nil
		case GatewayFailed:
			_, err := s.fail(ctx, txn.ID, providerCodeDeclined)
			return err
		default:
			return nil
		}
	case GatewayEventRefund:
		if !event.RefundCompleted {
			return nil
		}
		if strings.TrimSpace(event.RefundID) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")
		}
		if event.RefundAmountCents <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
		}
		order, err := s.repo.FindOrder(ctx, txn.OrderID)
		if err != nil {
			return mapOrderLookup(err)
		}
		reason := strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = gatewayRefundReason
		}
		_, err = s.recordRefund(ctx, order, txn.ID, event.RefundAmountCents, refundInput{
			orderID:         order.ID,
			amountCents:     event.RefundAmountCents,
			reason:          reason,
			actor:           authz.SystemActor,
			gatewayRefundID: event.RefundID,
			kind:            refundKindGateway,
		})
		return err
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported gateway event")
	}
}

func (s *service) Get(ctx context.Context, txID uuid.UUID, actor authz.Actor) (*models.PaymentTransaction, error) {
	txn, order, err := s.loadWithOrder(ctx, txID)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireParty(actor, order.BuyerID, order.SellerID); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) ListFlagged(ctx context.Context, actor authz.Actor, params pagination.Params) (pagination.Page[models.PaymentTransaction], error) {
	if err := authz.RequireRole(actor, enums.RoleAdmin); err != nil {
		return pagination.Page[models.PaymentTransaction]{}, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.PaymentTransaction]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListFlagged(ctx, cursor, params.Limit)
	if err != nil {
		return pagination.Page[models.PaymentTransaction]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list flagged payments")
	}
	return pagination.BuildPage(rows, params.Limit, func(txn models.PaymentTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: txn.CreatedAt, ID: txn.ID}
	}), nil
}

// PendingForReconcile returns pending attempts older than the reconcile age.
func (s *service) PendingForReconcile(ctx context.Context, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.repo.ListStalePending(ctx, s.now().UTC().Add(-s.staleAge), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}
	return rows, nil
}

func (s *service) loadWithOrder(ctx context.Context, txID uuid.UUID) (*models.PaymentTransaction, *models.Order, error) {
	if txID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	txn, err := s.repo.FindTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment transaction not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transaction")
	}
	order, err := s.repo.FindOrder(ctx, txn.OrderID)
	if err != nil {
		return nil, nil, mapOrderLookup(err)
	}
	return txn, order, nil
}

func (s *service) emitAll(ctx context.Context, tx *gorm.DB, events []outbox.DomainEvent) error {
	for _, event := range events {
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment event")
		}
	}
	return nil
}

// payable rejects attempts against orders that can no longer take money.
func payable(order *models.Order, method enums.PaymentMethod) error {
	if order.PaymentMethod != method {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment method does not match order").
			WithDetails(map[string]any{"order_payment_method": order.PaymentMethod})
	}
	if order.Status == enums.OrderStatusCanceled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is canceled")
	}
	return nil
}

func billingAddress(intent Intent) *types.Address {
	if card, ok := intent.(CardIntent); ok {
		return card.BillingAddress
	}
	return nil
}

func statusEvent(txn models.PaymentTransaction, at time.Time) payloads.PaymentStatusEvent {
	event := payloads.PaymentStatusEvent{
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		Provider:      txn.Provider,
		Method:        txn.Method,
		Status:        txn.Status,
		AmountCents:   txn.AmountCents,
		Flagged:       txn.Flagged,
		OccurredAt:    at.UTC(),
	}
	if txn.Reference != nil {
		event.Reference = *txn.Reference
	}
	return event
}

func exceedsCaptured(requested, remaining int64) error {
	return pkgerrors.New(pkgerrors.CodeRefundExceedsCaptured, "refund exceeds captured amount").
		WithDetails(map[string]any{"requested_cents": requested, "remaining_cents": remaining})
}

func mapOrderLookup(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
