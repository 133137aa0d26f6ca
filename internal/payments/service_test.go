package payments

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/internal/risk"
	"github.com/threadline/settlement-backend/pkg/db"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/outbox"
	"github.com/threadline/settlement-backend/pkg/pagination"
)

type stubGateway struct {
	mu      sync.Mutex
	result  GatewayResult
	err     error
	verify  GatewayStatus
	charges []Charge
	refunds []RefundRequest
}

func (g *stubGateway) Provider() enums.PaymentProvider { return enums.ProviderSquare }

func (g *stubGateway) CreatePayment(_ context.Context, charge Charge) (GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, charge)
	if g.err != nil {
		return GatewayResult{}, g.err
	}
	return g.result, nil
}

func (g *stubGateway) VerifyPayment(context.Context, string) (GatewayStatus, error) {
	return g.verify, nil
}

func (g *stubGateway) Refund(_ context.Context, req RefundRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	return "rf-" + uuid.NewString(), nil
}

type stubRisk struct {
	assessment risk.Assessment
	err        error
	requests   []risk.RequestContext
}

func (r *stubRisk) Check(_ context.Context, _ risk.Transaction, req risk.RequestContext) (risk.Assessment, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return risk.Assessment{}, r.err
	}
	return r.assessment, nil
}

type fixture struct {
	db    *gorm.DB
	svc   Service
	card  *stubGateway
	risk  *stubRisk
	shift time.Duration
	buyer authz.Actor
	admin authz.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:payments_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(
		&models.Order{},
		&models.OrderStatusEvent{},
		&models.PaymentTransaction{},
		&models.Refund{},
		&models.OutboxEvent{},
	))

	f := &fixture{
		db:    conn,
		card:  &stubGateway{result: GatewayResult{Reference: "sq-pay-1", Status: GatewaySucceeded}, verify: GatewayPending},
		risk:  &stubRisk{assessment: risk.Assessment{Score: 10, Level: enums.RiskLevelLow, Action: enums.RiskActionAllow}},
		buyer: authz.Actor{UserID: uuid.New(), Role: enums.RoleBuyer},
		admin: authz.Actor{UserID: uuid.New(), Role: enums.RoleAdmin},
	}
	registry, err := NewRegistry(map[enums.PaymentMethod]Gateway{
		enums.PaymentMethodCard:         f.card,
		enums.PaymentMethodBankTransfer: NewManualGateway(),
		enums.PaymentMethodCash:         NewManualGateway(),
	})
	require.NoError(t, err)

	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
	svc, err := NewService(
		NewRepository(conn),
		db.NewFromConn(conn),
		registry,
		f.risk,
		outbox.NewService(outbox.NewRepository(conn), logg),
		nil,
		logg,
		Options{
			InitiateWindow: 15 * time.Minute,
			ReconcileAfter: 10 * time.Minute,
			Now:            func() time.Time { return time.Now().Add(f.shift) },
		},
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seedOrder(t *testing.T, method enums.PaymentMethod, totalCents int64) *models.Order {
	t.Helper()
	order := &models.Order{
		BuyerID:        f.buyer.UserID,
		SellerID:       uuid.New(),
		ListingID:      uuid.New(),
		Quantity:       1,
		Status:         enums.OrderStatusPending,
		PaymentMethod:  method,
		PaymentStatus:  enums.PaymentStatusPending,
		DeliveryMethod: enums.DeliveryMethodStandard,
		Currency:       "USD",
		SubtotalCents:  totalCents,
		TotalCents:     totalCents,
		TaxRate:        "0",
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func (f *fixture) paidCardOrder(t *testing.T, totalCents int64) *models.Order {
	t.Helper()
	order := f.seedOrder(t, enums.PaymentMethodCard, totalCents)
	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, ref.Status)
	return order
}

func (f *fixture) cardInput(orderID uuid.UUID) InitiateInput {
	return InitiateInput{
		OrderID: orderID,
		Method:  enums.PaymentMethodCard,
		Payload: CardIntent{SourceID: "cnon:card-nonce-ok"},
		Actor:   f.buyer,
	}
}

func (f *fixture) paymentStatus(t *testing.T, orderID uuid.UUID) enums.PaymentStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, f.db.First(&order, "id = ?", orderID).Error)
	return order.PaymentStatus
}

func (f *fixture) countRows(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&count).Error)
	return count
}

func sellerOf(order *models.Order) authz.Actor {
	return authz.Actor{UserID: order.SellerID, Role: enums.RoleSeller}
}

func TestInitiateCardSettlesOnGatewaySuccess(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 12960)

	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, ref.Status)
	require.Equal(t, enums.ProviderSquare, ref.Provider)
	require.Equal(t, int64(12960), ref.AmountCents)
	require.Equal(t, "sq-pay-1", ref.Reference)
	require.False(t, ref.Existing)
	require.Equal(t, enums.PaymentStatusPaid, f.paymentStatus(t, order.ID))

	require.Len(t, f.card.charges, 1)
	require.Equal(t, ref.TransactionID.String(), f.card.charges[0].IdempotencyKey)
	require.Equal(t, int64(1), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentInitiated))
	require.Equal(t, int64(1), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentSettled))
	require.Equal(t, int64(2), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventNotificationRequested))
}

func TestInitiateReturnsExistingAttempt(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)

	first, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	second, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)

	require.Equal(t, first.TransactionID, second.TransactionID)
	require.True(t, second.Existing)
	require.Len(t, f.card.charges, 1)
	require.Len(t, f.risk.requests, 1)
	require.Equal(t, int64(1), f.countRows(t, &models.PaymentTransaction{}, "order_id = ?", order.ID))
}

func TestInitiateResubmitsAttemptWithoutReference(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.card.err = errors.New("connection reset")

	_, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	f.card.err = nil
	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	require.True(t, ref.Existing)
	require.Equal(t, enums.TransactionStatusCompleted, ref.Status)
	require.Len(t, f.card.charges, 2)
	require.Equal(t, f.card.charges[0].IdempotencyKey, f.card.charges[1].IdempotencyKey)
	require.Equal(t, int64(1), f.countRows(t, &models.PaymentTransaction{}, "order_id = ?", order.ID))
}

func TestInitiateRiskBlockCreatesNothing(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 90000)
	f.risk.err = pkgerrors.New(pkgerrors.CodeRiskBlocked, "payment could not be processed")

	_, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRiskBlocked))
	require.Empty(t, f.card.charges)
	require.Equal(t, int64(0), f.countRows(t, &models.PaymentTransaction{}, "order_id = ?", order.ID))
	require.Equal(t, enums.PaymentStatusPending, f.paymentStatus(t, order.ID))
}

func TestInitiateUsesProvidedAssessment(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	input := f.cardInput(order.ID)
	input.Assessment = &risk.Assessment{Score: 80, Level: enums.RiskLevelHigh, Action: enums.RiskActionBlock}

	_, err := f.svc.Initiate(context.Background(), input)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRiskBlocked))
	require.Empty(t, f.risk.requests)
	require.Empty(t, f.card.charges)
}

func TestInitiateChallengeFlagsTransaction(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.risk.assessment = risk.Assessment{Score: 55, Level: enums.RiskLevelMedium, Action: enums.RiskActionChallenge}

	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	require.True(t, ref.Flagged)

	page, err := f.svc.ListFlagged(context.Background(), f.admin, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, ref.TransactionID, page.Items[0].ID)
	require.Equal(t, 55, page.Items[0].RiskScore)

	_, err = f.svc.ListFlagged(context.Background(), f.buyer, pagination.Params{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}

func TestInitiateDeclinedFailsAttempt(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.card.err = pkgerrors.New(pkgerrors.CodePaymentDeclined, "CARD_DECLINED")

	_, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePaymentDeclined))
	require.Equal(t, enums.PaymentStatusFailed, f.paymentStatus(t, order.ID))
	require.Equal(t, int64(1), f.countRows(t, &models.PaymentTransaction{}, "order_id = ? AND status = ?", order.ID, enums.TransactionStatusFailed))
	require.Equal(t, int64(1), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentFailed))

	f.card.err = nil
	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	require.False(t, ref.Existing)
	require.Len(t, f.risk.requests, 2)
	require.Equal(t, 1, f.risk.requests[1].RetryCount)
	require.Equal(t, enums.PaymentStatusPaid, f.paymentStatus(t, order.ID))
}

func TestRetryAfterDeclineResetsOrderPaymentStatus(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.card.err = pkgerrors.New(pkgerrors.CodePaymentDeclined, "CARD_DECLINED")

	_, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePaymentDeclined))
	require.Equal(t, enums.PaymentStatusFailed, f.paymentStatus(t, order.ID))

	f.card.err = nil
	f.card.result = GatewayResult{Reference: "sq-pending-1", Status: GatewayPending}
	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusPending, ref.Status)
	require.Equal(t, enums.PaymentStatusPending, f.paymentStatus(t, order.ID))
}

func TestInitiateGuards(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)

	stranger := f.cardInput(order.ID)
	stranger.Actor = authz.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}
	_, err := f.svc.Initiate(context.Background(), stranger)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Method: enums.PaymentMethodCash, Actor: f.buyer})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	mismatched := f.cardInput(order.ID)
	mismatched.Payload = CashIntent{}
	_, err = f.svc.Initiate(context.Background(), mismatched)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Initiate(context.Background(), f.cardInput(uuid.New()))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusCanceled).Error)
	_, err = f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	require.Empty(t, f.card.charges)
}

func TestManualPaymentSettlesOnce(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodBankTransfer, 7500)

	ref, err := f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Method: enums.PaymentMethodBankTransfer, Actor: f.buyer})
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusPending, ref.Status)
	require.Equal(t, enums.ProviderManual, ref.Provider)
	require.Equal(t, enums.PaymentStatusPending, f.paymentStatus(t, order.ID))

	_, err = f.svc.MarkManuallyPaid(context.Background(), ref.TransactionID, "", f.buyer)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	seller := sellerOf(order)
	settled, err := f.svc.MarkManuallyPaid(context.Background(), ref.TransactionID, "transfer 4471 received", seller)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, settled.Status)
	require.Equal(t, enums.PaymentStatusPaid, f.paymentStatus(t, order.ID))

	var txn models.PaymentTransaction
	require.NoError(t, f.db.First(&txn, "id = ?", ref.TransactionID).Error)
	require.Equal(t, seller.UserID, *txn.SettledBy)
	require.Equal(t, "transfer 4471 received", *txn.Notes)

	_, err = f.svc.MarkManuallyPaid(context.Background(), ref.TransactionID, "", seller)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	require.Equal(t, int64(1), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentSettled))
}

func TestMarkManuallyPaidRejectsGatewayPayments(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.card.result.Status = GatewayPending

	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)

	_, err = f.svc.MarkManuallyPaid(context.Background(), ref.TransactionID, "", f.admin)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestPartialRefundsNeverExceedCaptured(t *testing.T) {
	f := newFixture(t)
	order := f.paidCardOrder(t, 10000)
	seller := sellerOf(order)

	first, err := f.svc.RefundPartial(context.Background(), order.ID, 6000, "one sleeve mis-sized", seller)
	require.NoError(t, err)
	require.Equal(t, int64(6000), first.RefundedCents)
	require.Equal(t, int64(4000), first.RemainingCents)
	require.Equal(t, enums.TransactionStatusCompleted, first.TransactionStatus)
	require.Equal(t, enums.PaymentStatusPartiallyRefunded, first.PaymentStatus)

	_, err = f.svc.RefundPartial(context.Background(), order.ID, 5000, "again", seller)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRefundExceedsCaptured))
	details := pkgerrors.As(err).Details().(map[string]any)
	require.Equal(t, int64(4000), details["remaining_cents"])
	require.Equal(t, enums.PaymentStatusPartiallyRefunded, f.paymentStatus(t, order.ID))

	full, err := f.svc.RefundFull(context.Background(), order.ID, "order canceled", seller)
	require.NoError(t, err)
	require.Equal(t, int64(4000), full.AmountCents)
	require.Equal(t, int64(0), full.RemainingCents)
	require.Equal(t, enums.TransactionStatusRefunded, full.TransactionStatus)
	require.Equal(t, enums.PaymentStatusRefunded, f.paymentStatus(t, order.ID))

	_, err = f.svc.RefundPartial(context.Background(), order.ID, 1, "more", f.admin)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRefundExceedsCaptured))

	require.Len(t, f.card.refunds, 2)
	require.Equal(t, "sq-pay-1", f.card.refunds[0].Reference)
	require.Equal(t, int64(2), f.countRows(t, &models.Refund{}, "order_id = ?", order.ID))
	require.Equal(t, int64(2), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentRefunded))
}

func TestConcurrentRefundsStayWithinCaptured(t *testing.T) {
	f := newFixture(t)
	order := f.paidCardOrder(t, 10000)
	seller := sellerOf(order)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RefundPartial(context.Background(), order.ID, 3000, "goodwill", seller)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRefundExceedsCaptured))
	}
	require.Equal(t, 3, succeeded)
	var txn models.PaymentTransaction
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&txn).Error)
	require.Equal(t, int64(9000), txn.RefundedCents)
}

func TestRefundAuthorization(t *testing.T) {
	f := newFixture(t)
	order := f.paidCardOrder(t, 10000)

	_, err := f.svc.RefundPartial(context.Background(), order.ID, 100, "nope", f.buyer)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	other := authz.Actor{UserID: uuid.New(), Role: enums.RoleSeller}
	_, err = f.svc.RefundPartial(context.Background(), order.ID, 100, "nope", other)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.RefundPartial(context.Background(), order.ID, 100, " ", sellerOf(order))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	unpaid := f.seedOrder(t, enums.PaymentMethodCash, 100)
	_, err = f.svc.RefundFull(context.Background(), unpaid.ID, "none captured", f.admin)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestGatewayRefundEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.paidCardOrder(t, 10000)
	event := GatewayEvent{
		Kind:              GatewayEventRefund,
		Provider:          enums.ProviderSquare,
		PaymentReference:  "sq-pay-1",
		RefundID:          "sq-refund-9",
		RefundAmountCents: 2500,
		RefundCompleted:   true,
	}

	require.NoError(t, f.svc.ApplyGatewayEvent(context.Background(), event))
	require.NoError(t, f.svc.ApplyGatewayEvent(context.Background(), event))

	require.Equal(t, int64(1), f.countRows(t, &models.Refund{}, "gateway_refund_id = ?", "sq-refund-9"))
	var txn models.PaymentTransaction
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&txn).Error)
	require.Equal(t, int64(2500), txn.RefundedCents)
	require.Equal(t, enums.PaymentStatusPartiallyRefunded, f.paymentStatus(t, order.ID))
	require.Empty(t, f.card.refunds)
}

func TestGatewayPaymentEventSettlesPendingOnce(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.card.result = GatewayResult{Reference: "sq-pay-async", Status: GatewayPending}

	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusPending, ref.Status)

	event := GatewayEvent{Kind: GatewayEventPayment, Provider: enums.ProviderSquare, PaymentReference: "sq-pay-async", Status: GatewaySucceeded}
	require.NoError(t, f.svc.ApplyGatewayEvent(context.Background(), event))
	require.NoError(t, f.svc.ApplyGatewayEvent(context.Background(), event))

	require.Equal(t, enums.PaymentStatusPaid, f.paymentStatus(t, order.ID))
	require.Equal(t, int64(1), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentSettled))

	missing := event
	missing.PaymentReference = "sq-unknown"
	err = f.svc.ApplyGatewayEvent(context.Background(), missing)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestVerifyResolvesPendingAttempt(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.card.result = GatewayResult{Reference: "sq-pay-2", Status: GatewayPending}

	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)

	status, err := f.svc.Verify(context.Background(), ref.TransactionID, f.buyer)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusPending, status)

	f.card.verify = GatewaySucceeded
	status, err = f.svc.Verify(context.Background(), ref.TransactionID, f.buyer)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, status)

	status, err = f.svc.Verify(context.Background(), ref.TransactionID, authz.SystemActor)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, status)
	require.Equal(t, int64(1), f.countRows(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentSettled))

	_, err = f.svc.Verify(context.Background(), ref.TransactionID, authz.Actor{UserID: uuid.New(), Role: enums.RoleBuyer})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}

func TestVerifyMarksFailedAttempt(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCard, 5000)
	f.card.result = GatewayResult{Reference: "sq-pay-3", Status: GatewayPending}
	f.card.verify = GatewayFailed

	ref, err := f.svc.Initiate(context.Background(), f.cardInput(order.ID))
	require.NoError(t, err)

	status, err := f.svc.Verify(context.Background(), ref.TransactionID, authz.SystemActor)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusFailed, status)
	require.Equal(t, enums.PaymentStatusFailed, f.paymentStatus(t, order.ID))
}

func TestPendingForReconcileHonorsAge(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCash, 3000)

	ref, err := f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Method: enums.PaymentMethodCash, Actor: f.buyer})
	require.NoError(t, err)

	rows, err := f.svc.PendingForReconcile(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, rows)

	f.shift = 11 * time.Minute
	rows, err = f.svc.PendingForReconcile(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ref.TransactionID, rows[0].ID)
}

func TestInitiateExpiresStaleAttempt(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.PaymentMethodCash, 3000)
	input := InitiateInput{OrderID: order.ID, Method: enums.PaymentMethodCash, Actor: f.buyer}

	first, err := f.svc.Initiate(context.Background(), input)
	require.NoError(t, err)

	f.shift = 20 * time.Minute
	second, err := f.svc.Initiate(context.Background(), input)
	require.NoError(t, err)
	require.NotEqual(t, first.TransactionID, second.TransactionID)

	var stale models.PaymentTransaction
	require.NoError(t, f.db.First(&stale, "id = ?", first.TransactionID).Error)
	require.Equal(t, enums.TransactionStatusFailed, stale.Status)
	require.Equal(t, providerCodeExpired, *stale.ProviderCode)
}
