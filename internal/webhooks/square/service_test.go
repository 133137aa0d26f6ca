package squarewebhook

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
)

type recordingLedger struct {
	events []payments.GatewayEvent
	err    error
}

func (r *recordingLedger) ApplyGatewayEvent(_ context.Context, event payments.GatewayEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func newService(t *testing.T, ledger *recordingLedger) *Service {
	t.Helper()
	svc, err := NewService(ledger, logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard}))
	require.NoError(t, err)
	return svc
}

func TestHandlePaymentUpdated(t *testing.T) {
	cases := []struct {
		status  string
		applied bool
		want    payments.GatewayStatus
	}{
		{status: "COMPLETED", applied: true, want: payments.GatewaySucceeded},
		{status: "FAILED", applied: true, want: payments.GatewayFailed},
		{status: "CANCELED", applied: true, want: payments.GatewayFailed},
		{status: "APPROVED", applied: false},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			ledger := &recordingLedger{}
			err := newService(t, ledger).HandleEvent(context.Background(), &Event{
				EventID: "evt-1",
				Type:    "payment.updated",
				Data:    EventData{Object: EventObject{Payment: &Payment{ID: "sq-pay-1", Status: tc.status}}},
			})
			require.NoError(t, err)
			if !tc.applied {
				require.Empty(t, ledger.events)
				return
			}
			require.Len(t, ledger.events, 1)
			require.Equal(t, payments.GatewayEventPayment, ledger.events[0].Kind)
			require.Equal(t, enums.ProviderSquare, ledger.events[0].Provider)
			require.Equal(t, "sq-pay-1", ledger.events[0].PaymentReference)
			require.Equal(t, tc.want, ledger.events[0].Status)
		})
	}
}

func TestHandleRefundUpdated(t *testing.T) {
	ledger := &recordingLedger{}
	svc := newService(t, ledger)

	pending := &Event{
		EventID: "evt-2",
		Type:    "refund.updated",
		Data: EventData{Object: EventObject{Refund: &Refund{
			ID: "rf-1", PaymentID: "sq-pay-1", Status: "PENDING",
			AmountMoney: &Money{Amount: 2500, Currency: "USD"},
		}}},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), pending))
	require.Empty(t, ledger.events)

	completed := *pending
	completed.Data.Object.Refund = &Refund{
		ID: "rf-1", PaymentID: "sq-pay-1", Status: "COMPLETED", Reason: "damaged",
		AmountMoney: &Money{Amount: 2500, Currency: "USD"},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), &completed))
	require.Len(t, ledger.events, 1)
	event := ledger.events[0]
	require.Equal(t, payments.GatewayEventRefund, event.Kind)
	require.Equal(t, "rf-1", event.RefundID)
	require.Equal(t, int64(2500), event.RefundAmountCents)
	require.True(t, event.RefundCompleted)
	require.Equal(t, "damaged", event.Reason)
}

func TestHandleEventEdgeCases(t *testing.T) {
	ledger := &recordingLedger{}
	svc := newService(t, ledger)

	require.NoError(t, svc.HandleEvent(context.Background(), &Event{EventID: "evt-3", Type: "invoice.paid"}))
	require.Empty(t, ledger.events)

	err := svc.HandleEvent(context.Background(), &Event{EventID: "evt-4", Type: "payment.updated"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	err = svc.HandleEvent(context.Background(), nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	ledger.err = pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	err = svc.HandleEvent(context.Background(), &Event{
		EventID: "evt-5",
		Type:    "payment.updated",
		Data:    EventData{Object: EventObject{Payment: &Payment{ID: "foreign", Status: "COMPLETED"}}},
	})
	require.NoError(t, err)

	ledger.err = pkgerrors.New(pkgerrors.CodeDependency, "db down")
	err = svc.HandleEvent(context.Background(), &Event{
		EventID: "evt-6",
		Type:    "payment.updated",
		Data:    EventData{Object: EventObject{Payment: &Payment{ID: "sq-pay-2", Status: "COMPLETED"}}},
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

type memoryIdempotencyStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{values: map[string]string{}}
}

func (m *memoryIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "tl:idempotency:" + scope + ":" + id
}

func (m *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestIdempotencyGuard(t *testing.T) {
	guard, err := NewIdempotencyGuard(newMemoryStore(), time.Hour, "square-webhook")
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, seen)

	require.NoError(t, guard.Delete(ctx, "evt-1"))
	seen, err = guard.CheckAndMark(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	_, err = guard.CheckAndMark(ctx, "")
	require.Error(t, err)

	_, err = NewIdempotencyGuard(nil, time.Hour, "square-webhook")
	require.Error(t, err)
}
