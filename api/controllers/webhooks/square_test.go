package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	squarewebhook "github.com/threadline/settlement-backend/internal/webhooks/square"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/square"
)

const (
	testKey = "secret"
	testURL = "https://api.threadline.test/api/v1/webhooks/square"
)

func TestSquareWebhook_SuccessAndIdempotent(t *testing.T) {
	payload := buildSquareEvent(t, "evt-1", "payment.updated")
	header := square.SignWebhook(testKey, testURL, payload)
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, SquareSignature{Key: testKey, NotificationURL: testURL}, newGuard(t), nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
		req.Header.Set(square.SignatureHeader, header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("duplicate delivery must not re-apply, got %d calls", service.calls)
	}
	if service.last == nil || service.last.Data.Object.Payment == nil || service.last.Data.Object.Payment.ID != "sq-pay-1" {
		t.Fatalf("unexpected event %+v", service.last)
	}
}

func TestSquareWebhook_InvalidSignature(t *testing.T) {
	payload := buildSquareEvent(t, "evt-2", "payment.updated")
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, SquareSignature{Key: testKey, NotificationURL: testURL}, newGuard(t), nil)

	for _, header := range []string{"", "bogus", square.SignWebhook("other", testURL, payload)} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
		if header != "" {
			req.Header.Set(square.SignatureHeader, header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
	if service.calls != 0 {
		t.Fatalf("service should not be called, got %d", service.calls)
	}
}

func TestSquareWebhook_FailureAllowsRedelivery(t *testing.T) {
	payload := buildSquareEvent(t, "evt-3", "payment.updated")
	header := square.SignWebhook(testKey, testURL, payload)
	service := &fakeSquareWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	handler := SquareWebhook(service, SquareSignature{Key: testKey, NotificationURL: testURL}, newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set(square.SignatureHeader, header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	service.err = nil
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set(square.SignatureHeader, header)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery to reach the service, got %d calls", service.calls)
	}
}

func newGuard(t *testing.T) *squarewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := squarewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "square-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func buildSquareEvent(t *testing.T, eventID, eventType string) []byte {
	t.Helper()
	event := squarewebhook.Event{
		MerchantID: "merchant-1",
		EventID:    eventID,
		Type:       eventType,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Data: squarewebhook.EventData{
			Type: "payment",
			ID:   "sq-pay-1",
			Object: squarewebhook.EventObject{Payment: &squarewebhook.Payment{
				ID:          "sq-pay-1",
				Status:      "COMPLETED",
				AmountMoney: &squarewebhook.Money{Amount: 12960, Currency: "USD"},
			}},
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

type fakeSquareWebhookService struct {
	calls int
	last  *squarewebhook.Event
	err   error
}

func (f *fakeSquareWebhookService) HandleEvent(_ context.Context, event *squarewebhook.Event) error {
	f.calls++
	f.last = event
	return f.err
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]string{}}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key], _ = value.(string)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
