package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/threadline/settlement-backend/api/middleware"
	"github.com/threadline/settlement-backend/internal/authz"
	internalorders "github.com/threadline/settlement-backend/internal/orders"
	"github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/internal/pricing"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/pagination"
)

type stubOrdersService struct {
	placeInput      internalorders.PlaceInput
	placeResult     internalorders.PlaceResult
	placeErr        error
	transitionInput internalorders.TransitionInput
	transitionErr   error
	listActor       authz.Actor
	listParams      internalorders.ListParams
}

func (s *stubOrdersService) Place(_ context.Context, input internalorders.PlaceInput) (internalorders.PlaceResult, error) {
	s.placeInput = input
	return s.placeResult, s.placeErr
}

func (s *stubOrdersService) Quote(_ context.Context, _ uuid.UUID, quantity int, _ map[string]string, _ enums.DeliveryMethod) (pricing.Breakdown, error) {
	return pricing.Breakdown{
		Currency:  "USD",
		Quantity:  quantity,
		Subtotal:  decimal.RequireFromString("100.004"),
		TaxAmount: decimal.RequireFromString("8.0003"),
	}, nil
}

func (s *stubOrdersService) Transition(_ context.Context, input internalorders.TransitionInput) (*models.Order, error) {
	s.transitionInput = input
	if s.transitionErr != nil {
		return nil, s.transitionErr
	}
	return &models.Order{ID: input.OrderID, Status: input.Target}, nil
}

func (s *stubOrdersService) UpdateTracking(context.Context, internalorders.TrackingInput) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubOrdersService) Rate(context.Context, internalorders.RateInput) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubOrdersService) Get(context.Context, uuid.UUID, authz.Actor) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubOrdersService) List(_ context.Context, actor authz.Actor, params internalorders.ListParams) (pagination.Page[models.Order], error) {
	s.listActor = actor
	s.listParams = params
	return pagination.Page[models.Order]{Items: []models.Order{{ID: uuid.New(), Status: enums.OrderStatusPending}}}, nil
}

func withActor(req *http.Request, role enums.Role) (*http.Request, uuid.UUID) {
	userID := uuid.New()
	return req.WithContext(middleware.WithIdentity(req.Context(), userID, role)), userID
}

func withOrderParam(req *http.Request, orderID uuid.UUID) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", orderID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

const placeBody = `{
	"listing_id": "7f4c1f8e-7e0f-4a77-9d4b-0d6f6b1c2a11",
	"quantity": 2,
	"customization_choices": {"collar": "spread"},
	"delivery_method": "standard",
	"payment_method": "cash"
}`

func TestPlace(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{placeResult: internalorders.PlaceResult{
		Order:   &models.Order{ID: orderID, Status: enums.OrderStatusPending, TotalCents: 12960},
		Payment: &payments.TransactionRef{TransactionID: uuid.New(), OrderID: orderID, Status: enums.TransactionStatusPending},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(placeBody))
	req.Header.Set("X-Device-Id", "device-1")
	req.RemoteAddr = "203.0.113.7:1234"
	req, buyerID := withActor(req, enums.RoleBuyer)
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, buyerID, svc.placeInput.Actor.UserID)
	require.Equal(t, 2, svc.placeInput.Quantity)
	require.Equal(t, enums.DeliveryMethodStandard, svc.placeInput.DeliveryMethod)
	require.Equal(t, enums.PaymentMethodCash, svc.placeInput.PaymentMethod)
	require.IsType(t, payments.CashIntent{}, svc.placeInput.Payment)
	require.Equal(t, "device-1", svc.placeInput.Request.DeviceID)
	require.Equal(t, "203.0.113.7", svc.placeInput.Request.IPAddress)

	var body struct {
		Data struct {
			Order struct {
				ID    string `json:"id"`
				Price struct {
					TotalCents int64 `json:"total_cents"`
				} `json:"price"`
			} `json:"order"`
			PaymentError *struct{} `json:"payment_error"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, orderID.String(), body.Data.Order.ID)
	require.Equal(t, int64(12960), body.Data.Order.Price.TotalCents)
	require.Nil(t, body.Data.PaymentError)
}

func TestPlaceReportsPaymentFailureInline(t *testing.T) {
	svc := &stubOrdersService{placeResult: internalorders.PlaceResult{
		Order:      &models.Order{ID: uuid.New(), Status: enums.OrderStatusPending},
		PaymentErr: pkgerrors.New(pkgerrors.CodeDependency, "square unreachable"),
	}}
	req, _ := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(placeBody)), enums.RoleBuyer)
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Data struct {
			PaymentError struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"payment_error"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(pkgerrors.CodeDependency), body.Data.PaymentError.Code)
	require.Equal(t, "dependency unavailable", body.Data.PaymentError.Message)
}

func TestPlaceRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		anon bool
		want int
	}{
		{name: "anonymous", body: placeBody, anon: true, want: http.StatusUnauthorized},
		{name: "zero quantity", body: strings.Replace(placeBody, `"quantity": 2`, `"quantity": 0`, 1), want: http.StatusBadRequest},
		{name: "unknown delivery", body: strings.Replace(placeBody, `"standard"`, `"teleport"`, 1), want: http.StatusBadRequest},
		{name: "card without token", body: strings.Replace(placeBody, `"cash"`, `"card"`, 1), want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrdersService{}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(tc.body))
			if !tc.anon {
				req, _ = withActor(req, enums.RoleBuyer)
			}
			rec := httptest.NewRecorder()
			Place(svc, nil).ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())
			require.Equal(t, uuid.Nil, svc.placeInput.ListingID)
		})
	}
}

func TestPlaceMapsDomainErrors(t *testing.T) {
	svc := &stubOrdersService{placeErr: pkgerrors.New(pkgerrors.CodeInsufficientStock, "linen short").
		WithDetails(map[string]any{"items": []string{"linen"}})}
	req, _ := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(placeBody)), enums.RoleBuyer)
	rec := httptest.NewRecorder()
	Place(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "not enough inventory available")
}

func TestQuoteRoundsBreakdown(t *testing.T) {
	svc := &stubOrdersService{}
	body := `{"listing_id":"7f4c1f8e-7e0f-4a77-9d4b-0d6f6b1c2a11","quantity":3,"delivery_method":"pickup"}`
	rec := httptest.NewRecorder()
	Quote(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Data struct {
			Subtotal string `json:"subtotal"`
			Total    string `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "100", out.Data.Subtotal)
	require.Equal(t, "108", out.Data.Total)
}

func TestTransition(t *testing.T) {
	svc := &stubOrdersService{}
	orderID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/transitions", strings.NewReader(`{"status":"accepted","note":"  on it  "}`))
	req = withOrderParam(req, orderID)
	req, sellerID := withActor(req, enums.RoleSeller)
	rec := httptest.NewRecorder()
	Transition(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, orderID, svc.transitionInput.OrderID)
	require.Equal(t, enums.OrderStatusAccepted, svc.transitionInput.Target)
	require.Equal(t, "on it", svc.transitionInput.Note)
	require.Equal(t, sellerID, svc.transitionInput.Actor.UserID)

	svc.transitionErr = pkgerrors.New(pkgerrors.CodeCancellationNotAllowed, "in production")
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"canceled"}`))
	req, _ = withActor(withOrderParam(req, orderID), enums.RoleBuyer)
	rec = httptest.NewRecorder()
	Transition(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "order already in production")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"paused"}`))
	req, _ = withActor(withOrderParam(req, orderID), enums.RoleSeller)
	rec = httptest.NewRecorder()
	Transition(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPassesFilters(t *testing.T) {
	svc := &stubOrdersService{}
	req, buyerID := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=pending&limit=5", nil), enums.RoleBuyer)
	rec := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, buyerID, svc.listActor.UserID)
	require.Equal(t, 5, svc.listParams.Pagination.Limit)
	require.NotNil(t, svc.listParams.Status)
	require.Equal(t, enums.OrderStatusPending, *svc.listParams.Status)
}
