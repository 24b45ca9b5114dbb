package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/metrics"
	"github.com/mmeshcher/shipsavings/internal/middleware"
	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/repository"
	"github.com/mmeshcher/shipsavings/internal/service"
	"github.com/mmeshcher/shipsavings/internal/walletfeed"
)

const testGatewayKey = "gateway-key"

// stubService переопределяет нужные методы; вызов остальных приводит к панике.
type stubService struct {
	Service

	ordersResp []model.Order
	ordersErr  error

	requestErr error
	syncReport service.SyncReport
	syncErr    error
	pingErr    error

	admins map[int64]bool
}

func (s *stubService) Principal(_ context.Context, memberID int64) (model.Principal, error) {
	return model.Principal{MemberID: memberID, Name: "Pilot", Admin: s.admins[memberID]}, nil
}

func (s *stubService) Ping(context.Context) error {
	return s.pingErr
}

func (s *stubService) ListMemberOrders(context.Context, model.Principal) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) RequestOrder(_ context.Context, p model.Principal, itemID int64, _ string) (*model.Order, error) {
	if s.requestErr != nil {
		return nil, s.requestErr
	}
	return &model.Order{ID: 1, MemberID: p.MemberID, ItemName: "Raven", TargetPrice: 100, Status: model.OrderStatusPendingApproval}, nil
}

func (s *stubService) SyncWallet(context.Context) (service.SyncReport, error) {
	return s.syncReport, s.syncErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret", svc)

	return NewHandler(svc, logger, auth, metrics.New(), testGatewayKey)
}

func authCookie(t *testing.T, h *Handler, memberID int64) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, memberID)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind service.Kind
		want int
	}{
		{service.KindValidation, http.StatusUnprocessableEntity},
		{service.KindConflict, http.StatusConflict},
		{service.KindNotFound, http.StatusNotFound},
		{service.KindForbidden, http.StatusForbidden},
		{service.KindUpstream, http.StatusBadGateway},
		{service.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.kind))
		})
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	svc := &stubService{
		ordersResp: []model.Order{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetOrders_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestOrder_ConflictMapsTo409(t *testing.T) {
	svc := &stubService{
		requestErr: &service.Error{Kind: service.KindConflict, Err: service.ErrConflictingActiveGoal, Detail: "conflicting active goal"},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"catalog_item_id":3}`))
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "conflicting active goal", body.Detail)
}

func TestRequestOrder_BadBody(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{`))
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/wallet/sync", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminSyncWallet_FetchFailure(t *testing.T) {
	svc := &stubService{
		admins:     map[int64]bool{1: true},
		syncReport: service.SyncReport{Detail: "0 processed, fetch failed"},
		syncErr:    &service.Error{Kind: service.KindUpstream, Err: service.ErrFeedUnavailable},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/wallet/sync", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var report service.SyncReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "0 processed, fetch failed", report.Detail)
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, &stubService{pingErr: context.DeadlineExceeded})

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shipsavings_http_requests_total")
}

type staticFeed []walletfeed.Entry

func (f staticFeed) FetchJournal(context.Context) ([]walletfeed.Entry, error) {
	return f, nil
}

// apiClient ходит в роутер с cookie сессии.
type apiClient struct {
	t      *testing.T
	router http.Handler
	cookie *http.Cookie
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, router http.Handler, characterID int64, name string) *apiClient {
	t.Helper()
	body, err := json.Marshal(sessionRequest{CharacterID: characterID, CharacterName: name})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewReader(body))
	req.Header.Set(middleware.GatewayKeyHeader, testGatewayKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return &apiClient{t: t, router: router, cookie: cookies[0]}
}

func TestSavingsFlow(t *testing.T) {
	repo := repository.NewMemoryRepository()
	feed := staticFeed{{
		ID:           "J1",
		RefType:      walletfeed.RefTypeDonation,
		Amount:       decimal.NewFromInt(40),
		FirstPartyID: 2002,
		Reason:       "raven",
		Date:         time.Now().UTC().Add(-time.Minute),
	}}
	svc := service.NewService(repo, feed, service.Options{AdminCharacterID: 1001})
	router := newTestHandler(t, svc).SetupRouter()

	admin := login(t, router, 1001, "Banker")
	member := login(t, router, 2002, "Pilot")

	rec := admin.do(http.MethodPost, "/api/admin/catalog", catalogItemRequest{Name: "Raven", Price: 100, Category: "Battleship"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item catalogItemResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&item))

	rec = member.do(http.MethodPost, "/api/orders", requestOrderRequest{CatalogItemID: item.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order orderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&order))
	assert.Equal(t, "pending_approval", order.Status)
	assert.Equal(t, "Pilot", order.MemberName)

	rec = member.do(http.MethodPost, "/api/orders", requestOrderRequest{CatalogItemID: item.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = member.do(http.MethodPost, "/api/admin/orders/1/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	path := "/api/admin/orders/" + strconv.FormatInt(order.ID, 10)
	rec = admin.do(http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodPost, "/api/admin/wallet/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report service.SyncReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 1, report.Matched)

	rec = admin.do(http.MethodPost, path+"/deposits", depositRequest{Amount: 60})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = member.do(http.MethodGet, "/api/orders/"+strconv.FormatInt(order.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail orderDetailResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.Equal(t, "completed", detail.Order.Status)
	assert.Equal(t, int64(100), detail.Balance.Total)
	assert.Len(t, detail.Deposits, 2)

	rec = member.do(http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = admin.do(http.MethodPut, "/api/admin/settings", settingsPayload{InterestRate: "2"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = admin.do(http.MethodGet, "/api/admin/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings settingsPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&settings))
	assert.Equal(t, "monthly", settings.AccrualPeriod)
}

func TestCreateSession_RequiresGatewayKey(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"character_id":1,"character_name":"x"}`))
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes_DemotedAdminForbidden(t *testing.T) {
	repo := repository.NewMemoryRepository()
	before := newTestHandler(t, service.NewService(repo, nil, service.Options{AdminCharacterID: 1001})).SetupRouter()
	admin := login(t, before, 1001, "Banker")

	rec := admin.do(http.MethodGet, "/api/admin/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// ADMIN_CHARACTER_ID сменился, cookie старого администратора ещё действует.
	admin.router = newTestHandler(t, service.NewService(repo, nil, service.Options{AdminCharacterID: 2002})).SetupRouter()

	rec = admin.do(http.MethodGet, "/api/admin/settings", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "member routes still work")
}

func TestAuth_UnknownMember(t *testing.T) {
	h := newTestHandler(t, service.NewService(repository.NewMemoryRepository(), nil, service.Options{}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.AddCookie(authCookie(t, h, 77))
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestOrder_BodyTooLarge(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body := `{"catalog_item_id":3,"notes":"` + strings.Repeat("o7 ", middleware.MaxRequestBody/3+1) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
