// Package handler содержит HTTP-обработчики API сервиса накоплений.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/metrics"
	"github.com/mmeshcher/shipsavings/internal/middleware"
	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/service"
	"github.com/mmeshcher/shipsavings/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	Login(ctx context.Context, characterID int64, name string) (*model.Member, error)
	Principal(ctx context.Context, memberID int64) (model.Principal, error)

	ListCatalog(ctx context.Context, availableOnly bool) ([]model.CatalogItem, error)
	AddCatalogItem(ctx context.Context, p model.Principal, item model.CatalogItem) (*model.CatalogItem, error)

	RequestOrder(ctx context.Context, p model.Principal, catalogItemID int64, notes string) (*model.Order, error)
	CreateOrder(ctx context.Context, p model.Principal, in service.CreateOrderInput) (*model.Order, error)
	ListMemberOrders(ctx context.Context, p model.Principal) ([]model.Order, error)
	ListOrders(ctx context.Context, p model.Principal, statuses ...model.OrderStatus) ([]model.Order, error)
	GetOrderDetail(ctx context.Context, p model.Principal, orderID int64) (*service.OrderDetail, error)
	ApproveOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	RejectOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	CancelOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	RequestWithdrawal(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	ApproveWithdrawal(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	DenyWithdrawal(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	UpdateOrderDetails(ctx context.Context, p model.Principal, orderID int64, in service.UpdateOrderInput) (*model.Order, error)
	SetVisibility(ctx context.Context, p model.Principal, orderID int64, public bool) (*model.Order, error)
	Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error)

	RecordDeposit(ctx context.Context, p model.Principal, orderID int64, in service.DepositInput) (*model.Deposit, error)
	AccrueOrder(ctx context.Context, p model.Principal, orderID int64) (service.AccrualOutcome, error)
	AccrueAll(ctx context.Context) ([]service.AccrualOutcome, error)

	SyncWallet(ctx context.Context) (service.SyncReport, error)
	ListUnmatched(ctx context.Context, p model.Principal) ([]model.ExternalTransaction, error)
	AssignTransaction(ctx context.Context, p model.Principal, txID string, orderID int64) (*model.Deposit, error)
	IgnoreTransaction(ctx context.Context, p model.Principal, txID string) error

	GetSettings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, p model.Principal, in service.SettingsInput) (model.Settings, error)
	DistributeBonus(ctx context.Context, p model.Principal, dollars decimal.Decimal) (*service.DistributionResult, error)

	ListNotifications(ctx context.Context, p model.Principal, limit int) ([]model.Notification, error)
	MarkNotificationsRead(ctx context.Context, p model.Principal) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса накоплений.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
	gatewayKey     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics, gatewayKey string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
		gatewayKey:     gatewayKey,
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Detail: detail})
}

// statusFor отображает вид ошибки бизнес-логики в HTTP-статус.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusUnprocessableEntity
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail отвечает ошибкой бизнес-логики. Внутренние ошибки логируются без раскрытия деталей клиенту.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(service.KindOf(err))
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		writeError(w, status, "")
		return
	}

	detail := err.Error()
	var se *service.Error
	if errors.As(err, &se) && se.Detail != "" {
		detail = se.Detail
	}
	writeError(w, status, detail)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body is too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return p, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, ok := validation.ParseID(chi.URLParam(r, name))
	if !ok {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
	}
	return id, ok
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type sessionRequest struct {
	CharacterID   int64  `json:"character_id"`
	CharacterName string `json:"character_name"`
}

type sessionResponse struct {
	MemberID int64  `json:"member_id"`
	Name     string `json:"name"`
	Admin    bool   `json:"admin"`
}

// CreateSession принимает подтверждённую личность от шлюза идентификации и открывает сессию.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CharacterID <= 0 || req.CharacterName == "" {
		writeError(w, http.StatusBadRequest, "character_id and character_name are required")
		return
	}

	m, err := h.service.Login(r.Context(), req.CharacterID, req.CharacterName)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, m.ID)
	h.logger.Info("session opened", zap.Int64("memberID", m.ID), zap.Bool("admin", m.IsAdmin))
	writeJSON(w, http.StatusOK, sessionResponse{MemberID: m.ID, Name: m.Name, Admin: m.IsAdmin})
}

// DeleteSession закрывает сессию.
func (h *Handler) DeleteSession(w http.ResponseWriter, _ *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Healthz проверяет доступность хранилища.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type catalogItemResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Category  string `json:"category,omitempty"`
	ImageRef  string `json:"image_ref,omitempty"`
	Available bool   `json:"available"`
}

func toCatalogItem(item model.CatalogItem) catalogItemResponse {
	return catalogItemResponse{
		ID:        item.ID,
		Name:      item.Name,
		Price:     item.Price,
		Category:  item.Category,
		ImageRef:  item.ImageRef,
		Available: item.Available,
	}
}

// GetCatalog возвращает каталог кораблей. Параметр all=true включает недоступные позиции.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	items, err := h.service.ListCatalog(r.Context(), !all)
	if err != nil {
		h.fail(w, r, "list catalog", err)
		return
	}

	resp := make([]catalogItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toCatalogItem(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

type orderResponse struct {
	ID             int64   `json:"id"`
	MemberID       int64   `json:"member_id"`
	MemberName     string  `json:"member_name,omitempty"`
	ItemName       string  `json:"item_name"`
	TargetPrice    int64   `json:"target_price"`
	Deposited      int64   `json:"deposited"`
	InterestEarned int64   `json:"interest_earned"`
	Total          int64   `json:"total"`
	Progress       float64 `json:"progress"`
	Status         string  `json:"status"`
	Public         bool    `json:"public"`
	Category       string  `json:"category,omitempty"`
	ImageRef       string  `json:"image_ref,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toOrder(o model.Order) orderResponse {
	progress := 0.0
	if o.TargetPrice > 0 {
		progress = float64(o.Total()) * 100 / float64(o.TargetPrice)
		if progress > 100 {
			progress = 100
		}
	}
	return orderResponse{
		ID:             o.ID,
		MemberID:       o.MemberID,
		MemberName:     o.MemberName,
		ItemName:       o.ItemName,
		TargetPrice:    o.TargetPrice,
		Deposited:      o.Deposited,
		InterestEarned: o.InterestEarned,
		Total:          o.Total(),
		Progress:       progress,
		Status:         string(o.Status),
		Public:         o.Public,
		Category:       o.Category,
		ImageRef:       o.ImageRef,
		Notes:          o.Notes,
		CreatedAt:      formatTime(o.CreatedAt),
		UpdatedAt:      formatTime(o.UpdatedAt),
	}
}

func toOrders(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrder(o))
	}
	return resp
}

type requestOrderRequest struct {
	CatalogItemID int64  `json:"catalog_item_id"`
	Notes         string `json:"notes"`
}

// RequestOrder создаёт заявку участника на цель из каталога.
func (h *Handler) RequestOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req requestOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CatalogItemID <= 0 {
		writeError(w, http.StatusBadRequest, "catalog_item_id is required")
		return
	}

	o, err := h.service.RequestOrder(r.Context(), p, req.CatalogItemID, req.Notes)
	if err != nil {
		h.fail(w, r, "request order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(*o))
}

// GetOrders возвращает список целей текущего участника.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListMemberOrders(r.Context(), p)
	if err != nil {
		h.fail(w, r, "get orders", err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

type depositResponse struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	Amount      int64  `json:"amount"`
	Source      string `json:"source"`
	OriginRef   string `json:"origin_ref,omitempty"`
	EffectiveAt string `json:"effective_at"`
	RecordedAt  string `json:"recorded_at"`
	Note        string `json:"note,omitempty"`
}

func toDeposit(d model.Deposit) depositResponse {
	resp := depositResponse{
		ID:          d.ID,
		OrderID:     d.OrderID,
		Amount:      d.Amount,
		Source:      string(d.Source),
		EffectiveAt: formatTime(d.EffectiveAt),
		RecordedAt:  formatTime(d.RecordedAt),
		Note:        d.Note,
	}
	if d.OriginRef != nil {
		resp.OriginRef = *d.OriginRef
	}
	return resp
}

type postingResponse struct {
	Amount        int64  `json:"amount"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	AccruedAt     string `json:"accrued_at"`
}

type balanceResponse struct {
	Deposited       int64   `json:"deposited"`
	Interest        int64   `json:"interest"`
	Total           int64   `json:"total"`
	Eligible        int64   `json:"eligible"`
	PendingInterest int64   `json:"pending_interest"`
	ProjectedTotal  int64   `json:"projected_total"`
	PeriodsDue      int     `json:"periods_due"`
	Progress        float64 `json:"progress"`
	Remaining       int64   `json:"remaining"`
}

type orderDetailResponse struct {
	Order    orderResponse     `json:"order"`
	Balance  balanceResponse   `json:"balance"`
	Deposits []depositResponse `json:"deposits"`
	Postings []postingResponse `json:"postings"`
}

// GetOrder возвращает цель с балансом и историей движений.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetOrderDetail(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, "get order", err)
		return
	}

	b := detail.Balance
	resp := orderDetailResponse{
		Order: toOrder(detail.Order),
		Balance: balanceResponse{
			Deposited:       b.Deposited,
			Interest:        b.Interest,
			Total:           b.Total,
			Eligible:        b.Eligible,
			PendingInterest: b.PendingInterest,
			ProjectedTotal:  b.ProjectedTotal,
			PeriodsDue:      b.PeriodsDue,
			Progress:        b.Progress,
			Remaining:       b.Remaining,
		},
		Deposits: make([]depositResponse, 0, len(detail.Deposits)),
		Postings: make([]postingResponse, 0, len(detail.Postings)),
	}
	for _, d := range detail.Deposits {
		resp.Deposits = append(resp.Deposits, toDeposit(d))
	}
	for _, ip := range detail.Postings {
		resp.Postings = append(resp.Postings, postingResponse{
			Amount:        ip.Amount,
			BalanceBefore: ip.BalanceBefore,
			BalanceAfter:  ip.BalanceAfter,
			AccruedAt:     formatTime(ip.AccruedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// RequestWithdrawal запрашивает полный вывод средств по цели.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, "request withdrawal", h.service.RequestWithdrawal)
}

type visibilityRequest struct {
	Public *bool `json:"public"`
}

// SetVisibility изменяет видимость цели в таблице лидеров.
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req visibilityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Public == nil {
		writeError(w, http.StatusBadRequest, "public is required")
		return
	}

	o, err := h.service.SetVisibility(r.Context(), p, id, *req.Public)
	if err != nil {
		h.fail(w, r, "set visibility", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(*o))
}

// GetLeaderboard возвращает таблицу лидеров по прогрессу активных целей.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context())
	if err != nil {
		h.fail(w, r, "leaderboard", err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type notificationResponse struct {
	ID        int64  `json:"id"`
	OrderID   *int64 `json:"order_id,omitempty"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// GetNotifications возвращает последние уведомления участника.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.service.ListNotifications(r.Context(), p, limit)
	if err != nil {
		h.fail(w, r, "list notifications", err)
		return
	}

	resp := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		resp = append(resp, notificationResponse{
			ID:        n.ID,
			OrderID:   n.OrderID,
			Type:      string(n.Type),
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: formatTime(n.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkNotificationsRead отмечает уведомления участника прочитанными.
func (h *Handler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkNotificationsRead(r.Context(), p)
	if err != nil {
		h.fail(w, r, "mark notifications read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

type orderOp func(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)

// orderAction выполняет переход статуса цели по идентификатору из пути.
func (h *Handler) orderAction(w http.ResponseWriter, r *http.Request, name string, op orderOp) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	o, err := op(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(*o))
}
