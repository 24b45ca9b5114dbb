package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/service"
	"github.com/mmeshcher/shipsavings/internal/validation"
)

// AdminListOrders возвращает цели в указанных статусах: ?status=active,pending_approval.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	statuses, ok := validation.ParseStatuses(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown order status")
		return
	}

	orders, err := h.service.ListOrders(r.Context(), p, statuses...)
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

type createOrderRequest struct {
	MemberID int64  `json:"member_id"`
	ItemName string `json:"item_name"`
	Price    int64  `json:"price"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

// AdminCreateOrder создаёт активную цель для участника.
func (h *Handler) AdminCreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.MemberID <= 0 || req.ItemName == "" || !validation.IsValidAmount(req.Price) {
		writeError(w, http.StatusBadRequest, "member_id, item_name and a positive price are required")
		return
	}

	o, err := h.service.CreateOrder(r.Context(), p, service.CreateOrderInput{
		MemberID: req.MemberID,
		ItemName: req.ItemName,
		Price:    req.Price,
		Category: req.Category,
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(*o))
}

type updateOrderRequest struct {
	ItemName string `json:"item_name"`
	Price    int64  `json:"price"`
	Public   bool   `json:"public"`
}

// AdminUpdateOrder изменяет название, цену и видимость открытой цели.
func (h *Handler) AdminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateOrderRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.service.UpdateOrderDetails(r.Context(), p, id, service.UpdateOrderInput{
		ItemName: req.ItemName,
		Price:    req.Price,
		Public:   req.Public,
	})
	if err != nil {
		h.fail(w, r, "update order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(*o))
}

// AdminApproveOrder одобряет заявку.
func (h *Handler) AdminApproveOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, "approve order", h.service.ApproveOrder)
}

// AdminRejectOrder отклоняет заявку.
func (h *Handler) AdminRejectOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, "reject order", h.service.RejectOrder)
}

// AdminCancelOrder отменяет открытую цель.
func (h *Handler) AdminCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, "cancel order", h.service.CancelOrder)
}

// AdminApproveWithdrawal подтверждает вывод средств.
func (h *Handler) AdminApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, "approve withdrawal", h.service.ApproveWithdrawal)
}

// AdminDenyWithdrawal отклоняет вывод средств.
func (h *Handler) AdminDenyWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, "deny withdrawal", h.service.DenyWithdrawal)
}

type depositRequest struct {
	Amount      int64     `json:"amount"`
	Note        string    `json:"note"`
	EffectiveAt time.Time `json:"effective_at"`
}

// AdminRecordDeposit записывает ручной депозит.
func (h *Handler) AdminRecordDeposit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	if !validation.IsValidAmount(req.Amount) {
		writeError(w, http.StatusUnprocessableEntity, "amount must be a positive number of ISK")
		return
	}

	d, err := h.service.RecordDeposit(r.Context(), p, id, service.DepositInput{
		Amount:      req.Amount,
		Note:        req.Note,
		EffectiveAt: req.EffectiveAt,
	})
	if err != nil {
		h.fail(w, r, "record deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeposit(*d))
}

type accrualResponse struct {
	OrderID   int64  `json:"order_id"`
	Periods   int    `json:"periods"`
	Interest  int64  `json:"interest"`
	Completed bool   `json:"completed"`
	Error     string `json:"error,omitempty"`
}

func toAccrual(o service.AccrualOutcome) accrualResponse {
	resp := accrualResponse{
		OrderID:   o.OrderID,
		Periods:   o.Periods,
		Interest:  o.Interest,
		Completed: o.Completed,
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	return resp
}

// AdminAccrueOrder начисляет проценты по одной цели.
func (h *Handler) AdminAccrueOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	out, err := h.service.AccrueOrder(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, "accrue order", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrual(out))
}

// AdminAccrueAll начисляет проценты по всем активным целям.
func (h *Handler) AdminAccrueAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.service.AccrueAll(r.Context())
	if err != nil {
		h.fail(w, r, "accrue all", err)
		return
	}

	resp := make([]accrualResponse, 0, len(outcomes))
	for _, o := range outcomes {
		resp = append(resp, toAccrual(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminSyncWallet запускает сверку с журналом кошелька.
func (h *Handler) AdminSyncWallet(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SyncWallet(r.Context())
	if err != nil {
		h.logger.Warn("manual wallet sync failed", zap.Error(err))
		writeJSON(w, statusFor(service.KindOf(err)), report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type transactionResponse struct {
	ID         string `json:"id"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason,omitempty"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	OrderID    *int64 `json:"order_id,omitempty"`
}

// AdminListUnmatched возвращает транзакции, ожидающие ручного разбора.
func (h *Handler) AdminListUnmatched(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	txs, err := h.service.ListUnmatched(r.Context(), p)
	if err != nil {
		h.fail(w, r, "list unmatched", err)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse{
			ID:         tx.ID,
			SenderID:   tx.SenderID,
			SenderName: tx.SenderName,
			Amount:     tx.Amount,
			Reason:     tx.Reason,
			Date:       formatTime(tx.Date),
			Status:     string(tx.Status),
			OrderID:    tx.OrderID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type assignRequest struct {
	OrderID int64 `json:"order_id"`
}

// AdminAssignTransaction относит неразобранную транзакцию к цели.
func (h *Handler) AdminAssignTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	d, err := h.service.AssignTransaction(r.Context(), p, chi.URLParam(r, "txID"), req.OrderID)
	if err != nil {
		h.fail(w, r, "assign transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeposit(*d))
}

// AdminIgnoreTransaction помечает транзакцию как проигнорированную.
func (h *Handler) AdminIgnoreTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.service.IgnoreTransaction(r.Context(), p, chi.URLParam(r, "txID")); err != nil {
		h.fail(w, r, "ignore transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsPayload struct {
	InterestRate    string `json:"interest_rate"`
	AccrualPeriod   string `json:"accrual_period"`
	ConversionRatio string `json:"conversion_ratio"`
}

func toSettings(s model.Settings) settingsPayload {
	return settingsPayload{
		InterestRate:    s.InterestRate.String(),
		AccrualPeriod:   string(s.Period),
		ConversionRatio: s.ConversionRatio.String(),
	}
}

// AdminGetSettings возвращает действующие настройки начисления.
func (h *Handler) AdminGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.fail(w, r, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettings(s))
}

// AdminUpdateSettings изменяет настройки начисления. Пустые поля не меняются.
func (h *Handler) AdminUpdateSettings(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req settingsPayload
	if !decode(w, r, &req) {
		return
	}

	s, err := h.service.UpdateSettings(r.Context(), p, service.SettingsInput{
		InterestRate:    req.InterestRate,
		AccrualPeriod:   req.AccrualPeriod,
		ConversionRatio: req.ConversionRatio,
	})
	if err != nil {
		h.fail(w, r, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettings(s))
}

type distributeRequest struct {
	Dollars string `json:"dollars"`
}

// AdminDistribute распределяет долларовый бонус по активным целям.
func (h *Handler) AdminDistribute(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req distributeRequest
	if !decode(w, r, &req) {
		return
	}
	dollars, ok := validation.ParseDollars(req.Dollars)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "dollars must be a positive amount with at most two decimals")
		return
	}

	res, err := h.service.DistributeBonus(r.Context(), p, dollars)
	if err != nil {
		h.fail(w, r, "distribute bonus", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type catalogItemRequest struct {
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Category  string `json:"category"`
	ImageRef  string `json:"image_ref"`
	Available *bool  `json:"available"`
}

// AdminAddCatalogItem добавляет позицию каталога.
func (h *Handler) AdminAddCatalogItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req catalogItemRequest
	if !decode(w, r, &req) {
		return
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}
	item, err := h.service.AddCatalogItem(r.Context(), p, model.CatalogItem{
		Name:      req.Name,
		Price:     req.Price,
		Category:  req.Category,
		ImageRef:  req.ImageRef,
		Available: available,
	})
	if err != nil {
		h.fail(w, r, "add catalog item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCatalogItem(*item))
}
