package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/shipsavings/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса накоплений.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger, h.metrics))

	r.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.With(custommiddleware.RequireGatewayKey(h.gatewayKey)).Post("/session", h.CreateSession)
		r.Delete("/session", h.DeleteSession)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/catalog", h.GetCatalog)
			r.Get("/leaderboard", h.GetLeaderboard)

			r.Post("/orders", h.RequestOrder)
			r.Get("/orders", h.GetOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/withdraw", h.RequestWithdrawal)
			r.Post("/orders/{id}/visibility", h.SetVisibility)

			r.Get("/notifications", h.GetNotifications)
			r.Post("/notifications/read", h.MarkNotificationsRead)

			r.Route("/admin", func(r chi.Router) {
				r.Use(custommiddleware.RequireAdmin)

				r.Get("/orders", h.AdminListOrders)
				r.Post("/orders", h.AdminCreateOrder)
				r.Put("/orders/{id}", h.AdminUpdateOrder)
				r.Post("/orders/{id}/approve", h.AdminApproveOrder)
				r.Post("/orders/{id}/reject", h.AdminRejectOrder)
				r.Post("/orders/{id}/cancel", h.AdminCancelOrder)
				r.Post("/orders/{id}/withdrawal/approve", h.AdminApproveWithdrawal)
				r.Post("/orders/{id}/withdrawal/deny", h.AdminDenyWithdrawal)
				r.Post("/orders/{id}/deposits", h.AdminRecordDeposit)
				r.Post("/orders/{id}/accrue", h.AdminAccrueOrder)

				r.Post("/accrual/run", h.AdminAccrueAll)

				r.Post("/wallet/sync", h.AdminSyncWallet)
				r.Get("/wallet/unmatched", h.AdminListUnmatched)
				r.Post("/wallet/unmatched/{txID}/assign", h.AdminAssignTransaction)
				r.Post("/wallet/unmatched/{txID}/ignore", h.AdminIgnoreTransaction)

				r.Get("/settings", h.AdminGetSettings)
				r.Put("/settings", h.AdminUpdateSettings)

				r.Post("/distributions", h.AdminDistribute)
				r.Post("/catalog", h.AdminAddCatalogItem)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
