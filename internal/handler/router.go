package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/dreamsaver/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса накоплений.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/payments/webhook", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)
			r.Use(h.authMiddleware.Middleware)

			r.Route("/goals", func(r chi.Router) {
				r.Post("/", h.CreateGoal)
				r.Get("/", h.ListGoals)
				r.Post("/checkout", h.Checkout)

				r.Route("/{goalID}", func(r chi.Router) {
					r.Get("/", h.GetGoal)
					r.Delete("/", h.CancelGoal)
					r.Post("/activate", h.ActivateGoal)
					r.Post("/deposit", h.Deposit)
					r.Post("/confirm", h.ConfirmDeposit)
					r.Post("/redeem", h.RedeemGoal)
					r.Get("/refund-quote", h.RefundQuote)
				})
			})

			r.Get("/notifications", h.ListNotifications)
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
