/**
 * @description
 * This file sets up the HTTP router for the ATM service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * logging, recovery, CORS and authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and returns the router for the ATM service.
func NewRouter(h *Handlers, internalKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthHandler)

	r.Post("/sessions", h.LoginHandler)
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(h.tokens))

		r.Delete("/sessions", h.LogoutHandler)
		r.Get("/account", h.BalanceHandler)
		r.Get("/account/history", h.HistoryHandler)
		r.Post("/account/withdraw", h.WithdrawHandler)
		r.Post("/account/deposit", h.DepositHandler)
		r.Post("/account/transfer", h.TransferHandler)
		r.Post("/account/pin", h.ChangePINHandler)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/sessions", h.AdminLoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(internalKey, h.tokens))

			r.Get("/accounts", h.ListAccountsHandler)
			r.Post("/accounts", h.CreateAccountHandler)
			r.Get("/accounts/{card}", h.GetAccountHandler)
			r.Delete("/accounts/{card}", h.DeleteAccountHandler)
			r.Put("/accounts/{card}/balance", h.SetBalanceHandler)
			r.Post("/accounts/{card}/pin-reset", h.ResetPINHandler)
			r.Get("/accounts/{card}/history", h.AccountHistoryHandler)
			r.Post("/transfers", h.AdminTransferHandler)
			r.Get("/cash", h.GetCashHandler)
			r.Put("/cash", h.SetCashHandler)
		})
	})

	return r
}
