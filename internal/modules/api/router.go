package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/trading", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Get("/trades", h.GetTrades)
		r.Get("/performance", h.GetPerformance)
		r.Get("/trade-channels", h.GetTradeChannels)
		r.Get("/active", h.GetActive)

		r.Get("/settings", h.GetSettings)
		r.Post("/settings", h.PostSettings)

		r.Post("/simulate", h.PostSimulate)
		r.Post("/sync", h.PostSync)

		r.Get("/channels", h.ListFormats)
		r.Post("/channels", h.CreateFormat)
		r.Post("/channels/test", h.TestFormat)
		r.Put("/channels/{id}", h.UpdateFormat)
		r.Delete("/channels/{id}", h.DeleteFormat)
	})
	return r
}
