package http

import (
	"net/http"
	"time"

	"PointsSettlement/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.PrepareOrder)
		r.Route("/{orderId}", func(r chi.Router) {
			r.Get("/", handler.GetOrder)
			r.Post("/finish", handler.FinishOrder)
			r.Post("/cancel", handler.CancelOrder)
			r.Post("/error", handler.HandleOrderError)
			r.Post("/tool-data", handler.UpdatePaymentToolData)
		})
	})
	r.Post("/operations", handler.StartOperation)
	r.Post("/settlement/callback", handler.SettlementCallback)

	return &Server{Router: r}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(), "request_id", middleware.GetReqID(r.Context()))
	})
}
