package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/handlers"
)

// NewRouter registers every route on a fresh router
func NewRouter(handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Staff query surface
	router.HandleFunc("/handoff-alerts", handler.ListAlerts).Methods("GET")
	router.HandleFunc("/handoff-alerts/unread-count", handler.UnreadCount).Methods("GET")
	router.HandleFunc("/handoff-alerts/mark-all-read", handler.MarkAllRead).Methods("POST")
	router.HandleFunc("/handoff-alerts/{id}/read", handler.MarkRead).Methods("POST")

	// Conversation pipeline
	router.HandleFunc("/conversations/{id}/messages", handler.IngestMessage).Methods("POST")
	router.HandleFunc("/conversations/{id}/resolve", handler.ResolveConversation).Methods("POST")

	router.HandleFunc("/health", handler.Health).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	router.Use(loggingMiddleware(logger))

	return router
}

func NewHTTPServer(port string, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(handler, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration":    time.Since(start),
				"remote":      r.RemoteAddr,
				"merchant_id": r.Header.Get(handlers.MerchantHeader),
			}).Debug("HTTP request processed")
		})
	}
}
