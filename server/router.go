package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Cache is the part of the event cache the HTTP API drives.
type Cache interface {
	Put(key string, value string, cost int, ttlMillis int) bool
	Get(key string) (string, bool)
	Delete(key string)
	Touch(key string, ttlMillis int) bool
	Size() int
	Cost() int
	NextVictim() (string, time.Time, bool)
}

type Config struct {
	Logger *slog.Logger

	// Gatherer backs GET /metrics, the route is not mounted when nil
	Gatherer prometheus.Gatherer

	// RateLimit is the sustained requests per second allowed, 0 disables limiting
	RateLimit float64
	Burst     int
}

func NewRouter(c Cache, conf Config) http.Handler {
	logger := conf.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware())
	r.Use(RecoverMiddleware(logger))
	r.Use(AccessLogMiddleware(logger))
	if conf.RateLimit > 0 {
		burst := conf.Burst
		if burst <= 0 {
			burst = int(conf.RateLimit) + 1
		}
		r.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(conf.RateLimit), burst)))
	}

	r.Get("/health", healthHandler)
	if conf.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(conf.Gatherer, promhttp.HandlerOpts{}))
	}

	h := &cacheHandler{cache: c}
	h.mount(r)
	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
