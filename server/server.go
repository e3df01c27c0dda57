package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	x402 "github.com/agentverse/fortune-x402"
)

// Server is the fortune service: the x402-gated interpretation route,
// the free route, the hosted-checkout routes, health and metrics.
type Server struct {
	cfg     *Config
	log     *logrus.Logger
	metrics *Metrics
	httpSrv *http.Server
}

// New assembles the service from config
func New(cfg *Config, log *logrus.Logger) *Server {
	metrics := NewMetrics()

	completer := NewOpenAICompleter(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
	if completer == nil {
		log.Warn("no AI key configured, fortunes will use static verses")
	}
	generator := NewGenerator(completer, log, metrics)

	commerce := NewCommerceClient(cfg.CommerceBaseURL, cfg.CommerceAPIKey)
	fortune := NewFortuneService(generator, commerce, cfg.CommercePriceUSD, log, metrics)
	gate := NewPaymentMiddleware(cfg, log, metrics)

	mux := http.NewServeMux()
	mux.Handle("POST /api/fortune/interpret", gate.Wrap(http.HandlerFunc(fortune.HandleInterpret)))
	mux.HandleFunc("POST /api/fortune/interpret-free", fortune.HandleInterpretFree)
	mux.HandleFunc("POST /api/commerce/create-charge", fortune.HandleCreateCharge)
	mux.HandleFunc("POST /api/fortune/interpret-commerce", fortune.HandleInterpretCommerce)
	mux.HandleFunc("GET /api/health", healthHandler(cfg, gate))
	mux.Handle("GET /metrics", metrics.Handler())

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		httpSrv: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           withCORS(withRequestLog(log, mux)),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start runs the HTTP server until it fails or is shut down
func (s *Server) Start() error {
	s.log.WithFields(logrus.Fields{
		"port":    s.cfg.Port,
		"network": s.cfg.Network,
	}).Info("fortune server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the full route tree, used by tests
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func healthHandler(cfg *Config, gate *PaymentMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facilitator := "local"
		if cfg.FacilitatorURL != "" {
			facilitator = "remote"
		}

		ready, gateErr := gate.Ready()
		health := map[string]any{
			"status":              "ok",
			"network":             cfg.Network,
			"x402_ready":          ready,
			"facilitator":         facilitator,
			"commerce_configured": cfg.CommerceAPIKey != "",
			"ai_configured":       cfg.AIAPIKey != "",
		}
		if gateErr != "" {
			health["x402_error"] = gateErr
		}
		writeJSON(w, http.StatusOK, health)
	}
}

// withCORS allows browser clients to reach the API and to read the
// payment headers off responses
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+x402.PaymentHeader)
		h.Set("Access-Control-Expose-Headers", x402.PaymentResponseHeader+", "+x402.PaymentRequirementsHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withRequestLog(log *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
