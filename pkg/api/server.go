// Relay - operations API server
// Serves health, status and metrics endpoints, webhook intake and a WebSocket
// feed of live relay events.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/templates"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
	"github.com/liker0704/telegram-signals-parisng/pkg/metrics"
)

// StatusProvider reports the live state of the relay. app.Container implements it.
type StatusProvider interface {
	Status(ctx context.Context) map[string]interface{}
}

// Config configures the HTTP listener.
type Config struct {
	Addr        string
	Token       string   // empty generates a session token at startup
	CORSOrigins []string // empty allows localhost only
}

// Deps are the services the API exposes.
type Deps struct {
	Status    StatusProvider
	Bus       *bus.MessageBus
	Reporter  channels.Reporter   // optional; counts webhook intake
	Templates *templates.Registry // optional
}

// Server is the HTTP API server for the relay.
type Server struct {
	cfg       Config
	deps      Deps
	wsHub     *WSHub
	bridge    *EventBridge
	startTime time.Time
	server    *http.Server
}

// NewServer creates a new API server instance.
func NewServer(cfg Config, deps Deps) *Server {
	// Secure-by-default: generate a session token if none is configured.
	if cfg.Token == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.Token = hex.EncodeToString(raw)
			logger.WarnCF("api", "No API token configured, generated a session token", map[string]interface{}{
				"token": cfg.Token,
				"hint":  "set RELAY_API_TOKEN to make it permanent",
			})
		}
	}
	if deps.Reporter == nil {
		deps.Reporter = channels.NopReporter{}
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		startTime: time.Now(),
	}
	s.wsHub = NewWSHub(s)
	s.bridge = NewEventBridge(deps.Bus, s.wsHub)
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.Token))

		r.Get("/api/status", s.handleStatus)
		r.Get("/api/system/info", s.handleSystemInfo)
		r.Get("/api/templates", s.handleListTemplates)
		r.Post("/api/webhook/{source}", s.handleWebhook)
		r.Get("/api/ws", s.wsHub.HandleWebSocket)
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.CORSOrigins) > 0 {
		return s.cfg.CORSOrigins
	}
	return []string{"http://localhost*", "http://127.0.0.1*", "https://localhost*", "https://127.0.0.1*"}
}

// Start begins listening on the configured address. It returns once the
// listener is running; ctx bounds the WebSocket hub and the event bridge.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.InfoCF("api", "API server starting", map[string]interface{}{
		"addr": s.cfg.Addr,
	})

	go s.wsHub.Run(ctx)
	if s.deps.Bus != nil {
		s.bridge.Run(ctx)
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			logger.DebugCF("api", "Request completed", map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"latency":    time.Since(start).String(),
				"request_id": chimw.GetReqID(r.Context()),
			})
		}()
		next.ServeHTTP(ww, r)
	})
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{}
	if s.deps.Status != nil {
		status = s.deps.Status.Status(r.Context())
	}
	status["uptime_human"] = formatDuration(time.Since(s.startTime))
	status["ws_clients"] = s.wsHub.ClientCount()
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":   hostname,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
		"memory_mb":  float64(m.Alloc) / 1024 / 1024,
		"sys_mb":     float64(m.Sys) / 1024 / 1024,
		"gc_cycles":  m.NumGC,
		"addr":       s.cfg.Addr,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.DebugCF("api", "Response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
