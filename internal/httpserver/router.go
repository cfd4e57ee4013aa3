package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"textonly/internal/config"
	"textonly/internal/domain"
	"textonly/internal/presence"
	"textonly/internal/security"
	"textonly/internal/service"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Tokens   *security.TokenService
	Users    domain.UserRepository
	Messages *service.MessageService
	Channels *service.ChannelService
	Presence *presence.Registry
	Live     http.Handler // WebSocket endpoint
	Metrics  http.Handler // nil disables /metrics
	Logger   *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	// Long-lived; kept outside the request timeout.
	if d.Live != nil {
		r.Handle("/ws", d.Live)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(d.Tokens, d.Users, log))

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", handleSendDirect(d.Messages))
			r.Get("/unread", handleUnread(d.Messages))
			r.Get("/conversation/{otherUserID}", handleConversation(d.Messages))
			r.Patch("/{messageID}/read", handleMarkRead(d.Messages))
		})

		r.Route("/channels", func(r chi.Router) {
			r.Post("/", handleCreateChannel(d.Channels))
			r.Get("/{channelID}", handleGetChannel(d.Channels))
			r.Post("/{channelID}/messages", handleSendChannel(d.Messages))
			r.Get("/{channelID}/messages", handleChannelHistory(d.Messages))
		})

		r.Route("/users", func(r chi.Router) {
			r.Put("/me/status", handleSetOwnStatus(d.Presence))
			r.Get("/{userID}/status", handleGetStatus(d.Presence))
		})
	})

	return r
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// StatusFor maps a domain error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = domain.ErrInternal.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
