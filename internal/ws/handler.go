package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/wayfare/internal/auth"
	"github.com/PaulBabatuyi/wayfare/internal/chat"
	"github.com/PaulBabatuyi/wayfare/internal/metrics"
	"github.com/PaulBabatuyi/wayfare/internal/middleware"
)

// TokenVerifier validates the access token presented on the handshake.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// Handler upgrades authenticated requests and runs the connection pumps.
type Handler struct {
	coord    *chat.Coordinator
	verifier TokenVerifier
	limiter  *middleware.LimiterStore
	metrics  *metrics.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// Option configures a Handler.
type Option func(*Handler)

// WithLimiter throttles inbound events per user.
func WithLimiter(l *middleware.LimiterStore) Option { return func(h *Handler) { h.limiter = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }
func WithLogger(l zerolog.Logger) Option { return func(h *Handler) { h.log = l } }

// WithCheckOrigin replaces the default origin check, which accepts any origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// NewHandler returns the /ws endpoint.
func NewHandler(coord *chat.Coordinator, verifier TokenVerifier, opts ...Option) *Handler {
	h := &Handler{
		coord:    coord,
		verifier: verifier,
		log:      zerolog.Nop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// mobile clients send no Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP authenticates with ?token= or an Authorization bearer header,
// since browsers cannot set headers on the handshake. It blocks until the
// connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.verifier.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("user_id", claims.UserID).Msg("upgrade failed")
		return
	}

	// in-flight events finish after the peer goes away
	ctx := context.WithoutCancel(r.Context())

	client := newClient(conn, claims.UserID, h.log)
	h.coord.Connect(ctx, chat.Session{UserID: claims.UserID, Conn: client})
	h.log.Debug().Str("user_id", claims.UserID).Msg("connected")

	go client.writePump()
	client.readPump(ctx, h.coord, h.limiter, h.metrics)
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
