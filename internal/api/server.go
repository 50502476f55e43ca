// Package api exposes the ingest and backfill cores over HTTP: a Server
// struct holding its collaborators, a middleware chain, and one handler
// method per route.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/analytics-ingest/internal/backfill"
	"github.com/user/analytics-ingest/internal/errs"
	"github.com/user/analytics-ingest/internal/ingest"
	"github.com/user/analytics-ingest/internal/logging"
	"github.com/user/analytics-ingest/pkg/event"
)

// Server is the HTTP surface over the ingest handler and backfill
// service.
type Server struct {
	ingest   *ingest.Handler
	backfill *backfill.Service
	logger   logging.Logger
	jwtKey   []byte
	mux      *http.ServeMux
}

// NewServer wires routes onto a fresh ServeMux. jwtKey authenticates bearer
// tokens on every /api/ route except /healthz, /readyz, and /metrics. An
// empty jwtKey disables auth, for local development and tests.
func NewServer(ing *ingest.Handler, bf *backfill.Service, logger logging.Logger, jwtKey []byte) *Server {
	s := &Server{ingest: ing, backfill: bf, logger: logger, jwtKey: jwtKey, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/api/v1/events", s.handleIngest)
	s.mux.HandleFunc("/api/v1/backfill/start", s.handleBackfillStart)
	s.mux.HandleFunc("/api/v1/backfill/cancel", s.handleBackfillCancel)
	s.mux.HandleFunc("/api/v1/backfill/status", s.handleBackfillStatus)
	s.mux.HandleFunc("/api/v1/backfill/list", s.handleBackfillList)
	s.mux.HandleFunc("/api/v1/backfill/summary", s.handleBackfillSummary)
}

// ServeHTTP implements http.Handler, running every request through the
// recover, security-headers, and auth middleware before dispatch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.recoverMiddleware(s.securityHeadersMiddleware(s.authMiddleware(s.mux))).ServeHTTP(w, r)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("api: recovered from panic", "panic", rec, "path", r.URL.Path)
				s.jsonError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a valid bearer JWT on every /api/ route. Health and
// metrics endpoints stay open for orchestrators and scrapers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if len(s.jwtKey) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := extractBearer(r)
		if !ok {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := parseClaims(tokenString, s.jwtKey); err != nil {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

// parseClaims validates an HS256 session token against key.
func parseClaims(tokenString string, key []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

func (s *Server) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) jsonResponse(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload event.SessionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.jsonError(w, "invalid payload", http.StatusBadRequest)
		return
	}

	clientIP := clientIPFromRequest(r)
	result, err := s.ingest.Handle(r.Context(), payload, clientIP)
	if err != nil {
		s.handleIngestError(w, err)
		return
	}
	s.jsonResponse(w, result, http.StatusOK)
}

func clientIPFromRequest(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func (s *Server) handleIngestError(w http.ResponseWriter, err error) {
	s.logger.Error("api: ingest failed", "error", err)
	switch {
	case errors.Is(err, errs.ErrInvalidWorkspace):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errs.ErrTransientStore):
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
	default:
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	}
}
