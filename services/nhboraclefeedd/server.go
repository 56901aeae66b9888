package nhboraclefeedd

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Server exposes nhboraclefeedd's own HTTP surface: an operator-facing
// /push endpoint that kicks an immediate poll-and-submit cycle, gated by a
// bearer token distinct from the one nhboraclefeedd itself presents to the
// chain's RPC. This is purely a convenience trigger for external callers;
// the scheduled poll loop (see main.go) never needs it.
type Server struct {
	feeder *Feeder
	secret []byte
	issuer string
	logger *log.Logger
}

// NewServer constructs the HTTP handler for nhboraclefeedd.
func NewServer(cfg Config, feeder *Feeder, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		feeder: feeder,
		secret: []byte(cfg.PushAuthHMACSecret),
		issuer: cfg.PushAuthIssuer,
		logger: logger,
	}
}

// Router builds the chi mux for the daemon.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(s.requireBearer).Post("/push", s.handlePush)
	return r
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			http.Error(w, "push auth not configured", http.StatusServiceUnavailable)
			return
		}
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !parsed.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if s.issuer != "" {
			if iss, _ := claims["iss"].(string); iss != s.issuer {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type pushResponse struct {
	Pushed int      `json:"pushed"`
	Errors []string `json:"errors,omitempty"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pushed, errs := s.feeder.PollAndPushAll(ctx)
	resp := pushResponse{Pushed: pushed}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
		s.logger.Printf("nhboraclefeedd: push failed: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	if len(errs) > 0 && pushed == 0 {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
