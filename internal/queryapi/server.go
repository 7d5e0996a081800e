package queryapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/crestdata/ingest-pipeline/internal/authorizer"
	"github.com/crestdata/ingest-pipeline/internal/metrics"
)

// Store is the repository surface the handlers need. *Repository satisfies
// it; tests substitute mocks.
type Store interface {
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	UpdateCustomer(ctx context.Context, id int64, fields map[string]string) error
}

// TokenChecker validates the Authorization header. *authorizer.Authorizer
// satisfies it.
type TokenChecker interface {
	Authorize(ctx context.Context, rawToken any, methodArn string) (authorizer.Decision, error)
}

// Server routes record queries and updates, gated by the token authorizer.
type Server struct {
	store Store
	auth  TokenChecker
	log   *slog.Logger
}

func NewServer(store Store, auth TokenChecker) *Server {
	return &Server{
		store: store,
		auth:  auth,
		log:   slog.With("component", "queryapi"),
	}
}

// Handler builds the route table. Every route passes through the
// authorization middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)
	r.HandleFunc("/records", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/records", s.handlePut).Methods(http.MethodPut)
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := r.Method + " " + r.URL.Path
		decision, err := s.auth.Authorize(r.Context(), r.Header.Get("Authorization"), resource)
		if err != nil {
			s.log.Error("authorization check failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "authorization unavailable")
			return
		}
		if !decision.Allowed() {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customerID := q.Get("customer_id")
	orderID := q.Get("order_id")

	switch {
	case customerID != "" && orderID != "":
		s.writeError(w, http.StatusBadRequest, "supply customer_id or order_id, not both")
	case customerID != "":
		id, err := strconv.ParseInt(customerID, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "customer_id must be an integer")
			return
		}
		c, err := s.store.GetCustomer(r.Context(), id)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, c)
	case orderID != "":
		id, err := strconv.ParseInt(orderID, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "order_id must be an integer")
			return
		}
		o, err := s.store.GetOrder(r.Context(), id)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, o)
	default:
		s.writeError(w, http.StatusBadRequest, "customer_id or order_id required")
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	rawID, ok := body["customer_id"]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "customer_id required")
		return
	}
	idNum, ok := rawID.(float64)
	if !ok || idNum != float64(int64(idNum)) {
		s.writeError(w, http.StatusBadRequest, "customer_id must be an integer")
		return
	}
	id := int64(idNum)
	delete(body, "customer_id")

	fields, err := filterUpdate(body)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoUpdatableFields):
			s.writeError(w, http.StatusBadRequest, "no updatable fields")
		case errors.Is(err, ErrInvalidField):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if err := s.store.UpdateCustomer(r.Context(), id, fields); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("customer %d not found", id))
		case errors.Is(err, ErrNoUpdatableFields), errors.Is(err, ErrInvalidField):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error("update failed", "customer_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": id,
		"updated":     true,
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("lookup failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if m := metrics.Get(); m != nil {
		m.APIResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
