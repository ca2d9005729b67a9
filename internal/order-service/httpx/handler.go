// Package httpx is the HTTP entry point for orders. POST /orders invokes
// the creation saga and blocks until its terminal outcome; the messaging
// entry point on command.input does the same job for queue-born requests.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jcortesdev/microcommerce/internal/coordinator"
	"github.com/jcortesdev/microcommerce/internal/order-service/app"
	"github.com/jcortesdev/microcommerce/internal/order-service/domain"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

type Handler struct {
	saga     *coordinator.Coordinator
	repo     app.Repository
	listener *app.Listener
}

func NewHandler(saga *coordinator.Coordinator, repo app.Repository, listener *app.Listener) *Handler {
	return &Handler{saga: saga, repo: repo, listener: listener}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/orders", h.Create)
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.Get)
	r.Put("/orders/{id}/status", h.UpdateStatus)
	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	items := make([]coordinator.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = coordinator.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	// The saga id doubles as the request's correlation trail in the log.
	sagaID := uuid.NewString()
	outcome := h.saga.CreateOrder(r.Context(), sagaID, coordinator.CreateRequest{
		ClientID:        req.ClientID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	})

	switch outcome.Status {
	case wire.StatusSuccess:
		writeJSON(w, http.StatusCreated, outcome.Order)
	case wire.StatusInsufficientStock:
		writeError(w, http.StatusConflict, "insufficient_stock", outcome.Message)
	default:
		writeError(w, http.StatusUnprocessableEntity, "order_rejected", outcome.Message)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.FindAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.repo.FindByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.listener.UpdateStatus(r.Context(), chi.URLParam(r, "id"), domain.Status(req.Status))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", "")
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	default:
		writeJSON(w, http.StatusOK, order)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
