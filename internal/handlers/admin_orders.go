package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stitchline/api/internal/platform/auth"
	"github.com/stitchline/api/internal/platform/httpx"
	"github.com/stitchline/api/internal/services"
)

// AdminOrderHandlers exposes the back-office order lifecycle endpoints.
// Accepting, force-failing, and completing orders are staff operations.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the admin order endpoints under the mounted group.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Route("/orders", func(orders chi.Router) {
		orders.Get("/{orderID}", h.getOrder)
		orders.Post("/{orderID}:accept", h.acceptOrder)
		orders.Post("/{orderID}:cancel", h.cancelOrder)
		orders.Post("/{orderID}:complete", h.completeOrder)
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireOrderRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) acceptOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireOrderRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Accept(ctx, services.AcceptOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireOrderRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason  string `json:"reason"`
		Restock bool   `json:"restock"`
	}
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
		Restock: req.Restock,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, ok := h.requireOrderRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Complete(ctx, services.CompleteOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) requireOrderRequest(w http.ResponseWriter, r *http.Request) (*auth.Identity, string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, "", false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return nil, "", false
	}
	return identity, orderID, true
}
