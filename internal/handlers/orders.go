package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stitchline/api/internal/platform/auth"
	"github.com/stitchline/api/internal/platform/httpx"
	"github.com/stitchline/api/internal/repositories"
	"github.com/stitchline/api/internal/services"
)

const (
	maxPlaceOrderBodySize  = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
	placeOrderRateWindow   = time.Minute
	placeOrderRateLimit    = 10
)

type placeOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items            []placeOrderItemRequest `json:"items"`
	ShippingAddress  addressPayload          `json:"shipping_address"`
	ShippingPrice    int64                   `json:"shipping_price"`
	PaymentMethod    string                  `json:"payment_method"`
	PaymentCaptureID string                  `json:"payment_capture_id"`
	PayerEmail       string                  `json:"payer_email"`
	VoucherID        *string                 `json:"voucher_id"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	authn           *auth.Authenticator
	orders          services.OrderService
	checkout        services.CheckoutService
	placeLimiter    rateLimiter
	restockOnCancel bool
}

// OrderHandlersOption customises OrderHandlers construction.
type OrderHandlersOption func(*OrderHandlers)

// WithRestockOnCancel controls whether customer cancellations release the
// order's stock reservation.
func WithRestockOnCancel(enabled bool) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.restockOnCancel = enabled
	}
}

// WithPlaceOrderRateLimiter overrides the per-user limiter guarding order
// placement.
func WithPlaceOrderRateLimiter(limiter rateLimiter) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.placeLimiter = limiter
	}
}

// WithPlaceOrderRateLimit replaces the default place-order limiter with a
// fixed-window limiter of the given size. A non-positive limit disables
// throttling.
func WithPlaceOrderRateLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.placeLimiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:        authn,
		orders:       orders,
		checkout:     checkout,
		placeLimiter: newSimpleRateLimiter(placeOrderRateLimit, placeOrderRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.placeLimiter != nil && !h.placeLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order attempts, retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxPlaceOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]services.PlaceOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.PlaceOrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Size:      strings.TrimSpace(item.Size),
			Quantity:  item.Quantity,
		})
	}

	cmd := services.PlaceOrderCommand{
		UserID:           strings.TrimSpace(identity.UID),
		Items:            items,
		ShippingAddress:  req.ShippingAddress.toAddress(),
		ShippingPrice:    req.ShippingPrice,
		PaymentMethod:    services.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		PaymentCaptureID: strings.TrimSpace(req.PaymentCaptureID),
		PayerEmail:       strings.TrimSpace(req.PayerEmail),
		VoucherID:        req.VoucherID,
	}

	order, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
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

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
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
		Restock: h.restockOnCancel,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	Number          string                `json:"number"`
	UserRef         string                `json:"user_ref"`
	Status          string                `json:"status"`
	PaymentMethod   string                `json:"payment_method"`
	Items           []orderItemPayload    `json:"items"`
	ShippingPrice   int64                 `json:"shipping_price"`
	TotalPrice      int64                 `json:"total_price"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	Payment         *paymentResultPayload `json:"payment,omitempty"`
	VoucherRef      *string               `json:"voucher_ref,omitempty"`
	ReservationRef  *string               `json:"reservation_ref,omitempty"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
	DoneAt          string                `json:"done_at,omitempty"`
	FailedAt        string                `json:"failed_at,omitempty"`
}

type orderItemPayload struct {
	ProductRef string `json:"product_ref"`
	SKU        string `json:"sku"`
	Name       string `json:"name,omitempty"`
	Size       string `json:"size"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Subtotal   int64  `json:"subtotal"`
}

type paymentResultPayload struct {
	CaptureID  string `json:"capture_id,omitempty"`
	Paid       bool   `json:"paid"`
	Email      string `json:"email,omitempty"`
	UpdateTime string `json:"update_time,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Number:          order.Number,
		UserRef:         order.UserRef,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingPrice:   order.ShippingPrice,
		TotalPrice:      order.TotalPrice,
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		VoucherRef:      cloneStringPointer(order.VoucherRef),
		ReservationRef:  cloneStringPointer(order.ReservationRef),
		CancelReason:    cloneStringPointer(order.CancelReason),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		DoneAt:          formatTime(pointerTime(order.DoneAt)),
		FailedAt:        formatTime(pointerTime(order.FailedAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			Size:       item.Size,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Subtotal:   item.Subtotal(),
		})
	}

	if order.PaymentResult != nil {
		payload.Payment = &paymentResultPayload{
			CaptureID:  order.PaymentResult.CaptureID,
			Paid:       order.PaymentResult.Paid,
			Email:      order.PaymentResult.Email,
			UpdateTime: formatTime(order.PaymentResult.UpdateTime),
		}
	}

	return payload
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderAlreadyFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("order_finalized", "order is already finalized", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentRequired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_required", "paypal orders require a payment capture id", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, stockError(err, "insufficient_stock", "requested quantity exceeds available stock", http.StatusConflict))
	case errors.Is(err, services.ErrInventoryProductNotFound):
		httpx.WriteError(ctx, w, stockError(err, "product_not_found", "product does not exist", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInventorySizeNotFound):
		httpx.WriteError(ctx, w, stockError(err, "size_not_found", "product does not carry the requested size", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrVoucherNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_found", "voucher does not exist", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrVoucherNotYetActive):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_yet_active", "voucher window has not opened", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrVoucherExpired):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_expired", "voucher window has closed", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrVoucherInactive):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_inactive", "voucher is disabled", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "order could not be persisted, retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to place order", http.StatusInternalServerError))
	}
}

// stockError enriches stock failures with the offending counter when the
// repository error carries it.
func stockError(err error, code, message string, status int) httpx.Error {
	httpErr := httpx.NewError(code, message, status)
	var catalogErr *repositories.CatalogError
	if errors.As(err, &catalogErr) {
		details := map[string]any{}
		if catalogErr.ProductID != "" {
			details["product_id"] = catalogErr.ProductID
		}
		if catalogErr.Size != "" {
			details["size"] = catalogErr.Size
		}
		if len(details) > 0 {
			httpErr = httpErr.WithDetails(details)
		}
	}
	return httpErr
}
