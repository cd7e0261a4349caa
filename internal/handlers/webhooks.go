package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stitchline/api/internal/platform/httpx"
	"github.com/stitchline/api/internal/services"
)

const maxPaymentWebhookBodySize = 32 * 1024

type paymentCaptureNotification struct {
	OrderID    string `json:"order_id"`
	CaptureID  string `json:"capture_id"`
	Status     string `json:"status"`
	PayerEmail string `json:"payer_email"`
	UpdateTime string `json:"update_time"`
}

// PaymentWebhookHandlers receives payment provider notifications. Request
// authenticity is enforced upstream by the HMAC middleware on the webhook
// group.
type PaymentWebhookHandlers struct {
	orders services.OrderService
}

// NewPaymentWebhookHandlers constructs a new PaymentWebhookHandlers instance.
func NewPaymentWebhookHandlers(orders services.OrderService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/paypal", h.paypalCapture)
}

func (h *PaymentWebhookHandlers) paypalCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPaymentWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var notification paymentCaptureNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(notification.OrderID)
	captureID := strings.TrimSpace(notification.CaptureID)
	if orderID == "" || captureID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id and capture_id are required", http.StatusBadRequest))
		return
	}

	var capturedAt time.Time
	if raw := strings.TrimSpace(notification.UpdateTime); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "update_time must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		capturedAt = parsed
	}

	order, err := h.orders.RecordPaymentCapture(ctx, services.RecordPaymentCaptureCommand{
		OrderID:    orderID,
		CaptureID:  captureID,
		Paid:       strings.EqualFold(strings.TrimSpace(notification.Status), "completed"),
		Email:      strings.TrimSpace(notification.PayerEmail),
		CapturedAt: capturedAt,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	paid := order.PaymentResult != nil && order.PaymentResult.Paid
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"order_id": order.ID,
		"status":   string(order.Status),
		"paid":     paid,
	})
}
