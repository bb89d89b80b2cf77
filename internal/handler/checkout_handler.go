package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/checkout"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/payment"
)

// CheckoutService はチェックアウトハンドラーが必要とするOrchestratorの操作。
type CheckoutService interface {
	Checkout(ctx context.Context, provider payment.Provider) (*checkout.Attempt, error)
	OrderHistory(ctx context.Context) ([]model.Order, error)
	LookupOrder(ctx context.Context, orderID string) (model.Order, error)
}

// ProviderResolver はリクエストで指定された決済プロバイダーを返す。
// referenceはプロバイダーが発行済みの支払い参照（参照型プロバイダーの場合のみ）。
type ProviderResolver func(provider, reference string) (payment.Provider, error)

// CheckoutHandler は購入手続きと注文履歴のビューを提供する。
type CheckoutHandler struct {
	checkout  CheckoutService
	providers ProviderResolver
}

// NewCheckoutHandler はCheckoutHandlerを生成する。
func NewCheckoutHandler(svc CheckoutService, providers ProviderResolver) *CheckoutHandler {
	return &CheckoutHandler{checkout: svc, providers: providers}
}

type checkoutRequest struct {
	Provider   string `json:"provider"`
	PaymentRef string `json:"payment_ref"`
}

// Checkout はカートから注文を作成して支払いを確定する。
// POST /view/checkout
//
// 試行が開始される前の失敗（未ログイン、空のカートなど）は統一エラーフォーマットで返す。
// 試行が開始された後の失敗は、エラーを含む試行のビューを対応するステータスで返す。
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	provider, err := h.providers(req.Provider, req.PaymentRef)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	attempt, err := h.checkout.Checkout(r.Context(), provider)
	if err != nil {
		var apiErr *model.APIError
		if attempt == nil || attempt.State() == model.CheckoutStateIdle || !errors.As(err, &apiErr) {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, mapAPIErrorToHTTPStatus(apiErr), toAttemptView(attempt, apiErr))
		return
	}
	writeJSON(w, http.StatusOK, toAttemptView(attempt, nil))
}

// ListOrders は注文履歴を返す。
// GET /view/orders
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.checkout.OrderHistory(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

// GetOrder は注文を1件返す。
// GET /view/orders/{id}
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.LookupOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}
