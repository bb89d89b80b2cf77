package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/cart"
)

// CartService はカートハンドラーが必要とするCart Synchronizerの操作。
type CartService interface {
	Fetch(ctx context.Context) error
	Add(ctx context.Context, productID string, quantity int) error
	Remove(ctx context.Context, productID string) error
	Snapshot() cart.Snapshot
}

// CartHandler はカートのビューを提供する。
type CartHandler struct {
	cart CartService
}

// NewCartHandler はCartHandlerを生成する。
func NewCartHandler(cart CartService) *CartHandler {
	return &CartHandler{cart: cart}
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

// Get はカートキャッシュを返す。サーバーへは問い合わせない。
// GET /view/cart
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCartView(h.cart.Snapshot()))
}

// Refresh はサーバーからカートを再取得する。
// POST /view/cart/refresh
func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Fetch(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(h.cart.Snapshot()))
}

// AddItem は商品をカートに追加する。quantity省略時は1。
// POST /view/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if err := h.cart.Add(r.Context(), req.ProductID, quantity); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(h.cart.Snapshot()))
}

// RemoveItem は商品の行をカートから削除する。
// DELETE /view/cart/items/{productID}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Remove(r.Context(), chi.URLParam(r, "productID")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(h.cart.Snapshot()))
}
