package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/security"
)

// CatalogService は商品ハンドラーが必要とするストアAPIの操作。
type CatalogService interface {
	ListProducts(ctx context.Context, category string) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (model.Product, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
}

// ProductHandler は商品一覧・詳細のビューを提供する。
// 説明文は販売者の入力のため、返す前にサニタイズする。
type ProductHandler struct {
	catalog   CatalogService
	sanitizer security.DescriptionSanitizer
}

// NewProductHandler はProductHandlerを生成する。
func NewProductHandler(catalog CatalogService, sanitizer security.DescriptionSanitizer) *ProductHandler {
	return &ProductHandler{catalog: catalog, sanitizer: sanitizer}
}

// List は商品一覧を返す。?category= で絞り込む。非公開の商品は含めない。
// GET /view/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	views := make([]productView, 0, len(products))
	for _, p := range products {
		if !p.IsActive {
			continue
		}
		views = append(views, h.toProductView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": views})
}

// Get は商品詳細を返す。
// GET /view/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("product_id", "必須です"))
		return
	}
	p, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toProductView(p))
}

// Categories はカテゴリ一覧を返す。
// GET /view/categories
func (h *ProductHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	views := make([]categoryView, 0, len(categories))
	for _, c := range categories {
		views = append(views, categoryView{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": views})
}

func (h *ProductHandler) toProductView(p model.Product) productView {
	return productView{
		ID:          p.ID,
		Title:       p.Title,
		Description: h.sanitizer.Sanitize(p.Description),
		Price:       p.Price.StringFixed(2),
		Category:    p.Category,
		CoverImage:  p.CoverImage,
	}
}
