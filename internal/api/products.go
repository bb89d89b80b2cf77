package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/storefront/internal/model"
)

// ListProducts は商品一覧を取得する。categoryが空の場合は全カテゴリを返す。
func (c *Client) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	var query url.Values
	if category != "" {
		query = url.Values{"category": {category}}
	}

	var resp []productWire
	err := c.do(ctx, request{
		op:     "list_products",
		method: http.MethodGet,
		path:   "/api/products",
		query:  query,
	}, &resp)
	if err != nil {
		return nil, err
	}

	products := make([]model.Product, 0, len(resp))
	for _, w := range resp {
		p, err := w.toModel()
		if err != nil {
			return nil, model.NewMalformedResponseError(err)
		}
		products = append(products, p)
	}
	return products, nil
}

// GetProduct は商品を1件取得する。価格はサーバーの現在値。
func (c *Client) GetProduct(ctx context.Context, productID string) (model.Product, error) {
	seg, err := pathSegment("product_id", productID)
	if err != nil {
		return model.Product{}, err
	}
	var resp productWire
	err = c.do(ctx, request{
		op:     "get_product",
		method: http.MethodGet,
		path:   "/api/products/" + seg,
	}, &resp)
	if isStatus(err, http.StatusNotFound) {
		return model.Product{}, model.NewNotFoundError("商品", productID)
	}
	if err != nil {
		return model.Product{}, err
	}
	p, err := resp.toModel()
	if err != nil {
		return model.Product{}, model.NewMalformedResponseError(err)
	}
	return p, nil
}

// ListCategories はカテゴリ一覧を取得する。
func (c *Client) ListCategories(ctx context.Context) ([]model.Category, error) {
	var resp categoriesResponse
	err := c.do(ctx, request{
		op:     "list_categories",
		method: http.MethodGet,
		path:   "/api/categories",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return []model.Category(resp), nil
}
