package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

// GetCart はサーバー上のカートを取得する。
// 行に商品情報が含まれていた場合は、それもあわせて返す（表示用）。
func (c *Client) GetCart(ctx context.Context, token string) (model.Cart, []model.Product, error) {
	var resp cartResponse
	err := c.do(ctx, request{
		op:     "get_cart",
		method: http.MethodGet,
		path:   "/api/cart",
		token:  token,
	}, &resp)
	if err != nil {
		return model.Cart{}, nil, err
	}
	cart, products, err := resp.toModel()
	if err != nil {
		return model.Cart{}, nil, model.NewMalformedResponseError(err)
	}
	return cart, products, nil
}

// AddToCart は商品をカートに追加する。同一商品の数量はサーバー側で合算される。
func (c *Client) AddToCart(ctx context.Context, token, productID string, quantity int) error {
	return c.do(ctx, request{
		op:     "add_to_cart",
		method: http.MethodPost,
		path:   "/api/cart/add",
		token:  token,
		json:   addToCartRequest{ProductID: productID, Quantity: quantity},
	}, nil)
}

// RemoveFromCart は商品をカートから削除する。
// カートに存在しない商品（404）は成功として扱う。
func (c *Client) RemoveFromCart(ctx context.Context, token, productID string) error {
	seg, err := pathSegment("product_id", productID)
	if err != nil {
		return err
	}
	err = c.do(ctx, request{
		op:     "remove_from_cart",
		method: http.MethodDelete,
		path:   "/api/cart/remove/" + seg,
		token:  token,
	}, nil)
	if isStatus(err, http.StatusNotFound) {
		c.logger.Debug("product was not in cart", slog.String("product_id", productID))
		return nil
	}
	return err
}
