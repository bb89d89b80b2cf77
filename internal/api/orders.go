package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/storefront/internal/model"
)

// CreateOrder はサーバー上のカートから注文を作成する。
// 合計金額はサーバーが商品価格から算出する。
func (c *Client) CreateOrder(ctx context.Context, token string) (model.Order, error) {
	var resp orderWire
	err := c.do(ctx, request{
		op:     "create_order",
		method: http.MethodPost,
		path:   c.orderCreatePath,
		token:  token,
	}, &resp)
	if err != nil {
		return model.Order{}, err
	}
	return toOrder(resp)
}

// CompletePayment は決済プロバイダーの参照を送信し、更新後の注文を返す。
// payment_id はフォーム形式で送信する。
// サーバーが注文本体を返さない場合はOrderのゼロ値を返し、呼び出し元が再取得する。
func (c *Client) CompletePayment(ctx context.Context, token, orderID string, ref model.PaymentReference) (model.Order, bool, error) {
	seg, err := pathSegment("order_id", orderID)
	if err != nil {
		return model.Order{}, false, err
	}
	form := url.Values{}
	form.Set("payment_id", ref.ID)
	if ref.Provider != "" {
		form.Set("provider", ref.Provider)
	}

	var resp struct {
		orderWire
		Message string `json:"message"`
	}
	err = c.do(ctx, request{
		op:     "complete_payment",
		method: http.MethodPost,
		path:   "/api/orders/" + seg + "/complete-payment",
		token:  token,
		form:   form,

		allowEmpty: true,
	}, &resp)
	if err != nil {
		return model.Order{}, false, err
	}
	if resp.ID == "" {
		return model.Order{}, false, nil
	}
	order, err := toOrder(resp.orderWire)
	if err != nil {
		return model.Order{}, false, err
	}
	return order, true, nil
}

// ListOrders はユーザーの注文履歴を取得する。
func (c *Client) ListOrders(ctx context.Context, token string) ([]model.Order, error) {
	var resp []orderWire
	err := c.do(ctx, request{
		op:     "list_orders",
		method: http.MethodGet,
		path:   "/api/orders",
		token:  token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	orders := make([]model.Order, 0, len(resp))
	for _, w := range resp {
		o, err := toOrder(w)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetOrder は注文を1件取得する。存在しない場合はNotFoundエラーを返す。
func (c *Client) GetOrder(ctx context.Context, token, orderID string) (model.Order, error) {
	seg, err := pathSegment("order_id", orderID)
	if err != nil {
		return model.Order{}, err
	}
	var resp orderWire
	err = c.do(ctx, request{
		op:     "get_order",
		method: http.MethodGet,
		path:   "/api/orders/" + seg,
		token:  token,
	}, &resp)
	if isStatus(err, http.StatusNotFound) {
		return model.Order{}, model.NewNotFoundError("注文", orderID)
	}
	if err != nil {
		return model.Order{}, err
	}
	return toOrder(resp)
}

func toOrder(w orderWire) (model.Order, error) {
	o, err := w.toModel()
	if err != nil {
		return model.Order{}, model.NewMalformedResponseError(err)
	}
	return o, nil
}
