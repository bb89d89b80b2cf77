package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

// AdminStats は管理画面の集計値を取得する。
func (c *Client) AdminStats(ctx context.Context, token string) (model.StoreStats, error) {
	var resp statsResponse
	err := c.do(ctx, request{
		op:     "admin_stats",
		method: http.MethodGet,
		path:   "/api/admin/stats",
		token:  token,
	}, &resp)
	if err != nil {
		return model.StoreStats{}, forbiddenAs(err, "管理画面の集計")
	}
	return model.StoreStats{
		TotalProducts: resp.TotalProducts,
		TotalOrders:   resp.TotalOrders,
		TotalUsers:    resp.TotalUsers,
		TotalRevenue:  resp.TotalRevenue,
	}, nil
}

// AdminProducts は非公開を含む全商品を取得する。
func (c *Client) AdminProducts(ctx context.Context, token string) ([]model.Product, error) {
	var resp []productWire
	err := c.do(ctx, request{
		op:     "admin_products",
		method: http.MethodGet,
		path:   "/api/admin/products",
		token:  token,
	}, &resp)
	if err != nil {
		return nil, forbiddenAs(err, "商品管理")
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

// AdminOrders は全ユーザーの注文を取得する。
func (c *Client) AdminOrders(ctx context.Context, token string) ([]model.Order, error) {
	var resp []orderWire
	err := c.do(ctx, request{
		op:     "admin_orders",
		method: http.MethodGet,
		path:   "/api/admin/orders",
		token:  token,
	}, &resp)
	if err != nil {
		return nil, forbiddenAs(err, "注文管理")
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

// CreateProduct は商品を登録し、サーバーが採番した商品を返す。
func (c *Client) CreateProduct(ctx context.Context, token string, p model.NewProduct) (model.Product, error) {
	var resp productWire
	err := c.do(ctx, request{
		op:     "create_product",
		method: http.MethodPost,
		path:   "/api/products",
		token:  token,
		json: createProductRequest{
			Title:       p.Title,
			Description: p.Description,
			Category:    p.Category,
			Price:       json.Number(p.Price.String()),
		},
	}, &resp)
	if err != nil {
		return model.Product{}, forbiddenAs(err, "商品の登録")
	}
	created, err := resp.toModel()
	if err != nil {
		return model.Product{}, model.NewMalformedResponseError(err)
	}
	return created, nil
}

// UploadProductFile は電子書籍または表紙画像をmultipart形式で送信する。
// contentは送信しながら読み出す。
func (c *Client) UploadProductFile(ctx context.Context, token, productID string, kind model.UploadKind, filename string, content io.Reader) error {
	seg, err := pathSegment("product_id", productID)
	if err != nil {
		return err
	}
	var endpoint string
	switch kind {
	case model.UploadEbook:
		endpoint = "upload-ebook"
	case model.UploadCover:
		endpoint = "upload-cover"
	default:
		return model.NewValidationError("kind", fmt.Sprintf("%q は指定できません", kind))
	}

	pr, pw := io.Pipe()
	// 送信前に失敗した場合も書き込み側を終了させる
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	contentType := mw.FormDataContentType()
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	err = c.do(ctx, request{
		op:          "upload_" + string(kind),
		method:      http.MethodPost,
		path:        "/api/products/" + seg + "/" + endpoint,
		token:       token,
		body:        pr,
		contentType: contentType,
	}, nil)
	if isStatus(err, http.StatusNotFound) {
		return model.NewNotFoundError("商品", productID)
	}
	return forbiddenAs(err, "ファイルのアップロード")
}

// forbiddenAs はサーバーの403をForbiddenエラーに置き換える。
func forbiddenAs(err error, operation string) error {
	if isStatus(err, http.StatusForbidden) {
		return model.NewForbiddenError(operation)
	}
	return err
}
