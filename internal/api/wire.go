package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/storefront/internal/model"
)

// flexID は文字列と数値のどちらで返されたIDも受け付ける。
type flexID string

// UnmarshalJSON はflexIDのJSONデコードを行う。
func (id *flexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = flexID(n.String())
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userWire struct {
	ID        flexID     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	IsAdmin   bool       `json:"is_admin"`
	CreatedAt *time.Time `json:"created_at"`
}

func (w userWire) toModel() (*model.User, error) {
	if w.ID == "" {
		return nil, errors.New("user has no id")
	}
	u := &model.User{
		ID:      string(w.ID),
		Name:    w.Name,
		Email:   w.Email,
		IsAdmin: w.IsAdmin,
	}
	if w.CreatedAt != nil {
		u.CreatedAt = *w.CreatedAt
	}
	return u, nil
}

// productWire は商品JSON。プロトタイプ間で title/name、cover_image/image_url が混在する。
type productWire struct {
	ID          flexID          `json:"id"`
	Title       string          `json:"title"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	CoverImage  string          `json:"cover_image"`
	ImageURL    string          `json:"image_url"`
	IsActive    *bool           `json:"is_active"`
	Downloads   int             `json:"downloads"`
	CreatedAt   *time.Time      `json:"created_at"`
}

func (w productWire) toModel() (model.Product, error) {
	if w.ID == "" {
		return model.Product{}, errors.New("product has no id")
	}
	p := model.Product{
		ID:          string(w.ID),
		Title:       firstNonEmpty(w.Title, w.Name),
		Description: w.Description,
		Price:       w.Price,
		Category:    w.Category,
		CoverImage:  firstNonEmpty(w.CoverImage, w.ImageURL),
		IsActive:    w.IsActive == nil || *w.IsActive,
		Downloads:   w.Downloads,
	}
	if w.CreatedAt != nil {
		p.CreatedAt = *w.CreatedAt
	}
	return p, nil
}

// cartLineWire はカート行JSON。{product:{id,...}, quantity} と {product_id, quantity} の両形式を受け付ける。
type cartLineWire struct {
	Product   *productWire `json:"product"`
	ProductID flexID       `json:"product_id"`
	Quantity  int          `json:"quantity"`
}

type cartResponse struct {
	Items []cartLineWire `json:"items"`
}

func (w cartResponse) toModel() (model.Cart, []model.Product, error) {
	cart := model.Cart{Items: make([]model.CartItem, 0, len(w.Items))}
	var products []model.Product
	for i, line := range w.Items {
		id := string(line.ProductID)
		if line.Product != nil {
			p, err := line.Product.toModel()
			if err == nil {
				products = append(products, p)
				id = p.ID
			}
		}
		if id == "" {
			return model.Cart{}, nil, fmt.Errorf("cart line %d has no product id", i)
		}
		if line.Quantity <= 0 {
			return model.Cart{}, nil, fmt.Errorf("cart line %d has invalid quantity %d", i, line.Quantity)
		}
		cart.Items = append(cart.Items, model.CartItem{ProductID: id, Quantity: line.Quantity})
	}
	return cart, products, nil
}

// createProductRequest の価格はJSON数値で送る。
type createProductRequest struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Price       json.Number `json:"price"`
}

type statsResponse struct {
	TotalProducts int             `json:"total_products"`
	TotalOrders   int             `json:"total_orders"`
	TotalUsers    int             `json:"total_users"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type addToCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type orderItemWire struct {
	ProductID flexID              `json:"product_id"`
	Title     string              `json:"title"`
	Quantity  int                 `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
}

// orderWire は注文JSON。状態は payment_status（旧: status）、
// download_links は商品IDをキーとするオブジェクトまたはURL配列で返される。
type orderWire struct {
	ID            flexID          `json:"id"`
	Items         []orderItemWire `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus string          `json:"payment_status"`
	Status        string          `json:"status"`
	PaymentID     *string         `json:"payment_id"`
	CreatedAt     *time.Time      `json:"created_at"`
	DownloadLinks json.RawMessage `json:"download_links"`
}

func (w orderWire) toModel() (model.Order, error) {
	if w.ID == "" {
		return model.Order{}, errors.New("order has no id")
	}

	status := model.OrderStatus(strings.ToLower(firstNonEmpty(w.PaymentStatus, w.Status)))
	switch status {
	case model.OrderStatusPending, model.OrderStatusCompleted, model.OrderStatusCancelled:
	case "failed":
		status = model.OrderStatusCancelled
	default:
		return model.Order{}, fmt.Errorf("order %s has unknown status %q", w.ID, status)
	}

	o := model.Order{
		ID:          string(w.ID),
		Items:       make([]model.OrderItem, 0, len(w.Items)),
		TotalAmount: w.TotalAmount,
		Status:      status,
	}
	for _, item := range w.Items {
		oi := model.OrderItem{
			ProductID: string(item.ProductID),
			Title:     item.Title,
			Quantity:  item.Quantity,
		}
		if item.Price.Valid {
			oi.Price = item.Price.Decimal
		}
		o.Items = append(o.Items, oi)
	}
	if w.PaymentID != nil {
		o.PaymentID = *w.PaymentID
	}
	if w.CreatedAt != nil {
		o.CreatedAt = *w.CreatedAt
	}

	links, err := decodeDownloadLinks(w.DownloadLinks, o.Items)
	if err != nil {
		return model.Order{}, fmt.Errorf("order %s: %w", w.ID, err)
	}
	o.DownloadLinks = links
	return o, nil
}

// decodeDownloadLinks はオブジェクト形式と配列形式のダウンロードリンクを商品IDキーのマップにする。
// 配列形式で商品IDが対応付けられない場合は位置番号をキーにする。
func decodeDownloadLinks(raw json.RawMessage, items []model.OrderItem) (map[string]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var byProduct map[string]string
	if err := json.Unmarshal(raw, &byProduct); err == nil {
		return byProduct, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("download_links must be an object or array: %w", err)
	}
	links := make(map[string]string, len(list))
	for i, u := range list {
		key := strconv.Itoa(i)
		if i < len(items) && items[i].ProductID != "" {
			key = items[i].ProductID
		}
		links[key] = u
	}
	return links, nil
}

// categoriesResponse は {categories: [...]} と素の配列の両方を受け付ける。
// 各要素はカテゴリ名の文字列または {id, name} オブジェクト。
type categoriesResponse []model.Category

// UnmarshalJSON はカテゴリ一覧のJSONデコードを行う。
func (c *categoriesResponse) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Categories []json.RawMessage `json:"categories"`
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Categories != nil {
		elems = wrapped.Categories
	} else if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("categories must be an array or {categories: [...]}: %w", err)
	}

	out := make(categoriesResponse, 0, len(elems))
	for _, e := range elems {
		var name string
		if err := json.Unmarshal(e, &name); err == nil {
			out = append(out, model.Category{ID: name, Name: name})
			continue
		}
		var obj struct {
			ID   flexID `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(e, &obj); err != nil {
			return fmt.Errorf("invalid category entry: %w", err)
		}
		out = append(out, model.Category{ID: firstNonEmpty(string(obj.ID), obj.Name), Name: obj.Name})
	}
	*c = out
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
