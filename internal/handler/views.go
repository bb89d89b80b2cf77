package handler

import (
	"time"

	"github.com/hitoshi/storefront/internal/cart"
	"github.com/hitoshi/storefront/internal/checkout"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

type userView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

type sessionView struct {
	Authenticated bool       `json:"authenticated"`
	User          *userView  `json:"user,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func toSessionView(s model.Session) sessionView {
	v := sessionView{Authenticated: s.Authenticated(), ExpiresAt: s.ExpiresAt}
	if s.User != nil {
		v.User = &userView{ID: s.User.ID, Name: s.User.Name, Email: s.User.Email, IsAdmin: s.User.IsAdmin}
	}
	return v
}

type cartLineView struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Title      string `json:"title,omitempty"`
	Price      string `json:"price,omitempty"`
	CoverImage string `json:"cover_image,omitempty"`
}

type cartView struct {
	Items     []cartLineView `json:"items"`
	ItemCount int            `json:"item_count"`
	FetchedAt *time.Time     `json:"fetched_at,omitempty"`
	Stale     bool           `json:"stale"`
}

func toCartView(s cart.Snapshot) cartView {
	v := cartView{Items: make([]cartLineView, 0, len(s.Items)), ItemCount: s.ItemCount, Stale: s.Stale}
	if !s.FetchedAt.IsZero() {
		t := s.FetchedAt
		v.FetchedAt = &t
	}
	for _, item := range s.Items {
		line := cartLineView{ProductID: item.ProductID, Quantity: item.Quantity}
		if p, ok := s.Products[item.ProductID]; ok {
			line.Title = p.Title
			line.Price = p.Price.StringFixed(2)
			line.CoverImage = p.CoverImage
		}
		v.Items = append(v.Items, line)
	}
	return v
}

type orderItemView struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price,omitempty"`
}

type orderView struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	TotalAmount   string            `json:"total_amount"`
	PaymentID     string            `json:"payment_id,omitempty"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	ItemCount     int               `json:"item_count"`
	Items         []orderItemView   `json:"items"`
	DownloadLinks map[string]string `json:"download_links,omitempty"`
}

func toOrderView(o model.Order) orderView {
	v := orderView{
		ID:            o.ID,
		Status:        string(o.Status),
		TotalAmount:   o.TotalAmount.StringFixed(2),
		PaymentID:     o.PaymentID,
		ItemCount:     o.ItemCount(),
		Items:         make([]orderItemView, 0, len(o.Items)),
		DownloadLinks: o.DownloadLinks,
	}
	if !o.CreatedAt.IsZero() {
		t := o.CreatedAt
		v.CreatedAt = &t
	}
	for _, item := range o.Items {
		iv := orderItemView{ProductID: item.ProductID, Title: item.Title, Quantity: item.Quantity}
		if !item.Price.IsZero() {
			iv.Price = item.Price.StringFixed(2)
		}
		v.Items = append(v.Items, iv)
	}
	return v
}

type transitionView struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type attemptView struct {
	AttemptID string                        `json:"attempt_id"`
	State     string                        `json:"state"`
	Order     *orderView                    `json:"order,omitempty"`
	Error     *middleware.ErrorResponseBody `json:"error,omitempty"`
	History   []transitionView              `json:"history"`
}

func toAttemptView(a *checkout.Attempt, apiErr *model.APIError) attemptView {
	v := attemptView{AttemptID: a.ID, State: string(a.State()), History: []transitionView{}}
	if o := a.Order(); o != nil {
		ov := toOrderView(*o)
		v.Order = &ov
	}
	if apiErr != nil {
		v.Error = &middleware.ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
			Status:   apiErr.Status,
		}
	}
	for _, tr := range a.History() {
		v.History = append(v.History, transitionView{From: string(tr.From), To: string(tr.To), At: tr.At})
	}
	return v
}

type productView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Category    string `json:"category,omitempty"`
	CoverImage  string `json:"cover_image,omitempty"`
}

type categoryView struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}
