package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hitoshi/storefront/internal/cart"
	"github.com/hitoshi/storefront/internal/checkout"
	"github.com/hitoshi/storefront/internal/download"
	"github.com/hitoshi/storefront/internal/model"
)

// 出力形式
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats は--formatに指定できる値。
var ValidFormats = []string{FormatText, FormatJSON}

// printer はコマンド結果を--formatに従って出力する。
type printer struct {
	format string
	w      io.Writer
}

// print はJSON形式ならvをそのまま、テキスト形式ならtextで表形式に出力する。
func (p *printer) print(v any, text func(tw *tabwriter.Writer)) error {
	if p.format == FormatJSON {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

// ErrorMessage はコマンドのエラーを利用者向けの文言にする。
// APIErrorの場合はメッセージと対処方法を返す。
func ErrorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Action != "" {
			return fmt.Sprintf("%s\n%s", apiErr.Message, apiErr.Action)
		}
		return apiErr.Message
	}
	return err.Error()
}

type userOutput struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	IsAdmin   bool       `json:"is_admin"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func toUserOutput(s model.Session) userOutput {
	return userOutput{
		ID:        s.User.ID,
		Name:      s.User.Name,
		Email:     s.User.Email,
		IsAdmin:   s.User.IsAdmin,
		ExpiresAt: s.ExpiresAt,
	}
}

type productOutput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

func toProductOutput(p model.Product, description string) productOutput {
	return productOutput{
		ID:          p.ID,
		Title:       p.Title,
		Price:       p.Price.StringFixed(2),
		Category:    p.Category,
		Description: description,
	}
}

type cartLineOutput struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price,omitempty"`
}

type cartOutput struct {
	Items     []cartLineOutput `json:"items"`
	ItemCount int              `json:"item_count"`
	Stale     bool             `json:"stale"`
}

func toCartOutput(s cart.Snapshot) cartOutput {
	out := cartOutput{Items: make([]cartLineOutput, 0, len(s.Items)), ItemCount: s.ItemCount, Stale: s.Stale}
	for _, item := range s.Items {
		line := cartLineOutput{ProductID: item.ProductID, Quantity: item.Quantity}
		if p, ok := s.Products[item.ProductID]; ok {
			line.Title = p.Title
			line.Price = p.Price.StringFixed(2)
		}
		out.Items = append(out.Items, line)
	}
	return out
}

type orderOutput struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	TotalAmount   string            `json:"total_amount"`
	ItemCount     int               `json:"item_count"`
	PaymentID     string            `json:"payment_id,omitempty"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	DownloadLinks map[string]string `json:"download_links,omitempty"`
}

func toOrderOutput(o model.Order) orderOutput {
	out := orderOutput{
		ID:            o.ID,
		Status:        string(o.Status),
		TotalAmount:   o.TotalAmount.StringFixed(2),
		ItemCount:     o.ItemCount(),
		PaymentID:     o.PaymentID,
		DownloadLinks: o.DownloadLinks,
	}
	if !o.CreatedAt.IsZero() {
		t := o.CreatedAt
		out.CreatedAt = &t
	}
	return out
}

type attemptOutput struct {
	AttemptID string       `json:"attempt_id"`
	State     string       `json:"state"`
	Order     *orderOutput `json:"order,omitempty"`
}

func toAttemptOutput(a *checkout.Attempt) attemptOutput {
	out := attemptOutput{AttemptID: a.ID, State: string(a.State())}
	if o := a.Order(); o != nil {
		ov := toOrderOutput(*o)
		out.Order = &ov
	}
	return out
}

type downloadOutput struct {
	ProductID string `json:"product_id"`
	Path      string `json:"path"`
	Bytes     int64  `json:"bytes"`
}

func toDownloadOutputs(results []download.Result) []downloadOutput {
	out := make([]downloadOutput, 0, len(results))
	for _, r := range results {
		out = append(out, downloadOutput{ProductID: r.ProductID, Path: r.Path, Bytes: r.Bytes})
	}
	return out
}

type statsOutput struct {
	TotalProducts int    `json:"total_products"`
	TotalOrders   int    `json:"total_orders"`
	TotalUsers    int    `json:"total_users"`
	TotalRevenue  string `json:"total_revenue"`
}

func toStatsOutput(s model.StoreStats) statsOutput {
	return statsOutput{
		TotalProducts: s.TotalProducts,
		TotalOrders:   s.TotalOrders,
		TotalUsers:    s.TotalUsers,
		TotalRevenue:  s.TotalRevenue.StringFixed(2),
	}
}

type adminProductOutput struct {
	productOutput
	IsActive  bool `json:"is_active"`
	Downloads int  `json:"downloads"`
}

func toAdminProductOutput(p model.Product) adminProductOutput {
	return adminProductOutput{
		productOutput: toProductOutput(p, ""),
		IsActive:      p.IsActive,
		Downloads:     p.Downloads,
	}
}
