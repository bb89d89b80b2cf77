// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus は注文の支払い状態を表す。
type OrderStatus string

const (
	// OrderStatusPending は支払い確認待ちの状態。
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted は支払い完了の状態。ダウンロードリンクが付与される。
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled は支払いが取り消された状態。
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsFinal は状態が確定済み（completed または cancelled）かどうかを返す。
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderItem は注文の1行を表す。
// Priceは注文作成時点のサーバー価格（サーバーが返した場合のみ）。
type OrderItem struct {
	ProductID string
	Title     string
	Quantity  int
	Price     decimal.Decimal
}

// Order はカートから作成された注文を表す。
// 作成後はStatusとDownloadLinksのみが一度だけ変化する。
type Order struct {
	ID            string
	Items         []OrderItem
	TotalAmount   decimal.Decimal
	Status        OrderStatus
	PaymentID     string
	CreatedAt     time.Time
	DownloadLinks map[string]string // 商品ID -> ダウンロードURL（completed時のみ）
}

// ItemCount は注文の数量の合計を返す。
func (o Order) ItemCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// PaymentReference は決済プロバイダーが発行した支払い参照を表す。
// サーバー側でプロバイダーに照会して検証される。
type PaymentReference struct {
	Provider string
	ID       string
}

// CheckoutState はチェックアウト試行の状態を表す。
type CheckoutState string

const (
	// CheckoutStateIdle は試行開始前の状態。
	CheckoutStateIdle CheckoutState = "idle"
	// CheckoutStateOrderCreating は注文作成中の状態。
	CheckoutStateOrderCreating CheckoutState = "order_creating"
	// CheckoutStatePaymentConfirming は支払い確認中の状態。
	CheckoutStatePaymentConfirming CheckoutState = "payment_confirming"
	// CheckoutStateCompleted は試行が成功した終端状態。
	CheckoutStateCompleted CheckoutState = "completed"
	// CheckoutStateFailed は試行が失敗した終端状態。再試行は新しい試行で行う。
	CheckoutStateFailed CheckoutState = "failed"
)

// IsTerminal は状態が終端かどうかを返す。
func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutStateCompleted || s == CheckoutStateFailed
}
