// Package model はドメインモデルを定義する。
package model

// CartItem はカートの1行を表す。
// 同一カート内でProductIDは重複しない（サーバー側で数量が合算される）。
type CartItem struct {
	ProductID string
	Quantity  int
}

// Cart はサーバーが所有するカートのクライアント側キャッシュを表す。
type Cart struct {
	Items []CartItem
}

// ItemCount はカート内の数量の合計を返す。
func (c Cart) ItemCount() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// IsEmpty はカートが空かどうかを返す。
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone はItemsを複製したCartを返す。
func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}
