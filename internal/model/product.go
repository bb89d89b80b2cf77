// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product は販売中のデジタル商品を表す。
type Product struct {
	ID          string
	Title       string
	Description string // サニタイズ前の説明文
	Price       decimal.Decimal
	Category    string
	CoverImage  string
	IsActive    bool
	Downloads   int // 管理者向け一覧でのみ返される
	CreatedAt   time.Time
}

// Category は商品カテゴリを表す。
type Category struct {
	ID   string
	Name string
}
