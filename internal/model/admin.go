package model

import "github.com/shopspring/decimal"

// StoreStats は管理画面の概要に表示する集計値。
type StoreStats struct {
	TotalProducts int
	TotalOrders   int
	TotalUsers    int
	TotalRevenue  decimal.Decimal
}

// NewProduct は管理者が登録する商品の入力。価格の範囲は登録時に別途検証する。
type NewProduct struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=20000"`
	Category    string `validate:"required,max=100"`
	Price       decimal.Decimal
}

// UploadKind は商品に添付するファイルの種類。
type UploadKind string

const (
	UploadEbook UploadKind = "ebook"
	UploadCover UploadKind = "cover"
)

// ContactMessage はお問い合わせフォームの内容。
type ContactMessage struct {
	Name    string `validate:"required,max=100"`
	Email   string `validate:"required,email,max=254"`
	Subject string `validate:"required,max=200"`
	Message string `validate:"required,max=5000"`
}
