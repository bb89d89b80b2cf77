// Package admin は管理者向けのストア操作を提供する。
// 全ての操作は、ログイン中のユーザーが管理者であることを確認してから送信する。
package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/validation"
)

// sniffLen は種類判定のために先読みするバイト数。
const sniffLen = 3072

// 種類ごとに受け付けるMIMEタイプ
var allowedTypes = map[model.UploadKind][]string{
	model.UploadEbook: {"application/pdf", "application/epub+zip"},
	model.UploadCover: {"image/jpeg", "image/png", "image/webp"},
}

// AdminAPI は管理操作に必要なストアAPIのインターフェース。
type AdminAPI interface {
	AdminStats(ctx context.Context, token string) (model.StoreStats, error)
	AdminProducts(ctx context.Context, token string) ([]model.Product, error)
	AdminOrders(ctx context.Context, token string) ([]model.Order, error)
	CreateProduct(ctx context.Context, token string, p model.NewProduct) (model.Product, error)
	UploadProductFile(ctx context.Context, token, productID string, kind model.UploadKind, filename string, content io.Reader) error
}

// SessionView は現在のセッションを返す。
type SessionView interface {
	Snapshot() model.Session
}

// Service は管理操作を提供する。
type Service struct {
	api      AdminAPI
	sessions SessionView
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(api AdminAPI, sessions SessionView, logger *slog.Logger) *Service {
	return &Service{api: api, sessions: sessions, logger: logger}
}

// authorize は管理者セッションのトークンを返す。
// 未ログインはUnauthenticated、管理者でない場合はForbiddenで、いずれも通信しない。
func (s *Service) authorize(operation string) (string, error) {
	snap := s.sessions.Snapshot()
	if !snap.Authenticated() {
		return "", model.NewUnauthenticatedError()
	}
	if !snap.User.IsAdmin {
		return "", model.NewForbiddenError(operation)
	}
	return snap.Token, nil
}

// Stats はストア全体の集計値を返す。
func (s *Service) Stats(ctx context.Context) (model.StoreStats, error) {
	token, err := s.authorize("管理画面の集計")
	if err != nil {
		return model.StoreStats{}, err
	}
	return s.api.AdminStats(ctx, token)
}

// Products は非公開を含む全商品を返す。
func (s *Service) Products(ctx context.Context) ([]model.Product, error) {
	token, err := s.authorize("商品管理")
	if err != nil {
		return nil, err
	}
	return s.api.AdminProducts(ctx, token)
}

// Orders は全ユーザーの注文を返す。
func (s *Service) Orders(ctx context.Context) ([]model.Order, error) {
	token, err := s.authorize("注文管理")
	if err != nil {
		return nil, err
	}
	return s.api.AdminOrders(ctx, token)
}

// CreateProduct は入力を検証してから商品を登録する。
func (s *Service) CreateProduct(ctx context.Context, p model.NewProduct) (model.Product, error) {
	token, err := s.authorize("商品の登録")
	if err != nil {
		return model.Product{}, err
	}
	p.Title = strings.TrimSpace(p.Title)
	p.Category = strings.TrimSpace(p.Category)
	if err := validation.Struct(p); err != nil {
		return model.Product{}, err
	}
	if !p.Price.IsPositive() {
		return model.Product{}, model.NewValidationError("price", "0より大きい金額を指定してください")
	}
	if !p.Price.Equal(p.Price.Round(2)) {
		return model.Product{}, model.NewValidationError("price", "小数点以下は2桁までです")
	}

	created, err := s.api.CreateProduct(ctx, token, p)
	if err != nil {
		return model.Product{}, err
	}
	s.logger.Info("product created",
		slog.String("product_id", created.ID),
		slog.String("category", created.Category),
	)
	return created, nil
}

// Upload は商品に電子書籍または表紙画像を添付する。
// 先頭バイトから判定した種類がkindに合わない場合は送信しない。
func (s *Service) Upload(ctx context.Context, productID string, kind model.UploadKind, filename string, content io.Reader) error {
	token, err := s.authorize("ファイルのアップロード")
	if err != nil {
		return err
	}
	if strings.TrimSpace(productID) == "" {
		return model.NewValidationError("product_id", "必須です")
	}
	allowed, ok := allowedTypes[kind]
	if !ok {
		return model.NewValidationError("kind", fmt.Sprintf("%q は指定できません（ebook または cover）", kind))
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(content, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if n == 0 {
		return model.NewValidationError("file", "空のファイルです")
	}
	header = header[:n]

	detected := mimetype.Detect(header)
	if !matchesAny(detected, allowed) {
		return model.NewValidationError("file", fmt.Sprintf("%s は %s として受け付けられません", detected.String(), kind))
	}

	if err := s.api.UploadProductFile(ctx, token, productID, kind, filename, io.MultiReader(bytes.NewReader(header), content)); err != nil {
		return err
	}
	s.logger.Info("product file uploaded",
		slog.String("product_id", productID),
		slog.String("kind", string(kind)),
		slog.String("content_type", detected.String()),
	)
	return nil
}

func matchesAny(m *mimetype.MIME, types []string) bool {
	for _, t := range types {
		if m.Is(t) {
			return true
		}
	}
	return false
}

// Revenue は完了済み注文の合計金額を返す。サーバーが集計値を返さない場合の表示に使う。
func Revenue(orders []model.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		if o.Status == model.OrderStatusCompleted {
			total = total.Add(o.TotalAmount)
		}
	}
	return total
}
