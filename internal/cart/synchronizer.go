// Package cart はサーバー上のカートとクライアント側キャッシュの同期を提供する。
//
// キャッシュはサーバーの応答でのみ更新され、ローカルで楽観的に変更することはない。
// 追加・削除は「サーバーへの変更要求 → 再取得」を1単位として直列に実行する。
package cart

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/notify"
	"github.com/hitoshi/storefront/internal/session"
)

// CartAPI はカート同期に必要なストアAPIのインターフェース。
type CartAPI interface {
	GetCart(ctx context.Context, token string) (model.Cart, []model.Product, error)
	AddToCart(ctx context.Context, token, productID string, quantity int) error
	RemoveFromCart(ctx context.Context, token, productID string) error
}

// TokenSource は現在のアクセストークンを返す。未ログインの場合は空文字。
type TokenSource interface {
	Token() string
}

// Snapshot はカートキャッシュの読み取り用コピー。
type Snapshot struct {
	Items     []model.CartItem
	Products  map[string]model.Product // サーバーが行に含めた商品情報（表示用）
	ItemCount int
	FetchedAt time.Time // 最後にサーバー応答を反映した時刻。未取得ならゼロ値
	Stale     bool      // 直近の変更後の再取得に失敗した
}

// Synchronizer はカートキャッシュを保持し、サーバーと同期する。
type Synchronizer struct {
	api       CartAPI
	tokens    TokenSource
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time

	// opMu は変更要求と再取得の単位を直列化する。
	opMu sync.Mutex

	mu        sync.RWMutex
	cart      model.Cart
	products  map[string]model.Product
	fetchedAt time.Time
	stale     bool
	issued    uint64 // 発行済みの取得シーケンス
	applied   uint64 // 反映済みの最新シーケンス
	epoch     uint64 // Clearのたびに進み、それ以前に発行した取得を無効にする
}

// NewSynchronizer はSynchronizerを生成する。publisherとmetricsはnilでもよい。
func NewSynchronizer(api CartAPI, tokens TokenSource, publisher notify.Publisher, m metrics.MetricsCollector, logger *slog.Logger) *Synchronizer {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Synchronizer{
		api:       api,
		tokens:    tokens,
		publisher: publisher,
		metrics:   metrics.OrNop(m),
		logger:    logger,
		now:       time.Now,
	}
}

// Fetch はサーバーからカートを取得してキャッシュを置き換える。
// 失敗した場合、キャッシュは変更しない。
// より新しい取得がすでに反映されている場合、またはClear後に届いた応答は破棄する。
func (s *Synchronizer) Fetch(ctx context.Context) error {
	token := s.tokens.Token()
	if token == "" {
		return model.NewUnauthenticatedError()
	}

	s.mu.Lock()
	s.issued++
	seq := s.issued
	epoch := s.epoch
	s.mu.Unlock()

	cart, products, err := s.api.GetCart(ctx, token)
	if err != nil {
		s.logger.Warn("failed to fetch cart, keeping cached items",
			slog.String("error", err.Error()),
		)
		return err
	}

	s.mu.Lock()
	if epoch != s.epoch || seq < s.applied {
		s.mu.Unlock()
		s.metrics.RecordStaleResponse("fetch_cart")
		s.logger.Debug("discarding stale cart response", slog.Uint64("seq", seq))
		return nil
	}
	s.cart = cart.Clone()
	s.products = indexProducts(products)
	s.fetchedAt = s.now()
	s.stale = false
	s.applied = seq
	count := s.cart.ItemCount()
	s.mu.Unlock()

	s.publisher.Publish(notify.Event{
		Topic: notify.TopicCart,
		Data:  map[string]any{"item_count": count},
	})
	return nil
}

// Add は商品をカートに追加し、再取得する。
// 未ログインの場合はネットワーク呼び出しなしでUnauthenticatedを返す。
// 追加には成功し再取得だけ失敗した場合はnilを返し、Snapshot().Staleで示す。
func (s *Synchronizer) Add(ctx context.Context, productID string, quantity int) error {
	token := s.tokens.Token()
	if token == "" {
		return model.NewUnauthenticatedError()
	}
	if err := validateProductID(productID); err != nil {
		return err
	}
	if quantity < 1 {
		return model.NewValidationError("quantity", "1以上を指定してください")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	// 待機中にログアウト・再ログインが起きた場合に備えて読み直す
	if token = s.tokens.Token(); token == "" {
		return model.NewUnauthenticatedError()
	}
	if err := s.api.AddToCart(ctx, token, productID, quantity); err != nil {
		return err
	}
	s.resync(ctx, "add")
	return nil
}

// Remove は商品をカートから削除し、再取得する。
// カートに存在しない商品の削除は成功として扱う。
func (s *Synchronizer) Remove(ctx context.Context, productID string) error {
	token := s.tokens.Token()
	if token == "" {
		return model.NewUnauthenticatedError()
	}
	if err := validateProductID(productID); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if token = s.tokens.Token(); token == "" {
		return model.NewUnauthenticatedError()
	}
	if err := s.api.RemoveFromCart(ctx, token, productID); err != nil {
		return err
	}
	s.resync(ctx, "remove")
	return nil
}

// resync は変更要求の後にカートを再取得する。失敗時はキャッシュを古いものとして印を付ける。
func (s *Synchronizer) resync(ctx context.Context, op string) {
	if err := s.Fetch(ctx); err != nil {
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
		s.logger.Warn("cart resync failed after server-confirmed change",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

// Clear はローカルのキャッシュのみを空にする。サーバーのカートは変更しない。
// 実行中の取得の応答は破棄される。
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	s.cart = model.Cart{}
	s.products = nil
	s.fetchedAt = time.Time{}
	s.stale = false
	s.epoch++
	s.mu.Unlock()

	s.publisher.Publish(notify.Event{
		Topic: notify.TopicCart,
		Data:  map[string]any{"item_count": 0},
	})
}

// ItemCount はキャッシュ内の数量の合計を返す。ネットワーク呼び出しは行わない。
func (s *Synchronizer) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.ItemCount()
}

// Items はキャッシュ内のカート行のコピーを返す。
func (s *Synchronizer) Items() []model.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone().Items
}

// Snapshot はキャッシュ全体のコピーを返す。
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make(map[string]model.Product, len(s.products))
	for id, p := range s.products {
		products[id] = p
	}
	return Snapshot{
		Items:     s.cart.Clone().Items,
		Products:  products,
		ItemCount: s.cart.ItemCount(),
		FetchedAt: s.fetchedAt,
		Stale:     s.stale,
	}
}

// SessionStarted はログイン時にカートを取得する。
func (s *Synchronizer) SessionStarted(ctx context.Context, _ model.Session) {
	if err := s.Fetch(ctx); err != nil {
		s.logger.Warn("initial cart fetch failed", slog.String("error", err.Error()))
	}
}

// SessionEnded はログアウト時にキャッシュを破棄する。
func (s *Synchronizer) SessionEnded() {
	s.Clear()
}

func validateProductID(productID string) error {
	if strings.TrimSpace(productID) == "" {
		return model.NewValidationError("product_id", "必須です")
	}
	if productID == "." || productID == ".." || strings.ContainsAny(productID, "/?#") {
		return model.NewValidationError("product_id", "使用できない文字が含まれています")
	}
	return nil
}

func indexProducts(products []model.Product) map[string]model.Product {
	if len(products) == 0 {
		return nil
	}
	m := make(map[string]model.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}

var _ session.Listener = (*Synchronizer)(nil)
