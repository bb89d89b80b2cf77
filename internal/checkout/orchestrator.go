// Package checkout はカートから注文を作成し、支払いを確定するまでの流れを管理する。
//
// 1回の試行は Idle → OrderCreating → PaymentConfirming → Completed | Failed と進む。
// 金額は常にサーバーの商品価格で検証し、支払いの成否はサーバーが返す注文状態でのみ判断する。
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/notify"
	"github.com/hitoshi/storefront/internal/payment"
)

// OrderAPI はチェックアウトに必要なストアAPIのインターフェース。
type OrderAPI interface {
	CreateOrder(ctx context.Context, token string) (model.Order, error)
	CompletePayment(ctx context.Context, token, orderID string, ref model.PaymentReference) (model.Order, bool, error)
	GetOrder(ctx context.Context, token, orderID string) (model.Order, error)
	ListOrders(ctx context.Context, token string) ([]model.Order, error)
	GetProduct(ctx context.Context, productID string) (model.Product, error)
}

// CartView はチェックアウトが参照・破棄するカートキャッシュ。
type CartView interface {
	Items() []model.CartItem
	ItemCount() int
	Clear()
}

// TokenSource は現在のアクセストークンを返す。
type TokenSource interface {
	Token() string
}

// Options はOrchestratorの動作設定。
type Options struct {
	PollInterval  time.Duration // 支払い確定待ちのポーリング間隔
	SettleTimeout time.Duration // 支払い確定待ちの上限
	Metrics       metrics.MetricsCollector
	Publisher     notify.Publisher
}

// Orchestrator はチェックアウト試行を実行する。
type Orchestrator struct {
	api       OrderAPI
	cart      CartView
	tokens    TokenSource
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time

	pollInterval  time.Duration
	settleTimeout time.Duration

	// checkoutMu は同一カートから注文が並行して作成されないようにする。
	checkoutMu sync.Mutex
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(api OrderAPI, cart CartView, tokens TokenSource, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 60 * time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = notify.Nop{}
	}
	return &Orchestrator{
		api:           api,
		cart:          cart,
		tokens:        tokens,
		publisher:     opts.Publisher,
		metrics:       metrics.OrNop(opts.Metrics),
		logger:        logger,
		now:           time.Now,
		pollInterval:  opts.PollInterval,
		settleTimeout: opts.SettleTimeout,
	}
}

// NewAttempt はIdle状態の新しい試行を返す。
func (o *Orchestrator) NewAttempt() *Attempt {
	return newAttempt(o.now)
}

// Checkout は注文作成・支払い承認・支払い確定を1回の試行として実行する。
// 返されるAttemptは常に非nilで、失敗時はFailedまたは（前提条件違反の場合）Idleのまま。
func (o *Orchestrator) Checkout(ctx context.Context, provider payment.Provider) (*Attempt, error) {
	o.checkoutMu.Lock()
	defer o.checkoutMu.Unlock()

	attempt := o.NewAttempt()
	if err := o.checkPreconditions(); err != nil {
		o.metrics.RecordCheckout(resultOf(err))
		return attempt, err
	}
	if v, ok := provider.(payment.Validator); ok {
		if err := v.Validate(); err != nil {
			o.metrics.RecordCheckout(resultOf(err))
			return attempt, err
		}
	}

	order, err := o.CreateOrder(ctx, attempt)
	if err != nil {
		return attempt, err
	}

	ref, err := provider.Authorize(ctx, order)
	if err != nil {
		o.logger.Warn("payment authorization failed",
			slog.String("attempt_id", attempt.ID),
			slog.String("order_id", order.ID),
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()),
		)
		attempt.fail(err)
		o.metrics.RecordCheckout(resultOf(err))
		return attempt, err
	}

	if _, err := o.ConfirmPayment(ctx, attempt, ref); err != nil {
		return attempt, err
	}
	return attempt, nil
}

// CreateOrder は試行をOrderCreatingに進めてサーバー上のカートから注文を作成する。
// 未ログインの場合はUnauthenticated、カートが空の場合はEmptyCartを返し、
// いずれもネットワーク呼び出しを行わず試行はIdleのまま。
// 注文合計がサーバーの商品価格から算出した合計と一致しない場合は試行をFailedにする。
func (o *Orchestrator) CreateOrder(ctx context.Context, attempt *Attempt) (model.Order, error) {
	if err := o.checkPreconditions(); err != nil {
		o.metrics.RecordCheckout(resultOf(err))
		return model.Order{}, err
	}
	if err := attempt.transition(model.CheckoutStateOrderCreating); err != nil {
		return model.Order{}, err
	}
	token := o.tokens.Token()

	order, err := o.api.CreateOrder(ctx, token)
	if err != nil {
		return model.Order{}, o.failAttempt(attempt, "order creation failed", err)
	}
	attempt.setOrder(order)

	if order.Status != model.OrderStatusPending {
		err := model.NewMalformedResponseError(fmt.Errorf("created order %s has status %q, want pending", order.ID, order.Status))
		return model.Order{}, o.failAttempt(attempt, "created order is not pending", err)
	}

	if err := o.verifyTotal(ctx, order); err != nil {
		return model.Order{}, o.failAttempt(attempt, "order total verification failed", err)
	}

	if err := attempt.transition(model.CheckoutStatePaymentConfirming); err != nil {
		return model.Order{}, err
	}
	o.logger.Info("order created",
		slog.String("attempt_id", attempt.ID),
		slog.String("order_id", order.ID),
		slog.String("total_amount", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

// ConfirmPayment はプロバイダー発行の参照をサーバーへ送り、注文の確定を待つ。
// サーバーが注文をpendingのまま返した場合は、確定するかSettleTimeoutに達するまで再取得する。
// Completedになった場合のみカートキャッシュを破棄する。
func (o *Orchestrator) ConfirmPayment(ctx context.Context, attempt *Attempt, ref model.PaymentReference) (model.Order, error) {
	if state := attempt.State(); state != model.CheckoutStatePaymentConfirming {
		return model.Order{}, model.NewInvalidTransitionError(string(state), string(model.CheckoutStateCompleted))
	}
	if strings.TrimSpace(ref.ID) == "" {
		return model.Order{}, model.NewValidationError("payment_reference", "必須です")
	}
	order := attempt.Order()
	token := o.tokens.Token()
	if token == "" {
		return model.Order{}, o.failAttempt(attempt, "session ended before payment confirmation", model.NewUnauthenticatedError())
	}

	updated, returned, err := o.api.CompletePayment(ctx, token, order.ID, ref)
	if err != nil {
		return model.Order{}, o.failAttempt(attempt, "payment confirmation failed", err)
	}
	if !returned {
		updated, err = o.api.GetOrder(ctx, token, order.ID)
		if err != nil {
			return model.Order{}, o.failAttempt(attempt, "failed to reload order after payment", err)
		}
	}

	settled, err := o.awaitSettlement(ctx, token, updated)
	if err != nil {
		return model.Order{}, o.failAttempt(attempt, "order did not settle", err)
	}
	attempt.setOrder(settled)

	if settled.Status == model.OrderStatusCancelled {
		err := model.NewPaymentFailedError("注文が取り消されました", nil)
		return model.Order{}, o.failAttempt(attempt, "order was cancelled", err)
	}

	if err := attempt.transition(model.CheckoutStateCompleted); err != nil {
		return model.Order{}, err
	}
	o.cart.Clear()
	o.metrics.RecordCheckout("completed")
	o.logger.Info("checkout completed",
		slog.String("attempt_id", attempt.ID),
		slog.String("order_id", settled.ID),
		slog.String("provider", ref.Provider),
	)
	o.publisher.Publish(notify.Event{
		Topic: notify.TopicOrder,
		Data:  map[string]any{"order_id": settled.ID, "status": string(settled.Status)},
	})
	return settled, nil
}

// OrderHistory はユーザーの注文履歴を返す。
func (o *Orchestrator) OrderHistory(ctx context.Context) ([]model.Order, error) {
	token := o.tokens.Token()
	if token == "" {
		return nil, model.NewUnauthenticatedError()
	}
	return o.api.ListOrders(ctx, token)
}

// LookupOrder は注文を1件取得する。
func (o *Orchestrator) LookupOrder(ctx context.Context, orderID string) (model.Order, error) {
	token := o.tokens.Token()
	if token == "" {
		return model.Order{}, model.NewUnauthenticatedError()
	}
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, model.NewValidationError("order_id", "必須です")
	}
	return o.api.GetOrder(ctx, token, orderID)
}

func (o *Orchestrator) checkPreconditions() error {
	if o.tokens.Token() == "" {
		return model.NewUnauthenticatedError()
	}
	if o.cart.ItemCount() == 0 {
		return model.NewEmptyCartError()
	}
	return nil
}

// verifyTotal は注文合計がサーバーの現在価格×数量の合計と一致するかを検証する。
// 注文に行が含まれない場合はカートキャッシュの行で計算する。
func (o *Orchestrator) verifyTotal(ctx context.Context, order model.Order) error {
	lines := make(map[string]int)
	for _, item := range order.Items {
		lines[item.ProductID] += item.Quantity
	}
	if len(lines) == 0 {
		for _, item := range o.cart.Items() {
			lines[item.ProductID] += item.Quantity
		}
	}
	if len(lines) == 0 {
		return model.NewEmptyCartError()
	}

	expected := decimal.Zero
	for productID, qty := range lines {
		if productID == "" || qty <= 0 {
			return model.NewMalformedResponseError(fmt.Errorf("order %s has an invalid line", order.ID))
		}
		product, err := o.api.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		expected = expected.Add(product.Price.Mul(decimal.NewFromInt(int64(qty))))
	}

	if !order.TotalAmount.Equal(expected) {
		return model.NewPriceMismatchError(order.TotalAmount.StringFixed(2), expected.StringFixed(2))
	}
	return nil
}

// awaitSettlement は注文がpendingでなくなるまで再取得する。
// 一時的な取得失敗はポーリングを続け、Unauthenticatedは即座に返す。
func (o *Orchestrator) awaitSettlement(ctx context.Context, token string, order model.Order) (model.Order, error) {
	if order.Status.IsFinal() {
		return order, nil
	}

	deadline := time.NewTimer(o.settleTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return model.Order{}, model.NewTimeoutError(ctx.Err())
			}
			return model.Order{}, model.NewCancelledError(ctx.Err())
		case <-deadline.C:
			return model.Order{}, model.NewOrderNotSettledError(order.ID)
		case <-ticker.C:
			latest, err := o.api.GetOrder(ctx, token, order.ID)
			if err != nil {
				if model.HasCode(err, model.ErrCodeUnauthenticated) {
					return model.Order{}, err
				}
				o.logger.Warn("settlement poll failed", slog.String("order_id", order.ID), slog.String("error", err.Error()))
				continue
			}
			if latest.Status.IsFinal() {
				return latest, nil
			}
		}
	}
}

func (o *Orchestrator) failAttempt(attempt *Attempt, msg string, err error) error {
	attempt.fail(err)
	o.metrics.RecordCheckout(resultOf(err))
	o.logger.Warn(msg,
		slog.String("attempt_id", attempt.ID),
		slog.String("error", err.Error()),
	)
	return err
}

// resultOf はエラーをメトリクスのresultラベルに変換する。
func resultOf(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}
