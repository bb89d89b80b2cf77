package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"

	"github.com/hitoshi/storefront/internal/model"
)

// zeroDecimalCurrencies は最小単位が主単位と等しい通貨。
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// StripeProvider はStripe PaymentIntentを作成・確定して支払いを承認する。
type StripeProvider struct {
	paymentMethod string
	currency      string
	logger        *slog.Logger

	// createIntent はStripe API呼び出し。テストで差し替える。
	createIntent func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// NewStripeProvider はStripeProviderを生成する。
// secretKeyはstripeパッケージのグローバル設定に反映される。
func NewStripeProvider(secretKey, paymentMethod, currency string, logger *slog.Logger) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{
		paymentMethod: paymentMethod,
		currency:      strings.ToLower(currency),
		logger:        logger,
		createIntent:  paymentintent.New,
	}
}

// Name はプロバイダー名を返す。
func (p *StripeProvider) Name() string { return "stripe" }

// Validate は決済手段が設定されているかを検査する。
func (p *StripeProvider) Validate() error {
	if p.paymentMethod == "" {
		return model.NewValidationError("payment_method", "Stripeの決済手段が設定されていません")
	}
	return nil
}

// Authorize は注文合計のPaymentIntentを作成して即時確定する。
// succeeded または processing の場合にIntent IDを参照として返す。
func (p *StripeProvider) Authorize(ctx context.Context, order model.Order) (model.PaymentReference, error) {
	if err := p.Validate(); err != nil {
		return model.PaymentReference{}, err
	}
	amount, err := MinorUnits(order.TotalAmount, p.currency)
	if err != nil {
		return model.PaymentReference{}, model.NewPaymentFailedError("金額を変換できません", err)
	}
	if amount <= 0 {
		return model.PaymentReference{}, model.NewValidationError("total_amount", "0より大きい必要があります")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(p.currency),
		PaymentMethod: stripe.String(p.paymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Metadata: map[string]string{
			"order_id": order.ID,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("storefront-order-" + order.ID)

	intent, err := p.createIntent(params)
	if err != nil {
		reason := "決済プロバイダーへの要求に失敗しました"
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
			reason = stripeErr.Msg
		}
		p.logger.Warn("stripe payment intent failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return model.PaymentReference{}, model.NewPaymentFailedError(reason, err)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		p.logger.Info("stripe payment intent confirmed",
			slog.String("order_id", order.ID),
			slog.String("intent_id", intent.ID),
			slog.String("status", string(intent.Status)),
		)
		return model.PaymentReference{Provider: p.Name(), ID: intent.ID}, nil
	default:
		return model.PaymentReference{}, model.NewPaymentFailedError(
			fmt.Sprintf("支払いが完了していません（状態: %s）", intent.Status), nil)
	}
}

// MinorUnits は金額を通貨の最小単位の整数に変換する。端数が残る金額はエラーにする。
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	scale := decimal.NewFromInt(100)
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		scale = decimal.NewFromInt(1)
	}
	minor := amount.Mul(scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount, currency)
	}
	return minor.IntPart(), nil
}

var (
	_ Provider  = (*StripeProvider)(nil)
	_ Validator = (*StripeProvider)(nil)
)
