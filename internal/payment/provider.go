// Package payment は決済プロバイダーとの連携を提供する。
// クライアントは支払い参照を自ら生成せず、プロバイダーが発行した参照のみをサーバーへ渡す。
package payment

import (
	"context"
	"strings"

	"github.com/hitoshi/storefront/internal/model"
)

// Provider は注文の支払いを承認し、プロバイダー発行の参照を返す。
// 参照の真正性はサーバー側でプロバイダーに照会して検証される。
type Provider interface {
	Name() string
	Authorize(ctx context.Context, order model.Order) (model.PaymentReference, error)
}

// Validator は注文作成前に検査できる前提条件を持つProviderが実装する。
type Validator interface {
	Validate() error
}

// ReferenceProvider は利用者が外部で承認を済ませた支払い参照（例: PayPalの承認ID）を運ぶ。
// 空の参照は受け付けない。
type ReferenceProvider struct {
	provider  string
	reference string
}

// NewReferenceProvider はReferenceProviderを生成する。providerが空の場合は"reference"とする。
func NewReferenceProvider(provider, reference string) *ReferenceProvider {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = "reference"
	}
	return &ReferenceProvider{provider: provider, reference: strings.TrimSpace(reference)}
}

// Name はプロバイダー名を返す。
func (p *ReferenceProvider) Name() string { return p.provider }

// Validate は参照が指定されているかを検査する。
func (p *ReferenceProvider) Validate() error {
	if p.reference == "" {
		return model.NewValidationError("payment_reference", "決済プロバイダーが発行した参照を指定してください")
	}
	return nil
}

// Authorize は保持している参照を返す。
func (p *ReferenceProvider) Authorize(ctx context.Context, order model.Order) (model.PaymentReference, error) {
	if err := p.Validate(); err != nil {
		return model.PaymentReference{}, err
	}
	return model.PaymentReference{Provider: p.provider, ID: p.reference}, nil
}

var (
	_ Provider  = (*ReferenceProvider)(nil)
	_ Validator = (*ReferenceProvider)(nil)
)
