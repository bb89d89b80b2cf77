// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, cart, checkout, network, system
	Action   string // ユーザー向け対処方法
	Status   int    // サーバーが返したHTTPステータス（該当する場合のみ）
	Err      error  // 原因となったエラー（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNetworkOrServer      = "NETWORK_OR_SERVER_ERROR"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeMalformedResponse    = "MALFORMED_RESPONSE"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeEmptyCart            = "EMPTY_CART"
	ErrCodePriceMismatch        = "PRICE_MISMATCH"
	ErrCodePaymentFailed        = "PAYMENT_FAILED"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeOrderNotSettled      = "ORDER_NOT_SETTLED"
	ErrCodeCancelled            = "CANCELLED"
	ErrCodeForbidden            = "FORBIDDEN"
)

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewUnauthenticatedError はログインが必要な操作を未ログインで実行した場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewAuthenticationFailedError はログイン・登録の失敗を表すエラーを生成する。
// 認証情報の誤りと通信失敗はこの層では区別しない。
func NewAuthenticationFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "ログインに失敗しました。",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認して、再度お試しください。",
		Err:      cause,
	}
}

// NewValidationError は入力値の検証エラーを生成する。
// ネットワーク呼び出しの前に検出される。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力が正しくありません: %s: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewNetworkError は通信失敗のエラーを生成する。
func NewNetworkError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkOrServer,
		Message:  "サーバーとの通信に失敗しました。",
		Category: "network",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewServerError はサーバーが2xx以外を返した場合のエラーを生成する。
// detailはサーバーが返したエラー詳細（空の場合あり）。
func NewServerError(status int, detail string) *APIError {
	msg := fmt.Sprintf("サーバーがステータス %d を返しました。", status)
	if detail != "" {
		msg = fmt.Sprintf("サーバーがステータス %d を返しました: %s", status, detail)
	}
	return &APIError{
		Code:     ErrCodeNetworkOrServer,
		Message:  msg,
		Category: "network",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   status,
	}
}

// NewNotFoundError は指定したリソースが存在しない場合のエラーを生成する。
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません: %s", resource, id),
		Category: "validation",
		Action:   "IDを確認してください。",
		Status:   404,
	}
}

// NewTimeoutError はリクエストがタイムアウトした場合のエラーを生成する。
func NewTimeoutError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeTimeout,
		Message:  "サーバーからの応答がタイムアウトしました。",
		Category: "network",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewCancelledError は呼び出し元が操作を中断した場合のエラーを生成する。
func NewCancelledError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeCancelled,
		Message:  "操作が中断されました。",
		Category: "system",
		Action:   "必要であれば再度お試しください。",
		Err:      cause,
	}
}

// NewForbiddenError は権限のない操作を実行した場合のエラーを生成する。
func NewForbiddenError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("%sを実行する権限がありません。", operation),
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
		Status:   403,
	}
}

// NewMalformedResponseError はサーバー応答を解釈できない場合のエラーを生成する。
// 想定外のエラーとしてビュー境界で汎用表示に変換される。
func NewMalformedResponseError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedResponse,
		Message:  "サーバーの応答を解釈できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewEmptyCartError はカートが空の状態でチェックアウトした場合のエラーを生成する。
func NewEmptyCartError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyCart,
		Message:  "カートが空です。",
		Category: "cart",
		Action:   "商品をカートに追加してから購入してください。",
	}
}

// NewPriceMismatchError は注文合計がサーバー価格から算出した合計と一致しない場合のエラーを生成する。
func NewPriceMismatchError(orderTotal, expected string) *APIError {
	return &APIError{
		Code:     ErrCodePriceMismatch,
		Message:  fmt.Sprintf("注文合計 %s が商品価格の合計 %s と一致しません。", orderTotal, expected),
		Category: "checkout",
		Action:   "カートを確認してから、もう一度購入手続きを行ってください。",
	}
}

// NewPaymentFailedError は決済が完了しなかった場合のエラーを生成する。
func NewPaymentFailedError(reason string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodePaymentFailed,
		Message:  fmt.Sprintf("決済に失敗しました: %s", reason),
		Category: "checkout",
		Action:   "お支払い方法を確認して、もう一度購入手続きを行ってください。",
		Err:      cause,
	}
}

// NewInvalidTransitionError は注文・チェックアウトの状態遷移が許可されない場合のエラーを生成する。
func NewInvalidTransitionError(from, to string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("状態 %s から %s へは遷移できません。", from, to),
		Category: "checkout",
		Action:   "購入手続きを最初からやり直してください。",
	}
}

// NewOrderNotSettledError は期限内に注文の支払い状態が確定しなかった場合のエラーを生成する。
func NewOrderNotSettledError(orderID string) *APIError {
	return &APIError{
		Code:     ErrCodeOrderNotSettled,
		Message:  fmt.Sprintf("注文 %s の支払い確認が完了しませんでした。", orderID),
		Category: "checkout",
		Action:   "注文履歴で状態を確認してください。",
	}
}
