// Package repository はクライアント状態（アクセストークン）の永続化を提供する。
package repository

import "context"

// TokenRepository は名前付きスロット1つ分のアクセストークン永続化インターフェース。
// スロット名は実装の生成時に固定される。
type TokenRepository interface {
	// Load は保存されたトークンを返す。スロットが空の場合は("", nil)を返す。
	Load(ctx context.Context) (string, error)

	// Save はトークンをスロットに上書き保存する。
	Save(ctx context.Context, token string) error

	// Delete はスロットを空にする。すでに空の場合もエラーにしない。
	Delete(ctx context.Context) error
}
