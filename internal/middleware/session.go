// Package middleware はビューサーバーのHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	userIDHolderKey  = contextKey("user_id_holder")
)

// userIDHolder はロギングミドルウェアが外側からユーザーIDを受け取るための受け皿。
type userIDHolder struct {
	userID string
}

func contextWithUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderKey, h)
}

// SessionReader は現在のセッションを参照するためのインターフェース。
// session.Storeが実装する。
type SessionReader interface {
	CurrentUser() *model.User
}

// NewSessionMiddleware はセッションが確立済みのリクエストのみを通すミドルウェアを返す。
// ビューサーバーはローカルプロセス内のセッションを1つだけ扱うため、Cookieではなく
// Session Storeの現在のユーザーで判定する。未ログインの場合は401 UNAUTHENTICATEDを返す。
func NewSessionMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := sessions.CurrentUser()
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if h, ok := r.Context().Value(userIDHolderKey).(*userIDHolder); ok {
				h.userID = user.ID
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
