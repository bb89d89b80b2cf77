// Package model はドメインモデルを定義する。
package model

import "time"

// User はストアのユーザー識別情報を表す。
// GET /api/me のレスポンスから解決される。
type User struct {
	ID        string
	Name      string
	Email     string
	IsAdmin   bool
	CreatedAt time.Time
}

// Session はクライアントが保持する現在の認証状態を表す。
// Userがnilでない場合、Tokenは必ず空でない。
type Session struct {
	Token     string
	User      *User
	ExpiresAt *time.Time // JWTのexpクレーム。不透明トークンの場合はnil
}

// Authenticated はセッションがユーザー解決済みかどうかを返す。
func (s Session) Authenticated() bool {
	return s.Token != "" && s.User != nil
}
