// Package support はお問い合わせの送信を提供する。
package support

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/validation"
)

// ContactAPI はお問い合わせ送信に必要なストアAPIのインターフェース。
type ContactAPI interface {
	SubmitContact(ctx context.Context, msg model.ContactMessage) error
}

// UserSource はログイン中のユーザーを返す。未ログインの場合はnil。
type UserSource interface {
	CurrentUser() *model.User
}

// Contact はお問い合わせフォームの送信を行う。
type Contact struct {
	api    ContactAPI
	users  UserSource
	logger *slog.Logger
}

// NewContact はContactの新しいインスタンスを生成する。
func NewContact(api ContactAPI, users UserSource, logger *slog.Logger) *Contact {
	return &Contact{api: api, users: users, logger: logger}
}

// Submit はお問い合わせを検証して送信する。
// 名前とメールアドレスが空の場合は、ログイン中のユーザーの値で補う。
func (c *Contact) Submit(ctx context.Context, msg model.ContactMessage) error {
	msg.Name = strings.TrimSpace(msg.Name)
	msg.Email = strings.TrimSpace(msg.Email)
	msg.Subject = strings.TrimSpace(msg.Subject)
	msg.Message = strings.TrimSpace(msg.Message)

	if u := c.users.CurrentUser(); u != nil {
		if msg.Name == "" {
			msg.Name = u.Name
		}
		if msg.Email == "" {
			msg.Email = u.Email
		}
	}
	if err := validation.Struct(msg); err != nil {
		return err
	}

	if err := c.api.SubmitContact(ctx, msg); err != nil {
		return err
	}
	// 本文と連絡先はログに残さない
	c.logger.Info("contact message sent", slog.Int("message_length", len([]rune(msg.Message))))
	return nil
}
