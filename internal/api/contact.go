package api

import (
	"context"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

// SubmitContact はお問い合わせを送信する。認証は不要。
func (c *Client) SubmitContact(ctx context.Context, msg model.ContactMessage) error {
	return c.do(ctx, request{
		op:     "contact",
		method: http.MethodPost,
		path:   "/api/contact",
		json: contactRequest{
			Name:    msg.Name,
			Email:   msg.Email,
			Subject: msg.Subject,
			Message: msg.Message,
		},
	}, nil)
}
