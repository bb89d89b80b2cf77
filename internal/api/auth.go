package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

// Login はメールアドレスとパスワードでログインし、アクセストークンを返す。
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		op:     "login",
		method: http.MethodPost,
		path:   "/api/login",
		json:   loginRequest{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", model.NewMalformedResponseError(errors.New("login response has no access_token"))
	}
	return resp.AccessToken, nil
}

// Register はユーザーを登録し、発行されたアクセストークンを返す。
func (c *Client) Register(ctx context.Context, name, email, password string) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		op:     "register",
		method: http.MethodPost,
		path:   "/api/register",
		json:   registerRequest{Name: name, Email: email, Password: password},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", model.NewMalformedResponseError(errors.New("register response has no access_token"))
	}
	return resp.AccessToken, nil
}

// Me はトークンに紐づくユーザーを解決する。
func (c *Client) Me(ctx context.Context, token string) (*model.User, error) {
	var resp userWire
	err := c.do(ctx, request{
		op:     "me",
		method: http.MethodGet,
		path:   "/api/me",
		token:  token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	user, err := resp.toModel()
	if err != nil {
		return nil, model.NewMalformedResponseError(err)
	}
	return user, nil
}

// Health はAPIの死活確認を行う。
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, request{
		op:     "health",
		method: http.MethodGet,
		path:   "/api/health",
	}, nil)
}
