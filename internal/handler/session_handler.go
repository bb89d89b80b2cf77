package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

// SessionService はセッションハンドラーが必要とするSession Storeの操作。
type SessionService interface {
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, name, email, password string) error
	Logout(ctx context.Context) error
	Snapshot() model.Session
}

// SessionHandler はログイン状態のビューを提供する。
type SessionHandler struct {
	sessions SessionService
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Get は現在のセッションを返す。
// GET /view/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionView(h.sessions.Snapshot()))
}

// Login はメールアドレスとパスワードでログインする。
// POST /view/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.sessions.Login(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(h.sessions.Snapshot()))
}

// Register はアカウントを登録してログインする。
// POST /view/session/register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.sessions.Register(r.Context(), req.Name, req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionView(h.sessions.Snapshot()))
}

// Logout はセッションを終了する。未ログインでも成功する。
// POST /view/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(h.sessions.Snapshot()))
}
