// Package handler はローカルのビューサーバー（storefront serve）のHTTPハンドラーを提供する。
// ビューはSession Store、Cart Synchronizer、Checkout Orchestratorの状態をJSONで返し、
// 変更はWebSocketで通知する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/security"
)

// SessionStore はビューが参照・操作するセッション。session.Storeが実装する。
type SessionStore interface {
	SessionService
	middleware.SessionReader
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Sessions  SessionStore
	Cart      CartService
	Checkout  CheckoutService
	Providers ProviderResolver
	Catalog   CatalogService
	Sanitizer security.DescriptionSanitizer
	Events    EventSource
	Health    HealthChecker
	Metrics   http.Handler

	AllowedOrigin string
	CSRF          middleware.CSRFConfig
	Logger        *slog.Logger
}

// NewRouter はビューのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF
//
// カート・チェックアウト・注文のルートはさらにSessionミドルウェアを通す。
// /health と /metrics と /view/events はCSRF検証の対象外（いずれもGETのみ）。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))

	r.Get("/health", NewHealthHandler(deps.Health))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	sessionHandler := NewSessionHandler(deps.Sessions)
	cartHandler := NewCartHandler(deps.Cart)
	checkoutHandler := NewCheckoutHandler(deps.Checkout, deps.Providers)
	productHandler := NewProductHandler(deps.Catalog, deps.Sanitizer)
	eventsHandler := NewEventsHandler(deps.Events, deps.AllowedOrigin, logger)

	r.Route("/view", func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigin))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
		r.Method(http.MethodGet, "/events", eventsHandler)

		// --- ログイン不要のルート ---
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Post("/login", sessionHandler.Login)
			r.Post("/register", sessionHandler.Register)
			r.Post("/logout", sessionHandler.Logout)
		})
		r.Get("/products", productHandler.List)
		r.Get("/products/{id}", productHandler.Get)
		r.Get("/categories", productHandler.Categories)

		// --- ログインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Sessions))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.Get)
				r.Post("/refresh", cartHandler.Refresh)
				r.Post("/items", cartHandler.AddItem)
				r.Delete("/items/{productID}", cartHandler.RemoveItem)
			})
			r.Post("/checkout", checkoutHandler.Checkout)
			r.Get("/orders", checkoutHandler.ListOrders)
			r.Get("/orders/{id}", checkoutHandler.GetOrder)
		})
	})

	return r
}
