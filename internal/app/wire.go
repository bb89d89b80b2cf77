package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/storefront/internal/admin"
	"github.com/hitoshi/storefront/internal/api"
	"github.com/hitoshi/storefront/internal/cart"
	"github.com/hitoshi/storefront/internal/checkout"
	"github.com/hitoshi/storefront/internal/config"
	"github.com/hitoshi/storefront/internal/database"
	"github.com/hitoshi/storefront/internal/download"
	"github.com/hitoshi/storefront/internal/handler"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/notify"
	"github.com/hitoshi/storefront/internal/payment"
	"github.com/hitoshi/storefront/internal/repository"
	"github.com/hitoshi/storefront/internal/security"
	"github.com/hitoshi/storefront/internal/session"
	"github.com/hitoshi/storefront/internal/support"
)

// services はコマンドが共有する依存関係をまとめたもの。
// セッションストア、カート同期、チェックアウトはプロセス内で1つずつ生成する。
type services struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	hub        *notify.Hub
	client     *api.Client
	sessions   *session.Store
	cart       *cart.Synchronizer
	checkout   *checkout.Orchestrator
	downloader *download.Downloader
	admin      *admin.Service
	contact    *support.Contact

	closers []func() error
}

// newServices は設定から全依存関係をワイヤリングする。
func newServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	s := &services{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		hub:      notify.NewHub(),
	}
	s.metrics = metrics.NewCollector(s.registry)

	// 1. トークン保存先
	repo, err := s.openTokenRepo(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	// 2. APIクライアント
	client, err := api.NewClient(&http.Client{}, cfg.APIBaseURL, api.Options{
		Timeout:         cfg.RequestTimeout,
		RateLimit:       cfg.APIRateLimit,
		RateBurst:       cfg.APIRateBurst,
		OrderCreatePath: cfg.OrderCreatePath,
		Metrics:         s.metrics,
	}, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	s.client = client

	// 3. セッション・カート・チェックアウト
	s.sessions = session.NewStore(client, repo, s.hub, s.metrics, logger)
	s.cart = cart.NewSynchronizer(client, s.sessions, s.hub, s.metrics, logger)
	s.sessions.AddListener(s.cart)
	s.checkout = checkout.NewOrchestrator(client, s.cart, s.sessions, checkout.Options{
		PollInterval:  cfg.CheckoutPollInterval,
		SettleTimeout: cfg.CheckoutSettleTimeout,
		Metrics:       s.metrics,
		Publisher:     s.hub,
	}, logger)

	// 4. ダウンロード
	guard := security.NewDownloadGuard()
	s.downloader = download.NewDownloader(guard.NewSafeClient(cfg.DownloadTimeout), guard, download.Options{
		Dir:     cfg.DownloadDir,
		Timeout: cfg.DownloadTimeout,
		MaxSize: cfg.DownloadMaxSize,
		Metrics: s.metrics,
	}, logger)

	// 5. 管理操作・お問い合わせ
	s.admin = admin.NewService(client, s.sessions, logger)
	s.contact = support.NewContact(client, s.sessions, logger)

	return s, nil
}

func (s *services) openTokenRepo(ctx context.Context) (repository.TokenRepository, error) {
	switch s.cfg.TokenStore {
	case config.TokenStoreRedis:
		rdb, err := repository.NewRedisClient(ctx, s.cfg.RedisAddr, s.cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rdb.Close)
		return repository.NewRedisTokenRepo(rdb, s.cfg.TokenSlot), nil

	case config.TokenStorePostgres:
		if err := database.RunMigrations(s.cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		db, err := database.Open(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		return repository.NewPostgresTokenRepo(db, s.cfg.TokenSlot), nil

	default:
		return repository.NewFileTokenRepo(s.cfg.TokenFile, s.cfg.TokenSlot), nil
	}
}

// restore は保存済みセッションを復元する。
// 失敗してもコマンドは未ログイン状態で続行する。
func (s *services) restore(ctx context.Context) {
	if err := s.sessions.Restore(ctx); err != nil {
		s.logger.Warn("session restore failed, continuing unauthenticated",
			slog.String("error", err.Error()),
		)
	}
}

// providerFor はコマンドやビューで指定された名前から決済プロバイダーを返す。
// 名前が空の場合はPAYMENT_PROVIDERを使い、stripe以外は参照型プロバイダーとして扱う。
func (s *services) providerFor(name, reference string) (payment.Provider, error) {
	if name == "" {
		name = s.cfg.PaymentProvider
	}
	if name != config.PaymentProviderStripe {
		return payment.NewReferenceProvider(name, reference), nil
	}
	if s.cfg.StripeSecretKey == "" {
		return nil, model.NewValidationError("provider", "STRIPE_SECRET_KEY が設定されていません")
	}
	return payment.NewStripeProvider(s.cfg.StripeSecretKey, s.cfg.StripePaymentMethod, s.cfg.PaymentCurrency, s.logger), nil
}

// routerDeps はビューサーバーのルーター依存関係を構築する。
func (s *services) routerDeps() *handler.RouterDeps {
	return &handler.RouterDeps{
		Sessions:      s.sessions,
		Cart:          s.cart,
		Checkout:      s.checkout,
		Providers:     s.providerFor,
		Catalog:       s.client,
		Sanitizer:     security.NewDescriptionSanitizer(),
		Events:        s.hub,
		Health:        s.client,
		Metrics:       metrics.Handler(s.registry),
		AllowedOrigin: s.cfg.ViewAllowedOrigin,
		Logger:        s.logger,
	}
}

// Close は保存先への接続を閉じる。
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
