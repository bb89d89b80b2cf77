// Package session はクライアント側のセッション（トークンと解決済みユーザー）を管理する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/notify"
	"github.com/hitoshi/storefront/internal/repository"
)

// AuthAPI はセッション管理に必要なストアAPIのインターフェース。
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, name, email, password string) (string, error)
	Me(ctx context.Context, token string) (*model.User, error)
}

// Listener はセッションの開始・終了を受け取るインターフェース。
// カート同期はログイン時の取得とログアウト時の破棄にこれを使う。
type Listener interface {
	SessionStarted(ctx context.Context, s model.Session)
	SessionEnded()
}

// errSuperseded はログイン処理中にログアウトや別のログインが確定した場合の原因エラー。
var errSuperseded = errors.New("session changed while the request was in flight")

// Store はセッション状態を保持する。
// Userが設定されている間はTokenも必ず設定されている。
type Store struct {
	api       AuthAPI
	repo      repository.TokenRepository
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time

	// persistMu はメモリ上の状態変更と保存先への書き込みを一体にする。
	persistMu sync.Mutex

	mu        sync.RWMutex
	token     string
	user      *model.User
	expiresAt *time.Time
	epoch     uint64
	listeners []Listener

	restoreOnce sync.Once
	restoreErr  error
}

// NewStore はStoreを生成する。publisherとmetricsはnilでもよい。
func NewStore(api AuthAPI, repo repository.TokenRepository, publisher notify.Publisher, m metrics.MetricsCollector, logger *slog.Logger) *Store {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Store{
		api:       api,
		repo:      repo,
		publisher: publisher,
		metrics:   metrics.OrNop(m),
		logger:    logger,
		now:       time.Now,
	}
}

// AddListener はセッション変化のリスナーを登録する。
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Login はメールアドレスとパスワードでログインする。
// 失敗した場合、既存のセッションと保存済みトークンは変更しない。
func (s *Store) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError("email", "必須です")
	}
	if password == "" {
		return model.NewValidationError("password", "必須です")
	}

	epoch := s.currentEpoch()
	token, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.metrics.RecordSessionEvent("login_failure")
		s.logger.Info("login failed", slog.String("error", err.Error()))
		return model.NewAuthenticationFailedError(err)
	}

	if err := s.establish(ctx, epoch, token); err != nil {
		s.metrics.RecordSessionEvent("login_failure")
		return model.NewAuthenticationFailedError(err)
	}
	s.metrics.RecordSessionEvent("login_success")
	return nil
}

// Register はユーザーを登録し、そのままログイン状態にする。
func (s *Store) Register(ctx context.Context, name, email, password string) error {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	switch {
	case name == "":
		return model.NewValidationError("name", "必須です")
	case email == "":
		return model.NewValidationError("email", "必須です")
	case password == "":
		return model.NewValidationError("password", "必須です")
	}

	epoch := s.currentEpoch()
	token, err := s.api.Register(ctx, name, email, password)
	if err != nil {
		s.metrics.RecordSessionEvent("register_failure")
		s.logger.Info("registration failed", slog.String("error", err.Error()))
		apiErr := model.NewAuthenticationFailedError(err)
		apiErr.Message = "ユーザー登録に失敗しました。"
		apiErr.Action = "入力内容を確認して、再度お試しください。"
		return apiErr
	}

	if err := s.establish(ctx, epoch, token); err != nil {
		s.metrics.RecordSessionEvent("register_failure")
		return model.NewAuthenticationFailedError(err)
	}
	s.metrics.RecordSessionEvent("register_success")
	return nil
}

// Logout はセッションを破棄する。冪等で、メモリ上の状態は常にクリアされる。
// 保存済みトークンの削除に失敗した場合のみエラーを返す。
func (s *Store) Logout(ctx context.Context) error {
	s.persistMu.Lock()
	s.mu.Lock()
	hadSession := s.token != ""
	s.token = ""
	s.user = nil
	s.expiresAt = nil
	s.epoch++
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	var deleteErr error
	if err := s.repo.Delete(ctx); err != nil {
		s.logger.Error("failed to delete persisted token", slog.String("error", err.Error()))
		deleteErr = fmt.Errorf("failed to delete persisted token: %w", err)
	}
	s.persistMu.Unlock()

	for _, l := range listeners {
		l.SessionEnded()
	}

	if hadSession {
		s.metrics.RecordSessionEvent("logout")
		s.publisher.Publish(notify.Event{
			Topic: notify.TopicSession,
			Data:  map[string]any{"authenticated": false},
		})
	}
	return deleteErr
}

// Restore は保存済みトークンからセッションを復元する。
// プロセス内で1回だけ実行され、2回目以降は初回の結果を返す。
// 期限切れのトークンはユーザー照会なしで破棄し、照会に失敗したトークンも破棄する。
// 照会失敗時はエラーを返すが、セッションは未ログイン状態として利用可能。
func (s *Store) Restore(ctx context.Context) error {
	s.restoreOnce.Do(func() {
		s.restoreErr = s.restore(ctx)
	})
	return s.restoreErr
}

func (s *Store) restore(ctx context.Context) error {
	epoch := s.currentEpoch()

	token, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load persisted token", slog.String("error", err.Error()))
		return fmt.Errorf("failed to load persisted token: %w", err)
	}
	if token == "" {
		return nil
	}

	if exp := tokenExpiry(token); exp != nil && !s.now().Before(*exp) {
		s.logger.Info("persisted token has expired, clearing", slog.Time("expired_at", *exp))
		s.metrics.RecordSessionEvent("restore_expired")
		s.discardPersisted(ctx, epoch)
		return nil
	}

	user, err := s.api.Me(ctx, token)
	if err != nil {
		s.logger.Warn("persisted token could not be resolved, clearing", slog.String("error", err.Error()))
		s.metrics.RecordSessionEvent("restore_failure")
		s.discardPersisted(ctx, epoch)
		return err
	}

	s.persistMu.Lock()
	change, ok := s.commit(epoch, token, user)
	s.persistMu.Unlock()
	if !ok {
		return nil
	}
	s.announce(ctx, change)
	s.metrics.RecordSessionEvent("restore_success")
	return nil
}

// establish はトークンからユーザーを解決し、保存したうえでセッションを確定する。
func (s *Store) establish(ctx context.Context, epoch uint64, token string) error {
	user, err := s.api.Me(ctx, token)
	if err != nil {
		s.logger.Warn("issued token could not be resolved", slog.String("error", err.Error()))
		return err
	}

	s.persistMu.Lock()
	change, ok := s.commit(epoch, token, user)
	if ok {
		if err := s.repo.Save(ctx, token); err != nil {
			// メモリ上のセッションは有効。再起動後に復元できないだけ。
			s.logger.Error("failed to persist token", slog.String("error", err.Error()))
		}
	}
	s.persistMu.Unlock()
	if !ok {
		return errSuperseded
	}

	s.announce(ctx, change)
	return nil
}

// sessionChange はcommitで確定した変更の通知内容。
type sessionChange struct {
	snapshot  model.Session
	replaced  bool
	listeners []Listener
}

// commit はepochが変わっていなければセッションを設定する。persistMuを保持して呼ぶ。
func (s *Store) commit(epoch uint64, token string, user *model.User) (sessionChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		s.logger.Info("discarding superseded session result")
		return sessionChange{}, false
	}
	replaced := s.token != ""
	s.token = token
	s.user = user
	s.expiresAt = tokenExpiry(token)
	s.epoch++

	return sessionChange{
		snapshot:  s.snapshotLocked(),
		replaced:  replaced,
		listeners: append([]Listener(nil), s.listeners...),
	}, true
}

// announce は確定したセッションをリスナーと購読者に通知する。
func (s *Store) announce(ctx context.Context, c sessionChange) {
	for _, l := range c.listeners {
		if c.replaced {
			l.SessionEnded()
		}
		l.SessionStarted(ctx, c.snapshot)
	}

	s.logger.Info("session established", slog.String("user_id", c.snapshot.User.ID))
	s.publisher.Publish(notify.Event{
		Topic: notify.TopicSession,
		Data:  map[string]any{"authenticated": true, "user_id": c.snapshot.User.ID},
	})
}

// discardPersisted は復元開始後にセッションが変わっていない場合に限り保存済みトークンを削除する。
func (s *Store) discardPersisted(ctx context.Context, epoch uint64) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if s.currentEpoch() != epoch {
		return
	}
	if err := s.repo.Delete(ctx); err != nil {
		s.logger.Error("failed to delete stale token", slog.String("error", err.Error()))
	}
}

// CurrentUser は現在のユーザーを返す。未ログインの場合はnilを返す。
func (s *Store) CurrentUser() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Token は現在のアクセストークンを返す。未ログインの場合は空文字を返す。
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Snapshot は現在のセッション状態のコピーを返す。
func (s *Store) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.Session {
	snap := model.Session{Token: s.token}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.expiresAt != nil {
		exp := *s.expiresAt
		snap.ExpiresAt = &exp
	}
	return snap
}

func (s *Store) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// tokenExpiry はJWTのexpクレームを署名検証なしで読み取る。
// JWTでないトークンやexpを持たないトークンはnilを返す。
func tokenExpiry(token string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}
