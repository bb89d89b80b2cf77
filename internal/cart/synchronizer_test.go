package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/notify"
)

// --- テスト用モック ---

type mockCartAPI struct {
	getCartFn func(ctx context.Context, token string) (model.Cart, []model.Product, error)
	addFn     func(ctx context.Context, token, productID string, quantity int) error
	removeFn  func(ctx context.Context, token, productID string) error

	calls atomic.Int32
}

func (m *mockCartAPI) GetCart(ctx context.Context, token string) (model.Cart, []model.Product, error) {
	m.calls.Add(1)
	return m.getCartFn(ctx, token)
}

func (m *mockCartAPI) AddToCart(ctx context.Context, token, productID string, quantity int) error {
	m.calls.Add(1)
	return m.addFn(ctx, token, productID, quantity)
}

func (m *mockCartAPI) RemoveFromCart(ctx context.Context, token, productID string) error {
	m.calls.Add(1)
	return m.removeFn(ctx, token, productID)
}

type staticToken string

func (t staticToken) Token() string { return string(t) }

// serverCart はサーバー側のカートを模した状態。追加時に数量を合算する。
type serverCart struct {
	mu    sync.Mutex
	lines []model.CartItem
}

func (c *serverCart) api() *mockCartAPI {
	return &mockCartAPI{
		getCartFn: func(ctx context.Context, token string) (model.Cart, []model.Product, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			return model.Cart{Items: append([]model.CartItem(nil), c.lines...)}, nil, nil
		},
		addFn: func(ctx context.Context, token, productID string, quantity int) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i := range c.lines {
				if c.lines[i].ProductID == productID {
					c.lines[i].Quantity += quantity
					return nil
				}
			}
			c.lines = append(c.lines, model.CartItem{ProductID: productID, Quantity: quantity})
			return nil
		},
		removeFn: func(ctx context.Context, token, productID string) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i := range c.lines {
				if c.lines[i].ProductID == productID {
					c.lines = append(c.lines[:i], c.lines[i+1:]...)
					break
				}
			}
			return nil
		},
	}
}

func (c *serverCart) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

func newTestSync(api CartAPI, token string) *Synchronizer {
	return NewSynchronizer(api, staticToken(token), nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

// --- Add / Remove ---

func TestSynchronizer_Add_Unauthenticated_NoNetworkCall(t *testing.T) {
	api := (&serverCart{}).api()
	s := newTestSync(api, "")

	for _, qty := range []int{1, 0, -1} {
		err := s.Add(context.Background(), "P1", qty)
		if !model.HasCode(err, model.ErrCodeUnauthenticated) {
			t.Errorf("Add(qty=%d) error = %v, want %s", qty, err, model.ErrCodeUnauthenticated)
		}
	}
	if n := api.calls.Load(); n != 0 {
		t.Errorf("未ログイン時にAPIを呼び出してはならない: calls=%d", n)
	}
}

func TestSynchronizer_Add_InvalidInput(t *testing.T) {
	api := (&serverCart{}).api()
	s := newTestSync(api, "tok")

	tests := []struct {
		name      string
		productID string
		quantity  int
	}{
		{"empty product", "", 1},
		{"slash in product", "a/b", 1},
		{"dot segment", ".", 1},
		{"parent segment", "..", 1},
		{"zero quantity", "P1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(context.Background(), tt.productID, tt.quantity)
			if !model.HasCode(err, model.ErrCodeValidation) {
				t.Errorf("error = %v, want %s", err, model.ErrCodeValidation)
			}
		})
	}
	if n := api.calls.Load(); n != 0 {
		t.Errorf("入力検証エラー時にAPIを呼び出してはならない: calls=%d", n)
	}
}

func TestSynchronizer_Add_CoalescedByServer(t *testing.T) {
	server := &serverCart{}
	s := newTestSync(server.api(), "tok")
	ctx := context.Background()

	if err := s.Add(ctx, "P1", 1); err != nil {
		t.Fatalf("Add がエラーを返した: %v", err)
	}
	if err := s.Add(ctx, "P1", 1); err != nil {
		t.Fatalf("Add がエラーを返した: %v", err)
	}

	items := s.Items()
	if len(items) != 1 || items[0] != (model.CartItem{ProductID: "P1", Quantity: 2}) {
		t.Errorf("items = %+v, want single line P1x2", items)
	}
	if s.ItemCount() != 2 {
		t.Errorf("ItemCount = %d, want 2", s.ItemCount())
	}
}

func TestSynchronizer_Add_ServerFailure_CacheUnchanged(t *testing.T) {
	server := &serverCart{lines: []model.CartItem{{ProductID: "P1", Quantity: 1}}}
	api := server.api()
	s := newTestSync(api, "tok")
	s.Fetch(context.Background())

	api.addFn = func(ctx context.Context, token, productID string, quantity int) error {
		return model.NewServerError(500, "")
	}

	err := s.Add(context.Background(), "P2", 1)
	if !model.HasCode(err, model.ErrCodeNetworkOrServer) {
		t.Fatalf("error = %v, want %s", err, model.ErrCodeNetworkOrServer)
	}
	if s.ItemCount() != 1 {
		t.Errorf("失敗した変更はキャッシュに反映してはならない: ItemCount=%d", s.ItemCount())
	}
}

func TestSynchronizer_Add_ResyncFailure_MarksStale(t *testing.T) {
	server := &serverCart{}
	api := server.api()
	s := newTestSync(api, "tok")

	api.getCartFn = func(ctx context.Context, token string) (model.Cart, []model.Product, error) {
		return model.Cart{}, nil, model.NewNetworkError(errors.New("reset"))
	}

	if err := s.Add(context.Background(), "P1", 1); err != nil {
		t.Fatalf("サーバーが追加を確定した場合は成功とする: %v", err)
	}
	snap := s.Snapshot()
	if !snap.Stale {
		t.Error("再取得に失敗した場合は Stale を示すべき")
	}
	if snap.ItemCount != 0 {
		t.Errorf("再取得できない場合はローカルで数量を加算しない: ItemCount=%d", snap.ItemCount)
	}
}

func TestSynchronizer_Remove_Twice_Idempotent(t *testing.T) {
	server := &serverCart{lines: []model.CartItem{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1}}}
	s := newTestSync(server.api(), "tok")
	ctx := context.Background()

	if err := s.Remove(ctx, "P1"); err != nil {
		t.Fatalf("1回目の Remove がエラーを返した: %v", err)
	}
	first := s.Items()
	if err := s.Remove(ctx, "P1"); err != nil {
		t.Fatalf("2回目の Remove がエラーを返した: %v", err)
	}
	second := s.Items()

	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("2回目の Remove 後もカートは変わらないべき: first=%+v second=%+v", first, second)
	}
}

func TestSynchronizer_Remove_DotSegment_NoNetworkCall(t *testing.T) {
	api := (&serverCart{lines: []model.CartItem{{ProductID: "P1", Quantity: 1}}}).api()
	s := newTestSync(api, "tok")

	for _, id := range []string{".", ".."} {
		err := s.Remove(context.Background(), id)
		if !model.HasCode(err, model.ErrCodeValidation) {
			t.Errorf("Remove(%q) error = %v, want %s", id, err, model.ErrCodeValidation)
		}
	}
	if n := api.calls.Load(); n != 0 {
		t.Errorf("カート全体を指すリクエストを送信してはならない: calls=%d", n)
	}
}

// swappableToken はテスト中にトークンを差し替えられるTokenSource。
type swappableToken struct {
	mu    sync.Mutex
	token string
}

func (t *swappableToken) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *swappableToken) set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

func TestSynchronizer_QueuedMutation_UsesTokenAtSendTime(t *testing.T) {
	tokens := &swappableToken{token: "old-token"}
	release := make(chan struct{})
	entered := make(chan struct{}, 2)

	var mu sync.Mutex
	var sent []string
	api := &mockCartAPI{
		getCartFn: func(ctx context.Context, token string) (model.Cart, []model.Product, error) {
			return model.Cart{}, nil, nil
		},
		addFn: func(ctx context.Context, token, productID string, quantity int) error {
			mu.Lock()
			sent = append(sent, productID+":"+token)
			first := len(sent) == 1
			mu.Unlock()
			entered <- struct{}{}
			if first {
				<-release
			}
			return nil
		},
		removeFn: func(ctx context.Context, token, productID string) error {
			mu.Lock()
			sent = append(sent, productID+":"+token)
			mu.Unlock()
			return nil
		},
	}
	s := NewSynchronizer(api, tokens, nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.Add(ctx, "P1", 1)
	}()
	<-entered

	// 1件目の送信中に後続の変更要求をキューに積む
	go func() {
		defer wg.Done()
		s.Add(ctx, "P2", 1)
	}()
	go func() {
		defer wg.Done()
		s.Remove(ctx, "P3")
	}()
	time.Sleep(50 * time.Millisecond)

	// ログアウト後に別セッションでログインした状態
	tokens.set("new-token")
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 3 {
		t.Fatalf("sent = %v, want 3 requests", sent)
	}
	if sent[0] != "P1:old-token" {
		t.Errorf("sent[0] = %q, want P1:old-token", sent[0])
	}
	for _, req := range sent[1:] {
		if !strings.HasSuffix(req, ":new-token") {
			t.Errorf("待機していた変更要求は現在のトークンで送信するべき: %q", req)
		}
	}
}

func TestSynchronizer_QueuedMutation_LoggedOutWhileWaiting(t *testing.T) {
	tokens := &swappableToken{token: "tok"}
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	api := &mockCartAPI{
		getCartFn: func(ctx context.Context, token string) (model.Cart, []model.Product, error) {
			return model.Cart{}, nil, nil
		},
		addFn: func(ctx context.Context, token, productID string, quantity int) error {
			if productID == "P1" {
				entered <- struct{}{}
				<-release
				return nil
			}
			t.Errorf("ログアウト後に変更要求を送信してはならない: %s", productID)
			return nil
		},
	}
	s := NewSynchronizer(api, tokens, nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	go s.Add(ctx, "P1", 1)
	<-entered

	errc := make(chan error, 1)
	go func() { errc <- s.Add(ctx, "P2", 1) }()
	time.Sleep(50 * time.Millisecond)

	tokens.set("")
	close(release)

	if err := <-errc; !model.HasCode(err, model.ErrCodeUnauthenticated) {
		t.Errorf("error = %v, want %s", err, model.ErrCodeUnauthenticated)
	}
}

// --- Fetch ---

func TestSynchronizer_Fetch_FailureKeepsCachedItems(t *testing.T) {
	server := &serverCart{lines: []model.CartItem{{ProductID: "P1", Quantity: 3}}}
	api := server.api()
	s := newTestSync(api, "tok")

	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch がエラーを返した: %v", err)
	}
	before := s.Items()

	api.getCartFn = func(ctx context.Context, token string) (model.Cart, []model.Product, error) {
		return model.Cart{}, nil, model.NewNetworkError(errors.New("simulated outage"))
	}
	err := s.Fetch(context.Background())
	if !model.HasCode(err, model.ErrCodeNetworkOrServer) {
		t.Fatalf("error = %v, want %s", err, model.ErrCodeNetworkOrServer)
	}

	after := s.Items()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("取得失敗でキャッシュを消してはならない: before=%+v after=%+v", before, after)
	}
}

func TestSynchronizer_Fetch_DiscardsOutOfOrderResponse(t *testing.T) {
	slowRelease := make(chan struct{})
	slowEntered := make(chan struct{})
	var call atomic.Int32

	api := &mockCartAPI{
		getCartFn: func(ctx context.Context, token string) (model.Cart, []model.Product, error) {
			if call.Add(1) == 1 {
				// 1回目の取得は古い状態を返すが、2回目より後に届く
				close(slowEntered)
				<-slowRelease
				return model.Cart{Items: []model.CartItem{{ProductID: "OLD", Quantity: 9}}}, nil, nil
			}
			return model.Cart{Items: []model.CartItem{{ProductID: "NEW", Quantity: 1}}}, nil, nil
		},
	}
	s := newTestSync(api, "tok")

	done := make(chan error, 1)
	go func() { done <- s.Fetch(context.Background()) }()
	<-slowEntered

	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("2回目の Fetch がエラーを返した: %v", err)
	}
	close(slowRelease)
	if err := <-done; err != nil {
		t.Fatalf("1回目の Fetch がエラーを返した: %v", err)
	}

	items := s.Items()
	if len(items) != 1 || items[0].ProductID != "NEW" {
		t.Errorf("古い応答が新しい応答を上書きしてはならない: items=%+v", items)
	}
}

func TestSynchronizer_Clear_DiscardsInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	api := &mockCartAPI{
		getCartFn: func(ctx context.Context, token string) (model.Cart, []model.Product, error) {
			close(entered)
			<-release
			return model.Cart{Items: []model.CartItem{{ProductID: "P1", Quantity: 1}}}, nil, nil
		},
	}
	s := newTestSync(api, "tok")

	done := make(chan error, 1)
	go func() { done <- s.Fetch(context.Background()) }()
	<-entered
	s.Clear()
	close(release)
	<-done

	if s.ItemCount() != 0 {
		t.Errorf("Clear 後に届いた応答は反映してはならない: ItemCount=%d", s.ItemCount())
	}
}

func TestSynchronizer_Fetch_Unauthenticated(t *testing.T) {
	api := (&serverCart{}).api()
	s := newTestSync(api, "")

	if err := s.Fetch(context.Background()); !model.HasCode(err, model.ErrCodeUnauthenticated) {
		t.Fatalf("error = %v, want %s", err, model.ErrCodeUnauthenticated)
	}
	if api.calls.Load() != 0 {
		t.Error("未ログイン時にAPIを呼び出してはならない")
	}
}

// --- 並行実行 ---

func TestSynchronizer_ConcurrentMutations_ConvergeToServerTotal(t *testing.T) {
	server := &serverCart{}
	s := newTestSync(server.api(), "tok")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 4 {
				s.Remove(ctx, "P2")
				return
			}
			s.Add(ctx, []string{"P1", "P2", "P3"}[i%3], 1)
		}(i)
	}
	wg.Wait()

	if err := s.Fetch(ctx); err != nil {
		t.Fatalf("Fetch がエラーを返した: %v", err)
	}
	if got, want := s.ItemCount(), server.total(); got != want {
		t.Errorf("ItemCount = %d, want server total %d", got, want)
	}
}

// --- セッション連携 ---

func TestSynchronizer_SessionLifecycle(t *testing.T) {
	server := &serverCart{lines: []model.CartItem{{ProductID: "P1", Quantity: 2}}}
	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	s := NewSynchronizer(server.api(), staticToken("tok"), hub, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	s.SessionStarted(context.Background(), model.Session{Token: "tok"})
	if s.ItemCount() != 2 {
		t.Fatalf("ログイン時にカートを取得するべき: ItemCount=%d", s.ItemCount())
	}

	s.SessionEnded()
	if s.ItemCount() != 0 {
		t.Errorf("ログアウト時にキャッシュを破棄するべき: ItemCount=%d", s.ItemCount())
	}
	if server.total() != 2 {
		t.Error("Clear はサーバーのカートを変更してはならない")
	}

	var counts []any
	timeout := time.After(time.Second)
	for len(counts) < 2 {
		select {
		case ev := <-events:
			if ev.Topic == notify.TopicCart {
				counts = append(counts, ev.Data["item_count"])
			}
		case <-timeout:
			t.Fatalf("カートイベントが届かない: %v", counts)
		}
	}
	if counts[0] != 2 || counts[1] != 0 {
		t.Errorf("item_count events = %v, want [2 0]", counts)
	}
}
