package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/storefront/internal/cart"
	"github.com/hitoshi/storefront/internal/checkout"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/notify"
	"github.com/hitoshi/storefront/internal/payment"
	"github.com/hitoshi/storefront/internal/security"
)

// --- モック定義 ---

type mockSessions struct {
	user       *model.User
	token      string
	loginFn    func(ctx context.Context, email, password string) error
	registerFn func(ctx context.Context, name, email, password string) error
}

func (m *mockSessions) Login(ctx context.Context, email, password string) error {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	m.user = &model.User{ID: "u1", Email: email}
	m.token = "tok"
	return nil
}

func (m *mockSessions) Register(ctx context.Context, name, email, password string) error {
	if m.registerFn != nil {
		return m.registerFn(ctx, name, email, password)
	}
	m.user = &model.User{ID: "u2", Name: name, Email: email}
	m.token = "tok"
	return nil
}

func (m *mockSessions) Logout(ctx context.Context) error {
	m.user, m.token = nil, ""
	return nil
}

func (m *mockSessions) Snapshot() model.Session {
	return model.Session{Token: m.token, User: m.user}
}

func (m *mockSessions) CurrentUser() *model.User { return m.user }

func (m *mockSessions) Token() string { return m.token }

type mockCart struct {
	snapshot cart.Snapshot
	addFn    func(ctx context.Context, productID string, quantity int) error
	removed  []string
}

func (m *mockCart) Fetch(ctx context.Context) error { return nil }

func (m *mockCart) Add(ctx context.Context, productID string, quantity int) error {
	if m.addFn != nil {
		return m.addFn(ctx, productID, quantity)
	}
	m.snapshot.Items = append(m.snapshot.Items, model.CartItem{ProductID: productID, Quantity: quantity})
	m.snapshot.ItemCount += quantity
	return nil
}

func (m *mockCart) Remove(ctx context.Context, productID string) error {
	m.removed = append(m.removed, productID)
	return nil
}

func (m *mockCart) Snapshot() cart.Snapshot { return m.snapshot }

func (m *mockCart) Items() []model.CartItem { return m.snapshot.Items }

func (m *mockCart) ItemCount() int { return m.snapshot.ItemCount }

func (m *mockCart) Clear() { m.snapshot = cart.Snapshot{} }

type mockCatalog struct {
	products []model.Product
}

func (m *mockCatalog) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	var out []model.Product
	for _, p := range m.products {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) GetProduct(ctx context.Context, productID string) (model.Product, error) {
	for _, p := range m.products {
		if p.ID == productID {
			return p, nil
		}
	}
	return model.Product{}, model.NewNotFoundError("商品", productID)
}

func (m *mockCatalog) ListCategories(ctx context.Context) ([]model.Category, error) {
	return []model.Category{{Name: "ebooks"}}, nil
}

// fakeOrders は1件の注文を作成し、支払い送信で即座にcompletedにする。
type fakeOrders struct {
	catalog *mockCatalog
	order   model.Order
}

func (f *fakeOrders) CreateOrder(ctx context.Context, token string) (model.Order, error) {
	return f.order, nil
}

func (f *fakeOrders) CompletePayment(ctx context.Context, token, orderID string, ref model.PaymentReference) (model.Order, bool, error) {
	o := f.order
	o.Status = model.OrderStatusCompleted
	o.PaymentID = ref.ID
	return o, true, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, token, orderID string) (model.Order, error) {
	if orderID != f.order.ID {
		return model.Order{}, model.NewNotFoundError("注文", orderID)
	}
	return f.order, nil
}

func (f *fakeOrders) ListOrders(ctx context.Context, token string) ([]model.Order, error) {
	return []model.Order{f.order}, nil
}

func (f *fakeOrders) GetProduct(ctx context.Context, productID string) (model.Product, error) {
	return f.catalog.GetProduct(ctx, productID)
}

type stubHealth struct{ err error }

func (s stubHealth) Health(ctx context.Context) error { return s.err }

// --- テストヘルパー ---

type testEnv struct {
	router   http.Handler
	sessions *mockSessions
	cart     *mockCart
	hub      *notify.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	catalog := &mockCatalog{products: []model.Product{
		{ID: "P1", Title: "Go入門", Description: `<p>入門書</p><script>alert(1)</script>`, Price: decimal.RequireFromString("9.99"), Category: "ebooks", IsActive: true},
		{ID: "P2", Title: "非公開", Price: decimal.RequireFromString("1.00"), Category: "ebooks", IsActive: false},
	}}
	sessions := &mockSessions{}
	c := &mockCart{}
	orders := &fakeOrders{catalog: catalog, order: model.Order{
		ID:          "O1",
		Items:       []model.OrderItem{{ProductID: "P1", Quantity: 1}},
		TotalAmount: decimal.RequireFromString("9.99"),
		Status:      model.OrderStatusPending,
	}}
	orch := checkout.NewOrchestrator(orders, c, sessions, checkout.Options{PollInterval: time.Millisecond, SettleTimeout: time.Second}, logger)
	hub := notify.NewHub()

	router := NewRouter(&RouterDeps{
		Sessions: sessions,
		Cart:     c,
		Checkout: orch,
		Providers: func(provider, reference string) (payment.Provider, error) {
			return payment.NewReferenceProvider(provider, reference), nil
		},
		Catalog:       catalog,
		Sanitizer:     security.NewDescriptionSanitizer(),
		Events:        hub,
		Health:        stubHealth{},
		Metrics:       http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		AllowedOrigin: "http://localhost:3000",
		Logger:        logger,
	})
	return &testEnv{router: router, sessions: sessions, cart: c, hub: hub}
}

// do はCSRFトークンを付けてリクエストを実行する。
func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "test-token"})
	req.Header.Set("X-CSRF-Token", "test-token")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}

// --- テスト ---

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	NewHealthHandler(stubHealth{err: errors.New("down")}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestRouter_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var s sessionView
	decodeBody(t, env.do(http.MethodGet, "/view/session", nil), &s)
	if s.Authenticated {
		t.Fatal("初期状態は未ログイン")
	}

	w := env.do(http.MethodPost, "/view/session/login", loginRequest{Email: "a@example.com", Password: "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	decodeBody(t, w, &s)
	if !s.Authenticated || s.User == nil || s.User.Email != "a@example.com" {
		t.Errorf("session = %+v", s)
	}

	w = env.do(http.MethodPost, "/view/session/logout", nil)
	decodeBody(t, w, &s)
	if s.Authenticated {
		t.Error("ログアウト後は未ログイン")
	}
}

func TestRouter_LoginFailure_Returns401(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.loginFn = func(ctx context.Context, email, password string) error {
		return model.NewAuthenticationFailedError(errors.New("401"))
	}

	w := env.do(http.MethodPost, "/view/session/login", loginRequest{Email: "a@example.com", Password: "bad"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeAuthenticationFailed {
		t.Errorf("code = %v", body["code"])
	}
}

func TestRouter_InvalidJSON_Returns400(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/view/session/login", strings.NewReader("{"))
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "t"})
	req.Header.Set("X-CSRF-Token", "t")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_CartRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/view/cart", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeUnauthenticated {
		t.Errorf("code = %v", body["code"])
	}
}

func TestRouter_CartAddAndRemove(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login(context.Background(), "a@example.com", "pw")

	w := env.do(http.MethodPost, "/view/cart/items", map[string]any{"product_id": "P1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var cv cartView
	decodeBody(t, w, &cv)
	if cv.ItemCount != 1 || len(cv.Items) != 1 || cv.Items[0].Quantity != 1 {
		t.Errorf("quantity省略時は1: %+v", cv)
	}

	w = env.do(http.MethodDelete, "/view/cart/items/P1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.cart.removed) != 1 || env.cart.removed[0] != "P1" {
		t.Errorf("removed = %v", env.cart.removed)
	}
}

func TestRouter_CartAdd_ValidationError(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login(context.Background(), "a@example.com", "pw")
	env.cart.addFn = func(ctx context.Context, productID string, quantity int) error {
		return model.NewValidationError("quantity", "1以上を指定してください")
	}

	w := env.do(http.MethodPost, "/view/cart/items", map[string]any{"product_id": "P1", "quantity": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_CartWithoutCSRF_Returns403(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login(context.Background(), "a@example.com", "pw")

	req := httptest.NewRequest(http.MethodPost, "/view/cart/items", strings.NewReader(`{"product_id":"P1"}`))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_Products_SanitizedAndActiveOnly(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/view/products?category=ebooks", nil)
	var body struct {
		Products []productView `json:"products"`
	}
	decodeBody(t, w, &body)
	if len(body.Products) != 1 || body.Products[0].ID != "P1" {
		t.Fatalf("products = %+v", body.Products)
	}
	p := body.Products[0]
	if strings.Contains(p.Description, "script") || !strings.Contains(p.Description, "<p>入門書</p>") {
		t.Errorf("description = %q", p.Description)
	}
	if p.Price != "9.99" {
		t.Errorf("price = %q", p.Price)
	}

	w = env.do(http.MethodGet, "/view/products/NOPE", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_Checkout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login(context.Background(), "a@example.com", "pw")

	w := env.do(http.MethodPost, "/view/checkout", checkoutRequest{Provider: "paypal", PaymentRef: "PAYID-1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeEmptyCart {
		t.Errorf("code = %v", body["code"])
	}
}

func TestRouter_Checkout_Completed(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login(context.Background(), "a@example.com", "pw")
	env.cart.Add(context.Background(), "P1", 1)

	w := env.do(http.MethodPost, "/view/checkout", checkoutRequest{Provider: "paypal", PaymentRef: "PAYID-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var av attemptView
	decodeBody(t, w, &av)
	if av.State != string(model.CheckoutStateCompleted) {
		t.Errorf("state = %s", av.State)
	}
	if av.Order == nil || av.Order.PaymentID != "PAYID-1" || av.Order.TotalAmount != "9.99" {
		t.Errorf("order = %+v", av.Order)
	}
	if len(av.History) != 3 {
		t.Errorf("history = %+v", av.History)
	}
	if env.cart.ItemCount() != 0 {
		t.Error("Completed 後はカートが空であるべき")
	}
}

func TestRouter_Orders(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login(context.Background(), "a@example.com", "pw")

	var body struct {
		Orders []orderView `json:"orders"`
	}
	decodeBody(t, env.do(http.MethodGet, "/view/orders", nil), &body)
	if len(body.Orders) != 1 || body.Orders[0].ID != "O1" || body.Orders[0].ItemCount != 1 {
		t.Errorf("orders = %+v", body.Orders)
	}

	if w := env.do(http.MethodGet, "/view/orders/O2", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_Events_StreamsHubEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/view/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil || ev.Topic != "connected" {
		t.Fatalf("first event = %+v, err = %v", ev, err)
	}

	env.hub.Publish(notify.Event{Topic: notify.TopicCart, Data: map[string]any{"item_count": 2}})
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ev.Topic != notify.TopicCart || ev.Data["item_count"] != float64(2) {
		t.Errorf("event = %+v", ev)
	}
}

func TestRouter_Events_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/view/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatal("許可されていないオリジンからの接続は拒否されるべき")
	}
}

var _ middleware.SessionReader = (*mockSessions)(nil)
