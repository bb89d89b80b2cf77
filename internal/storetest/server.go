// Package storetest はストアAPIをメモリ上で模倣するテスト用サーバーを提供する。
// セッション・カート・チェックアウトの結合テストで実際のHTTP経路を通すために使う。
package storetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMode はcomplete-payment受信時の注文の扱い。
type PaymentMode int

const (
	// PaymentCompletes は即座にcompletedにする。
	PaymentCompletes PaymentMode = iota
	// PaymentSettlesLater はpendingのまま返し、SettleAfterPolls回の取得後にcompletedにする。
	PaymentSettlesLater
	// PaymentNeverSettles はpendingのまま変化しない。
	PaymentNeverSettles
	// PaymentCancels はcancelledにする。
	PaymentCancels
)

// Product はサーバーに登録する商品。
type Product struct {
	ID          string
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
	Active      bool
}

// ContactMessage は受信したお問い合わせ。
type ContactMessage struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// CartLine はサーバー側カートの1行。
type CartLine struct {
	ProductID string
	Quantity  int
}

type user struct {
	id       string
	name     string
	email    string
	password string
	isAdmin  bool
	created  time.Time
}

type orderLine struct {
	productID string
	title     string
	quantity  int
	price     decimal.Decimal
}

type order struct {
	id        string
	userID    string
	lines     []orderLine
	total     decimal.Decimal
	status    string
	paymentID string
	created   time.Time
	polls     int
	links     map[string]string
}

// Server はストアAPIの模倣サーバー。
// 数量の合算と注文合計の算出はサーバー側で行い、失敗と遅延を操作ごとに注入できる。
type Server struct {
	*httptest.Server

	// TokenTTL は発行するJWTの有効期間。
	TokenTTL time.Duration
	// OmitPaymentBody がtrueの場合、complete-paymentは注文本体を返さない。
	OmitPaymentBody bool
	// SettleAfterPolls はPaymentSettlesLaterでcompletedになるまでの注文取得回数。
	SettleAfterPolls int

	mu          sync.Mutex
	secret      []byte
	users       map[string]*user // email -> user
	usersByID   map[string]*user
	revoked     map[string]bool
	products    []Product
	carts       map[string][]CartLine // userID -> lines
	orders      map[string]*order
	orderSeq    []string
	paymentMode PaymentMode
	totalSkew   decimal.Decimal
	failNext    map[string][]int
	latency     map[string]time.Duration
	counts      map[string]int
	uploads     map[string]map[string][]byte // productID -> kind -> 内容
	downloads   map[string]int
	contacts    []ContactMessage
}

// New はServerを起動する。テスト終了時にCloseすること。
func New() *Server {
	s := &Server{
		TokenTTL:  time.Hour,
		secret:    []byte(uuid.NewString()),
		users:     make(map[string]*user),
		usersByID: make(map[string]*user),
		revoked:   make(map[string]bool),
		carts:     make(map[string][]CartLine),
		orders:    make(map[string]*order),
		failNext:  make(map[string][]int),
		latency:   make(map[string]time.Duration),
		counts:    make(map[string]int),
		uploads:   make(map[string]map[string][]byte),
		downloads: make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.route("health", s.handleHealth))
		r.Post("/login", s.route("login", s.handleLogin))
		r.Post("/register", s.route("register", s.handleRegister))
		r.Get("/me", s.route("me", s.authed(s.handleMe)))

		r.Get("/cart", s.route("get_cart", s.authed(s.handleGetCart)))
		r.Post("/cart/add", s.route("add_to_cart", s.authed(s.handleAddToCart)))
		r.Delete("/cart/remove/{productID}", s.route("remove_from_cart", s.authed(s.handleRemoveFromCart)))

		r.Get("/orders", s.route("list_orders", s.authed(s.handleListOrders)))
		r.Post("/orders", s.route("create_order", s.authed(s.handleCreateOrder)))
		r.Post("/orders/create", s.route("create_order", s.authed(s.handleCreateOrder)))
		r.Get("/orders/{id}", s.route("get_order", s.authed(s.handleGetOrder)))
		r.Post("/orders/{id}/complete-payment", s.route("complete_payment", s.authed(s.handleCompletePayment)))

		r.Get("/products", s.route("list_products", s.handleListProducts))
		r.Get("/products/{id}", s.route("get_product", s.handleGetProduct))
		r.Get("/categories", s.route("list_categories", s.handleListCategories))
		r.Post("/contact", s.route("contact", s.handleContact))

		r.Get("/admin/stats", s.route("admin_stats", s.authed(s.adminOnly(s.handleAdminStats))))
		r.Get("/admin/products", s.route("admin_products", s.authed(s.adminOnly(s.handleAdminProducts))))
		r.Get("/admin/orders", s.route("admin_orders", s.authed(s.adminOnly(s.handleAdminOrders))))
		r.Post("/products", s.route("create_product", s.authed(s.adminOnly(s.handleCreateProduct))))
		r.Post("/products/{id}/upload-ebook", s.route("upload_ebook", s.authed(s.adminOnly(s.handleUpload("ebook")))))
		r.Post("/products/{id}/upload-cover", s.route("upload_cover", s.authed(s.adminOnly(s.handleUpload("cover")))))
	})
	r.Get("/files/{productID}", s.route("download", s.handleFile))
	return r
}

// --- テストからの操作 ---

// AddUser はユーザーを登録し、IDを返す。
func (s *Server) AddUser(name, email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(name, email, password).id
}

func (s *Server) addUserLocked(name, email, password string) *user {
	u := &user{id: uuid.NewString(), name: name, email: email, password: password, created: time.Now().UTC()}
	s.users[email] = u
	s.usersByID[u.id] = u
	return u
}

// AddAdmin は管理者ユーザーを登録し、IDを返す。
func (s *Server) AddAdmin(name, email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.addUserLocked(name, email, password)
	u.isAdmin = true
	return u.id
}

// AddProduct は商品を登録する。
func (s *Server) AddProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, p)
}

// SetPrice は登録済み商品の価格を変更する。作成済みの注文には影響しない。
func (s *Server) SetPrice(productID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == productID {
			s.products[i].Price = price
		}
	}
}

// SetPaymentMode はcomplete-paymentの結果を切り替える。
func (s *Server) SetPaymentMode(mode PaymentMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentMode = mode
}

// SetTotalSkew は作成する注文の合計に加算する金額を設定する。金額検証のテストに使う。
func (s *Server) SetTotalSkew(d decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSkew = d
}

// FailNext は指定した操作の次のリクエストを指定ステータスで失敗させる。
// 複数回呼ぶと順に消費される。
func (s *Server) FailNext(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = append(s.failNext[op], status)
}

// SetLatency は指定した操作の応答を遅らせる。
func (s *Server) SetLatency(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[op] = d
}

// Count は指定した操作の受信回数を返す。
func (s *Server) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// RevokeAll は発行済みトークンをすべて無効にする。
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.usersByID {
		s.revoked[u.id] = true
	}
}

// Cart はユーザーのサーバー側カートを返す。
func (s *Server) Cart(email string) []CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil
	}
	return append([]CartLine(nil), s.carts[u.id]...)
}

// OrderStatus は注文の現在の支払い状態を返す。
func (s *Server) OrderStatus(orderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		return o.status
	}
	return ""
}

// Upload は商品にアップロードされたファイルの内容を返す。kindは "ebook" または "cover"。
func (s *Server) Upload(productID, kind string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[productID][kind]
}

// ContactMessages は受信したお問い合わせを受信順に返す。
func (s *Server) ContactMessages() []ContactMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ContactMessage(nil), s.contacts...)
}

// IssueToken はユーザーのトークンを有効期間ttlで発行する。期限切れトークンのテストに使う。
func (s *Server) IssueToken(email string, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return ""
	}
	token, _ := s.signLocked(u, ttl)
	return token
}

// --- ミドルウェア ---

// route は受信回数の記録、遅延と失敗の注入を行う。
func (s *Server) route(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[op]++
		delay := s.latency[op]
		fail := 0
		if q := s.failNext[op]; len(q) > 0 {
			fail, s.failNext[op] = q[0], q[1:]
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail != 0 {
			writeDetail(w, fail, "injected failure")
			return
		}
		next(w, r)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u *user)

func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		s.mu.Lock()
		u, found := s.usersByID[claims.Subject]
		revoked := s.revoked[claims.Subject]
		s.mu.Unlock()
		if !found || revoked {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r, u)
	}
}

func (s *Server) adminOnly(next authedHandler) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, u *user) {
		if !u.isAdmin {
			writeDetail(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r, u)
	}
}

func (s *Server) signLocked(u *user, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   u.id,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) findProductLocked(id string) (Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func (s *Server) fileURL(productID string) string {
	return fmt.Sprintf("%s/files/%s", s.URL, productID)
}
