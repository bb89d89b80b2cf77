package storetest

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type productJSON struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	IsActive    bool            `json:"is_active"`
}

func toProductJSON(p Product) productJSON {
	return productJSON{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Category:    p.Category,
		IsActive:    p.Active,
	}
}

type orderItemJSON struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type orderJSON struct {
	ID            string            `json:"id"`
	Items         []orderItemJSON   `json:"items"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	PaymentStatus string            `json:"payment_status"`
	PaymentID     *string           `json:"payment_id"`
	CreatedAt     time.Time         `json:"created_at"`
	DownloadLinks map[string]string `json:"download_links,omitempty"`
}

func toOrderJSON(o *order) orderJSON {
	out := orderJSON{
		ID:            o.id,
		Items:         make([]orderItemJSON, 0, len(o.lines)),
		TotalAmount:   o.total,
		PaymentStatus: o.status,
		CreatedAt:     o.created,
		DownloadLinks: o.links,
	}
	for _, l := range o.lines {
		out.Items = append(out.Items, orderItemJSON{ProductID: l.productID, Title: l.title, Quantity: l.quantity, Price: l.price})
	}
	if o.paymentID != "" {
		id := o.paymentID
		out.PaymentID = &id
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	u, ok := s.users[body.Email]
	if !ok || u.password != body.Password {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	delete(s.revoked, u.id)
	token, err := s.signLocked(u, s.TokenTTL)
	s.mu.Unlock()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[body.Email]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := s.addUserLocked(body.Name, body.Email, body.Password)
	token, err := s.signLocked(u, s.TokenTTL)
	s.mu.Unlock()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, u *user) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         u.id,
		"name":       u.name,
		"email":      u.email,
		"is_admin":   u.isAdmin,
		"created_at": u.created,
	})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]map[string]any, 0, len(s.carts[u.id]))
	for _, line := range s.carts[u.id] {
		entry := map[string]any{"quantity": line.Quantity}
		if p, ok := s.findProductLocked(line.ProductID); ok {
			entry["product"] = toProductJSON(p)
		} else {
			entry["product_id"] = line.ProductID
		}
		items = append(items, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request, u *user) {
	var body struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProductID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if body.Quantity <= 0 {
		body.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.findProductLocked(body.ProductID)
	if !ok || !p.Active {
		writeDetail(w, http.StatusNotFound, "Product not found")
		return
	}
	lines := s.carts[u.id]
	for i := range lines {
		if lines[i].ProductID == body.ProductID {
			lines[i].Quantity += body.Quantity
			writeJSON(w, http.StatusOK, map[string]string{"message": "Item added to cart"})
			return
		}
	}
	s.carts[u.id] = append(lines, CartLine{ProductID: body.ProductID, Quantity: body.Quantity})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Item added to cart"})
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request, u *user) {
	productID := chi.URLParam(r, "productID")

	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.carts[u.id]
	for i := range lines {
		if lines[i].ProductID == productID {
			s.carts[u.id] = append(lines[:i:i], lines[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Item removed from cart"})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Item not in cart")
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[u.id]
	if len(lines) == 0 {
		writeDetail(w, http.StatusBadRequest, "Cart is empty")
		return
	}

	o := &order{
		id:      uuid.NewString(),
		userID:  u.id,
		status:  "pending",
		created: time.Now().UTC(),
		total:   decimal.Zero,
	}
	for _, line := range lines {
		p, ok := s.findProductLocked(line.ProductID)
		if !ok {
			continue
		}
		o.lines = append(o.lines, orderLine{productID: p.ID, title: p.Title, quantity: line.Quantity, price: p.Price})
		o.total = o.total.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	o.total = o.total.Add(s.totalSkew)

	s.orders[o.id] = o
	s.orderSeq = append(s.orderSeq, o.id)
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

func (s *Server) handleCompletePayment(w http.ResponseWriter, r *http.Request, u *user) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	paymentID := r.PostForm.Get("payment_id")
	if paymentID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "payment_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[chi.URLParam(r, "id")]
	if !ok || o.userID != u.id {
		writeDetail(w, http.StatusNotFound, "Order not found")
		return
	}
	if o.status != "pending" {
		writeDetail(w, http.StatusBadRequest, "Order is not pending")
		return
	}

	o.paymentID = paymentID
	switch s.paymentMode {
	case PaymentCompletes:
		s.completeLocked(o)
	case PaymentCancels:
		o.status = "cancelled"
	}

	if s.OmitPaymentBody {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Payment received"})
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

// completeLocked は注文を完了にし、ダウンロードリンクを付与してカートを空にする。
func (s *Server) completeLocked(o *order) {
	o.status = "completed"
	o.links = make(map[string]string, len(o.lines))
	for _, l := range o.lines {
		o.links[l.productID] = s.fileURL(l.productID)
	}
	delete(s.carts, o.userID)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]orderJSON, 0)
	for _, id := range s.orderSeq {
		if o := s.orders[id]; o.userID == u.id {
			out = append(out, toOrderJSON(o))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[chi.URLParam(r, "id")]
	if !ok || o.userID != u.id {
		writeDetail(w, http.StatusNotFound, "Order not found")
		return
	}
	if o.status == "pending" && o.paymentID != "" && s.paymentMode == PaymentSettlesLater {
		o.polls++
		if o.polls >= s.SettleAfterPolls {
			s.completeLocked(o)
		}
	}
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]productJSON, 0, len(s.products))
	for _, p := range s.products {
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, toProductJSON(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.findProductLocked(chi.URLParam(r, "id"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, toProductJSON(p))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, p := range s.products {
		if p.Category != "" && !seen[p.Category] {
			seen[p.Category] = true
			names = append(names, p.Category)
		}
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"categories": names})
}

// handleFile はダウンロードリンクの実体として商品IDを含む本文を返す。
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	s.mu.Lock()
	s.downloads[productID]++
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write([]byte("content of " + productID))
}
