package storetest

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type adminProductJSON struct {
	productJSON
	Downloads int `json:"downloads"`
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request, _ *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revenue := decimal.Zero
	for _, o := range s.orders {
		if o.status == "completed" {
			revenue = revenue.Add(o.total)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_products": len(s.products),
		"total_orders":   len(s.orders),
		"total_users":    len(s.usersByID),
		"total_revenue":  revenue.InexactFloat64(),
	})
}

func (s *Server) handleAdminProducts(w http.ResponseWriter, r *http.Request, _ *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]adminProductJSON, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, adminProductJSON{productJSON: toProductJSON(p), Downloads: s.downloads[p.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request, _ *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]orderJSON, 0, len(s.orderSeq))
	for _, id := range s.orderSeq {
		out = append(out, toOrderJSON(s.orders[id]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request, _ *user) {
	var body struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Category    string          `json:"category"`
		Price       decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	p := Product{
		ID:          uuid.NewString(),
		Title:       body.Title,
		Description: body.Description,
		Price:       body.Price,
		Category:    body.Category,
		Active:      true,
	}
	s.mu.Lock()
	s.products = append(s.products, p)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, toProductJSON(p))
}

// handleUpload はmultipartのfileフィールドを商品に保存する。
func (s *Server) handleUpload(kind string) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *user) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeDetail(w, http.StatusUnprocessableEntity, "multipart/form-data is required")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "file is required")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}

		productID := chi.URLParam(r, "id")
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.findProductLocked(productID); !ok {
			writeDetail(w, http.StatusNotFound, "Product not found")
			return
		}
		if s.uploads[productID] == nil {
			s.uploads[productID] = make(map[string][]byte)
		}
		s.uploads[productID][kind] = data
		writeJSON(w, http.StatusOK, map[string]string{"message": kind + " uploaded successfully"})
	}
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Message == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	s.contacts = append(s.contacts, ContactMessage{Name: body.Name, Email: body.Email, Subject: body.Subject, Message: body.Message})
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Message sent successfully"})
}
