package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/storefront/internal/model"
)

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewUnauthenticatedError(), http.StatusUnauthorized},
		{model.NewAuthenticationFailedError(nil), http.StatusUnauthorized},
		{model.NewForbiddenError("管理画面"), http.StatusForbidden},
		{model.NewValidationError("f", "r"), http.StatusBadRequest},
		{model.NewNotFoundError("商品", "P1"), http.StatusNotFound},
		{model.NewEmptyCartError(), http.StatusConflict},
		{model.NewPriceMismatchError("1.00", "2.00"), http.StatusConflict},
		{model.NewInvalidTransitionError("idle", "completed"), http.StatusConflict},
		{model.NewOrderNotSettledError("O1"), http.StatusConflict},
		{model.NewPaymentFailedError("declined", nil), http.StatusPaymentRequired},
		{model.NewTimeoutError(nil), http.StatusGatewayTimeout},
		{model.NewCancelledError(nil), http.StatusServiceUnavailable},
		{model.NewServerError(500, ""), http.StatusBadGateway},
		{model.NewNetworkError(nil), http.StatusBadGateway},
		{model.NewMalformedResponseError(nil), http.StatusBadGateway},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("cart: %w", model.NewEmptyCartError()))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeEmptyCart {
		t.Errorf("code = %v, want %s", body["code"], model.ErrCodeEmptyCart)
	}
}

func TestHandleServiceError_UnknownError_IsInternal(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, errors.New("disk on fire"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %v, want INTERNAL_ERROR", body["code"])
	}
	if body["message"] == "disk on fire" {
		t.Error("想定外のエラーの内容をそのまま返してはならない")
	}
}

// parseAPIErrorResponse はレスポンスボディから統一エラーフォーマットをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
