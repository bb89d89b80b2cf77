package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker はストアAPIの疎通を確認する。
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler は GET /health のハンドラーを返す。
// ビューサーバー自体は常に応答し、ストアAPIに到達できない場合は503とdegradedを返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := checker.Health(ctx); err != nil {
			slog.Warn("upstream health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "upstream": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "upstream": "ok"})
	}
}
