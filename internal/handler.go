package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Handler HTTP 請求處理器
//
// 只提供唯讀的查詢介面，遊戲動作一律走 WebSocket。
type Handler struct {
	manager   *Manager
	hub       *WebSocketHub
	bestTimes BestTimeReader
	logger    *slog.Logger
}

// BestTimeReader 查詢玩家的單人模式最佳時間
type BestTimeReader interface {
	BestTime(ctx context.Context, participant string) (time.Duration, bool, error)
}

// HandlerOption 處理器選項
type HandlerOption func(*Handler)

// WithBestTimes 啟用最佳時間查詢
func WithBestTimes(reader BestTimeReader) HandlerOption {
	return func(h *Handler) {
		h.bestTimes = reader
	}
}

// NewHandler 創建 HTTP 處理器，hub 可為 nil
func NewHandler(manager *Manager, hub *WebSocketHub, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		manager: manager,
		hub:     hub,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間查詢 API
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoomDetail))

	// 成績查詢
	mux.HandleFunc("GET /api/v1/players/{player_id}/best-time", wrap(h.getBestTime))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := RoomStatus(query.Get("status"))
	switch status {
	case "", StatusWaiting, StatusPlaying:
	default:
		h.errorResponse(w, "無效的房間狀態: "+string(status), http.StatusBadRequest)
		return
	}

	var mode GameMode
	if m := query.Get("mode"); m != "" {
		parsed, ok := ParseGameMode(m)
		if !ok {
			h.errorResponse(w, "無效的遊戲模式: "+m, http.StatusBadRequest)
			return
		}
		mode = parsed
	}

	page := 1
	if p := query.Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	limit := 20
	if l := query.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	rooms, total := h.manager.ListRooms(status, mode, page, limit)

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": total,
		"page":  page,
	}, http.StatusOK)
}

// getRoomDetail 獲取房間詳情
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	room, err := h.manager.GetRoom(r.PathValue("room_id"))
	if errors.Is(err, ErrRoomNotFound) {
		h.errorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	h.jsonResponse(w, room.State(), http.StatusOK)
}

// getBestTime 查詢玩家最佳時間（毫秒）
func (h *Handler) getBestTime(w http.ResponseWriter, r *http.Request) {
	if h.bestTimes == nil {
		h.errorResponse(w, "未啟用成績查詢", http.StatusServiceUnavailable)
		return
	}

	playerID := r.PathValue("player_id")
	best, ok, err := h.bestTimes.BestTime(r.Context(), playerID)
	if err != nil {
		h.logger.Error("查詢最佳時間失敗", "error", err, "player_id", playerID)
		h.errorResponse(w, "查詢最佳時間失敗", http.StatusInternalServerError)
		return
	}
	if !ok {
		h.errorResponse(w, "尚無紀錄", http.StatusNotFound)
		return
	}

	h.jsonResponse(w, map[string]any{
		"player_id":    playerID,
		"best_time_ms": best.Milliseconds(),
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"rooms":  h.manager.RoomCount(),
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	if h.hub != nil {
		stats["connections"] = h.hub.GetConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
