package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-memory-match/internal"
	"github.com/koopa0/system-design/14-memory-match/internal/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*internal.Manager, http.Handler) {
	t.Helper()
	manager := newTestManager()
	handler := internal.NewHandler(manager, nil, testLogger())
	return manager, handler.Routes()
}

func doGet(t *testing.T, router http.Handler, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return w, resp
}

// TestHandler_ListRooms 測試房間列表 API
func TestHandler_ListRooms(t *testing.T) {
	manager, router := newTestRouter(t)

	manager.JoinRoom("room_1", "player_001", internal.ModeSingle)
	manager.JoinRoom("room_2", "player_002", internal.ModeMulti)
	manager.JoinRoom("room_3", "player_003", internal.ModeMulti)
	manager.JoinRoom("room_3", "player_004", internal.ModeMulti)

	tests := []struct {
		name           string
		queryParams    string
		expectedStatus int
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:           "list all rooms",
			queryParams:    "",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, float64(3), resp["total"])
				rooms := resp["rooms"].([]any)
				assert.Len(t, rooms, 3)
			},
		},
		{
			name:           "filter by status",
			queryParams:    "?status=waiting",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				rooms := resp["rooms"].([]any)
				require.Len(t, rooms, 1)
				roomMap := rooms[0].(map[string]any)
				assert.Equal(t, "room_2", roomMap["room_id"])
				assert.Equal(t, "waiting", roomMap["status"])
			},
		},
		{
			name:           "filter by game mode",
			queryParams:    "?mode=multi",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				rooms := resp["rooms"].([]any)
				assert.Len(t, rooms, 2)
				for _, room := range rooms {
					roomMap := room.(map[string]any)
					assert.Equal(t, "multi", roomMap["mode"])
				}
			},
		},
		{
			name:           "pagination",
			queryParams:    "?page=2&limit=2",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, float64(3), resp["total"])
				assert.Equal(t, float64(2), resp["page"])
				rooms := resp["rooms"].([]any)
				assert.Len(t, rooms, 1)
			},
		},
		{
			name:           "invalid status",
			queryParams:    "?status=closed",
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Contains(t, resp["error"], "closed")
			},
		},
		{
			name:           "invalid mode",
			queryParams:    "?mode=versus",
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Contains(t, resp["error"], "versus")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doGet(t, router, "/api/v1/rooms"+tt.queryParams)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			tt.validate(t, resp)
		})
	}
}

// TestHandler_GetRoomDetail 測試獲取房間詳情 API
func TestHandler_GetRoomDetail(t *testing.T) {
	manager, router := newTestRouter(t)

	manager.JoinRoom("room_1", "player_001", internal.ModeMulti)
	manager.JoinRoom("room_1", "player_002", internal.ModeMulti)
	manager.Flip("room_1", "player_001", 0)
	manager.Flip("room_1", "player_001", 1) // A/A 配對成功
	manager.Flip("room_1", "player_001", 2)

	w, resp := doGet(t, router, "/api/v1/rooms/room_1")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "room_1", resp["room_id"])
	assert.Equal(t, "multi", resp["mode"])
	assert.Equal(t, "playing", resp["status"])
	assert.Equal(t, "player_001", resp["active_player"])
	assert.Equal(t, float64(4), resp["board_size"])
	assert.Equal(t, []any{float64(0), float64(1)}, resp["matched"])
	assert.Equal(t, map[string]any{"0": "A", "1": "A"}, resp["revealed"])
	assert.Equal(t, map[string]any{"player_001": float64(1), "player_002": float64(0)}, resp["scores"])

	pending := resp["pending"].([]any)
	require.Len(t, pending, 1)
	assert.Equal(t, map[string]any{"index": float64(2), "symbol": "B"}, pending[0])

	// 未翻開的牌面不外洩
	assert.NotContains(t, resp, "board")

	// 測試不存在的房間
	w, resp = doGet(t, router, "/api/v1/rooms/non_existent")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, internal.ErrRoomNotFound.Error(), resp["error"])
}

// TestHandler_Health 測試健康檢查 API
func TestHandler_Health(t *testing.T) {
	manager, router := newTestRouter(t)

	w, resp := doGet(t, router, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(0), resp["rooms"])
	assert.NotNil(t, resp["time"])

	manager.JoinRoom("room_1", "player_001", internal.ModeSingle)
	manager.JoinRoom("room_2", "player_002", internal.ModeMulti)

	_, resp = doGet(t, router, "/health")
	assert.Equal(t, float64(2), resp["rooms"])
}

// failingBestTimes 查詢一律失敗
type failingBestTimes struct{}

func (failingBestTimes) BestTime(context.Context, string) (time.Duration, bool, error) {
	return 0, false, errors.New("redis down")
}

// TestHandler_GetBestTime 測試最佳時間查詢 API
func TestHandler_GetBestTime(t *testing.T) {
	store := score.NewMemoryStore()
	service := score.NewService(store, score.NewLogPublisher(testLogger()), testLogger())
	require.NoError(t, service.Record(context.Background(), score.Result{
		ParticipantID: "player_001",
		RoomID:        "room_1",
		Elapsed:       12345 * time.Millisecond,
	}))

	tests := []struct {
		name           string
		opts           []internal.HandlerOption
		playerID       string
		expectedStatus int
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:           "recorded player",
			opts:           []internal.HandlerOption{internal.WithBestTimes(service)},
			playerID:       "player_001",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "player_001", resp["player_id"])
				assert.Equal(t, float64(12345), resp["best_time_ms"])
			},
		},
		{
			name:           "no record yet",
			opts:           []internal.HandlerOption{internal.WithBestTimes(service)},
			playerID:       "player_002",
			expectedStatus: http.StatusNotFound,
			validate: func(t *testing.T, resp map[string]any) {
				assert.NotEmpty(t, resp["error"])
			},
		},
		{
			name:           "store failure",
			opts:           []internal.HandlerOption{internal.WithBestTimes(failingBestTimes{})},
			playerID:       "player_001",
			expectedStatus: http.StatusInternalServerError,
			validate: func(t *testing.T, resp map[string]any) {
				assert.NotEmpty(t, resp["error"])
			},
		},
		{
			name:           "scoring not configured",
			playerID:       "player_001",
			expectedStatus: http.StatusServiceUnavailable,
			validate: func(t *testing.T, resp map[string]any) {
				assert.NotEmpty(t, resp["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := internal.NewHandler(newTestManager(), nil, testLogger(), tt.opts...).Routes()

			w, resp := doGet(t, router, "/api/v1/players/"+tt.playerID+"/best-time")

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.validate(t, resp)
		})
	}
}

// TestHandler_Stats 測試統計 API
func TestHandler_Stats(t *testing.T) {
	manager, router := newTestRouter(t)

	manager.JoinRoom("room_1", "player_001", internal.ModeMulti)
	manager.JoinRoom("room_1", "player_002", internal.ModeMulti)
	manager.JoinRoom("room_2", "player_003", internal.ModeSingle)

	w, resp := doGet(t, router, "/stats")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["total_rooms"])
	assert.Equal(t, float64(3), resp["total_players"])
	assert.Equal(t, map[string]any{"playing": float64(2)}, resp["by_status"])
	assert.Equal(t, map[string]any{"single": float64(1), "multi": float64(1)}, resp["by_mode"])

	// 沒有 hub 時不回報連線數
	assert.NotContains(t, resp, "connections")
}

// TestHandler_MethodNotAllowed 查詢介面只接受 GET
func TestHandler_MethodNotAllowed(t *testing.T) {
	_, router := newTestRouter(t)

	for _, path := range []string{"/api/v1/rooms", "/api/v1/players/p1/best-time", "/health", "/stats"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

// TestHandler_ConcurrentRequests 測試併發請求
func TestHandler_ConcurrentRequests(t *testing.T) {
	manager, router := newTestRouter(t)

	const numRequests = 100

	var wg sync.WaitGroup
	for i := 0; i < numRequests; i++ {
		wg.Add(2)

		go func(id int) {
			defer wg.Done()
			manager.JoinRoom(fmt.Sprintf("room_%d", id%10), fmt.Sprintf("player_%d", id), internal.ModeMulti)
		}(i)

		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms?limit=100", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()

	_, resp := doGet(t, router, "/stats")
	assert.Equal(t, float64(10), resp["total_rooms"])
	assert.Equal(t, float64(numRequests), resp["total_players"])
}

// TestHandler_ResponseTime 測試響應時間
func TestHandler_ResponseTime(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping response time test in short mode")
	}

	manager, router := newTestRouter(t)
	for i := 0; i < 500; i++ {
		manager.JoinRoom(fmt.Sprintf("room_%03d", i), fmt.Sprintf("player_%d", i), internal.ModeSingle)
	}

	const iterations = 100
	start := time.Now()
	for i := 0; i < iterations; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms?page=3&limit=50", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
	avg := time.Since(start) / iterations

	t.Logf("列表 API 平均響應時間: %v", avg)
	assert.Less(t, avg, 50*time.Millisecond)
}
