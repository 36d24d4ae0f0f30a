package internal

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// ErrRoomNotFound 房間不存在
var ErrRoomNotFound = errors.New("房間不存在")

// Manager 房間註冊表
//
// 系統設計考量：
//
//  1. 唯一性：
//     同一個 roomID 同時被多人首次加入時，只能建立一個 Room。
//     先用讀鎖查詢，查不到再取寫鎖並再查一次（double-check）。
//
//  2. 生命週期：
//     房間在第一位玩家加入時建立，最後一位玩家離開時銷毀。
//     Room 先在自己的鎖內標記 closed，Manager 再從 map 移除；
//     與移除賽跑的 Join 會看到 closed 並重新向 Manager 取房間。
//
//  3. 鎖的範圍：
//     Manager 的鎖只保護 map，拿到 *Room 之後的所有操作都在 Room 自己的鎖內完成。
type Manager struct {
	rooms  map[string]*Room // roomID -> Room
	mu     sync.RWMutex
	logger *slog.Logger

	dealer Dealer
	sink   Broadcaster
}

// ManagerOption 房間管理器選項
type ManagerOption func(*Manager)

// WithRoomDealer 指定新房間的發牌方式
func WithRoomDealer(d Dealer) ManagerOption {
	return func(m *Manager) { m.dealer = d }
}

// WithRoomBroadcaster 指定新房間的事件接收者
func WithRoomBroadcaster(b Broadcaster) ManagerOption {
	return func(m *Manager) { m.sink = b }
}

// NewManager 創建房間管理器
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		rooms:  make(map[string]*Room),
		logger: logger,
		dealer: ShuffledDealer(DefaultSymbols),
		sink:   nopBroadcaster{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetBroadcaster 設定之後建立的房間使用的事件接收者
//
// Hub 與 Manager 互相引用，Hub 建立後才注入。
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = b
}

// GetOrCreate 獲取房間，不存在則建立
//
// 第二個回傳值表示是否為本次建立。mode 只在建立時生效。
func (m *Manager) GetOrCreate(roomID string, mode GameMode) (*Room, bool) {
	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()
	if exists {
		return room, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 再查一次，避免併發建立兩個房間
	if room, exists := m.rooms[roomID]; exists {
		return room, false
	}

	room = NewRoom(roomID, mode, WithDealer(m.dealer), WithBroadcaster(m.sink))
	m.rooms[roomID] = room

	m.logger.Info("房間已創建", "room_id", roomID, "mode", mode)

	return room, true
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(roomID string) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// JoinRoom 加入房間（不存在則建立）
func (m *Manager) JoinRoom(roomID, playerID string, mode GameMode) []Event {
	for {
		room, _ := m.GetOrCreate(roomID, mode)

		events, ok := room.Join(playerID)
		if ok {
			m.logger.Info("玩家加入房間",
				"room_id", roomID,
				"player_id", playerID,
				"mode", room.Mode)
			return events
		}

		// 房間剛被關閉，等它從 map 移除後重試
		m.remove(roomID, room)
	}
}

// Flip 翻牌，房間不存在時為 no-op
func (m *Manager) Flip(roomID, playerID string, index int) []Event {
	room, err := m.GetRoom(roomID)
	if err != nil {
		m.logger.Debug("忽略翻牌：房間不存在", "room_id", roomID, "player_id", playerID)
		return nil
	}

	events := room.Flip(playerID, index)
	if events == nil {
		m.logger.Debug("忽略非法翻牌",
			"room_id", roomID,
			"player_id", playerID,
			"index", index)
	}
	return events
}

// LeaveRoom 離開房間，最後一位玩家離開時銷毀房間
func (m *Manager) LeaveRoom(roomID, playerID string) []Event {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return nil
	}

	events, empty := room.Leave(playerID)
	if empty {
		m.remove(roomID, room)
		return nil
	}

	m.logger.Info("玩家離開房間",
		"room_id", roomID,
		"player_id", playerID)

	return events
}

// remove 移除房間（只移除仍是同一個實例的房間）
func (m *Manager) remove(roomID string, room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.rooms[roomID]; exists && current == room {
		delete(m.rooms, roomID)
		m.logger.Info("房間已移除", "room_id", roomID)
	}
}

// ListRooms 列出房間
func (m *Manager) ListRooms(status RoomStatus, mode GameMode, page, limit int) ([]RoomState, int) {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	var filtered []RoomState
	for _, room := range rooms {
		state := room.State()
		if status != "" && state.Status != status {
			continue
		}
		if mode != "" && state.Mode != mode {
			continue
		}
		filtered = append(filtered, state)
	}

	// map 迭代無序，依 ID 排序讓分頁穩定
	slices.SortFunc(filtered, func(a, b RoomState) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []RoomState{}, total
	}
	end := min(start+limit, total)

	return filtered[start:end], total
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	statusCount := make(map[RoomStatus]int)
	modeCount := make(map[GameMode]int)
	totalPlayers := 0

	for _, room := range rooms {
		statusCount[room.Status()]++
		modeCount[room.Mode]++
		totalPlayers += room.GetPlayerCount()
	}

	return map[string]any{
		"total_rooms":   len(rooms),
		"total_players": totalPlayers,
		"by_status":     statusCount,
		"by_mode":       modeCount,
	}
}

// RoomCount 目前房間數
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
