package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-memory-match/internal/score"
)

// 系統設計問題：
//   如何把每條連線綁定到玩家身分，並把房間產生的事件推送給正確的一群連線？
//
// 核心挑戰：
//   1. 路由：入站動作要送到正確的房間，Gateway 本身不做任何遊戲規則判斷
//   2. 扇出：房間事件要送給所有綁定該房間的連線，而且不能亂序
//   3. 斷線：連線中斷時要替它離開所有房間（永遠可恢復，不影響房間本身）
//   4. 慢客戶端：不能讓一條卡住的連線拖累整個房間
//
// 設計方案：
//   ✅ Hub 模式：集中管理 roomID → 連線集合
//   ✅ Broadcast 由 Room 在自己的鎖內呼叫，只做非阻塞入列，保證同房間事件順序
//   ✅ Ping/Pong 心跳偵測死連線
//   ✅ 計分在轉換之外、以獨立 goroutine 呼叫外部元件

// inboundMessage 客戶端訊息外框
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinRoomRequest struct {
	RoomID string `json:"roomId"`
	Mode   string `json:"mode"`
}

// flipCardRequest 客戶端即使帶了 symbol 也不會被讀取
type flipCardRequest struct {
	RoomID string `json:"roomId"`
	Index  *int   `json:"index"`
}

type leaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

// ConnectedPayload connected 事件內容
type ConnectedPayload struct {
	ParticipantID string `json:"participantId"`
}

// ErrorPayload error 事件內容
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebSocketHub 連線中心（Session Gateway）
//
// 系統設計考量：
//
//  1. 連線映射：map[roomID]map[*Connection]struct{}
//     - 同一位玩家可能有多條連線，以連線指標為鍵
//     - 每條連線記錄自己綁定的房間，斷線時逐一離開
//
//  2. 同一位玩家的多條連線共用房間內的席位
//     - 只有最後一條綁定該房間的連線離開時，玩家才真正離開房間
//
//  3. 鎖順序：Room → Hub
//     - Room 在鎖內呼叫 Broadcast（取 Hub 讀鎖）
//     - Hub 持鎖期間絕不呼叫 Room，因此不會死鎖
type WebSocketHub struct {
	manager  *Manager
	cfg      WebSocketConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	connections map[string]map[*Connection]struct{} // roomID -> connections
	clients     map[*Connection]struct{}
	mu          sync.RWMutex
	stopped     bool // 受 mu 保護，Stop 之後不再接受連線與計分

	recorder     score.Recorder
	scoreTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Connection WebSocket 連線
type Connection struct {
	PlayerID string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *WebSocketHub

	rooms     map[string]struct{} // 受 Hub.mu 保護
	closeOnce sync.Once
	dropOnce  sync.Once
}

// HubOption Hub 選項
type HubOption func(*WebSocketHub)

// WithScoreRecorder 單人模式結束時把耗時交給計分元件
func WithScoreRecorder(recorder score.Recorder, timeout time.Duration) HubOption {
	return func(hub *WebSocketHub) {
		hub.recorder = recorder
		hub.scoreTimeout = timeout
	}
}

// NewWebSocketHub 創建 WebSocket Hub，並註冊為 Manager 的事件接收者
func NewWebSocketHub(manager *Manager, cfg WebSocketConfig, logger *slog.Logger, opts ...HubOption) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())

	hub := &WebSocketHub{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:  make(map[string]map[*Connection]struct{}),
		clients:      make(map[*Connection]struct{}),
		scoreTimeout: 5 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(hub)
	}

	manager.SetBroadcaster(hub)

	return hub
}

// originChecker 未設定白名單時允許所有來源
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}

// ServeWS 處理 WebSocket 連線
//
// 玩家身分由前置的認證元件決定，透過 player_id 查詢參數帶入；
// 沒有帶的話配發一個 UUID。
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		playerID = uuid.NewString()
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		PlayerID: playerID,
		Conn:     conn,
		Send:     make(chan []byte, hub.cfg.SendBuffer),
		Hub:      hub,
		rooms:    make(map[string]struct{}),
	}

	if !hub.register(connection) {
		conn.Close()
		return
	}
	connection.enqueue(Event{
		Type: EventConnected,
		Data: ConnectedPayload{ParticipantID: playerID},
	})

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連線建立", "player_id", playerID)
}

// register 註冊連線（尚未綁定任何房間），Hub 停止後回傳 false
func (hub *WebSocketHub) register(conn *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.clients[conn] = struct{}{}
	return true
}

// unregister 取消註冊並清除所有房間綁定
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, exists := hub.clients[conn]; !exists {
		return
	}
	delete(hub.clients, conn)

	for roomID := range conn.rooms {
		hub.unbindLocked(conn, roomID)
	}

	conn.closeOnce.Do(func() {
		close(conn.Send)
	})
}

// bind 記錄連線加入的房間
func (hub *WebSocketHub) bind(conn *Connection, roomID string) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, exists := hub.clients[conn]; !exists {
		return false
	}

	if hub.connections[roomID] == nil {
		hub.connections[roomID] = make(map[*Connection]struct{})
	}
	hub.connections[roomID][conn] = struct{}{}
	conn.rooms[roomID] = struct{}{}
	return true
}

// unbindLocked 需持有寫鎖
func (hub *WebSocketHub) unbindLocked(conn *Connection, roomID string) {
	delete(conn.rooms, roomID)
	if roomConns, exists := hub.connections[roomID]; exists {
		delete(roomConns, conn)
		if len(roomConns) == 0 {
			delete(hub.connections, roomID)
		}
	}
}

// release 解除綁定
//
// 回傳 true 表示這位玩家已經沒有其他連線綁定在該房間，呼叫端此時才替玩家離開房間。
// 解除與檢查在同一把鎖內完成，兩條連線同時斷線時恰好一條拿到 true。
func (hub *WebSocketHub) release(conn *Connection, roomID string) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, bound := conn.rooms[roomID]; !bound {
		return false
	}
	hub.unbindLocked(conn, roomID)

	for other := range hub.connections[roomID] {
		if other.PlayerID == conn.PlayerID {
			return false
		}
	}
	return true
}

func (hub *WebSocketHub) isBound(conn *Connection, roomID string) bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	_, bound := conn.rooms[roomID]
	return bound
}

func (hub *WebSocketHub) boundRooms(conn *Connection) []string {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	rooms := make([]string, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Broadcast 廣播事件到房間內所有連線
//
// 由 Room 在鎖內呼叫，實作 Broadcaster。
// 非阻塞入列；緩衝區滿的連線直接斷線，客戶端重連後以新狀態為準。
func (hub *WebSocketHub) Broadcast(roomID string, events []Event) {
	messages := make([][]byte, 0, len(events))
	for _, event := range events {
		message, err := json.Marshal(event)
		if err != nil {
			hub.logger.Error("序列化事件失敗", "error", err, "event", event.Type)
			continue
		}
		messages = append(messages, message)
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for conn := range hub.connections[roomID] {
		for _, message := range messages {
			if !conn.trySend(message) {
				conn.drop(roomID)
				break
			}
		}
	}
}

// join 綁定房間後再交給 Registry，讓加入者也收到自己的 start-game
func (hub *WebSocketHub) join(conn *Connection, roomID string, mode GameMode) {
	if !hub.bind(conn, roomID) {
		return
	}
	hub.manager.JoinRoom(roomID, conn.PlayerID, mode)
}

// flip 只轉發已綁定房間的翻牌
func (hub *WebSocketHub) flip(conn *Connection, roomID string, index int) {
	if !hub.isBound(conn, roomID) {
		hub.logger.Debug("忽略翻牌：連線未加入房間",
			"room_id", roomID,
			"player_id", conn.PlayerID)
		return
	}

	for _, event := range hub.manager.Flip(roomID, conn.PlayerID, index) {
		if event.Type != EventGameOver {
			continue
		}
		if result, ok := event.Data.(GameOverPayload); ok && result.Mode == ModeSingle {
			hub.recordScore(roomID, result)
		}
	}
}

// leave 解除綁定；玩家的最後一條連線離開時才離開房間
func (hub *WebSocketHub) leave(conn *Connection, roomID string) {
	if hub.release(conn, roomID) {
		hub.manager.LeaveRoom(roomID, conn.PlayerID)
	}
}

// disconnect 斷線：逐一離開綁定的房間並清除註冊
func (hub *WebSocketHub) disconnect(conn *Connection) {
	for _, roomID := range hub.boundRooms(conn) {
		hub.leave(conn, roomID)
	}
	hub.unregister(conn)

	hub.logger.Info("WebSocket 連線關閉", "player_id", conn.PlayerID)
}

// recordScore 非同步通知計分元件
func (hub *WebSocketHub) recordScore(roomID string, result GameOverPayload) {
	if hub.recorder == nil {
		return
	}

	// 與 Stop 互斥，wg.Add 不會和 wg.Wait 重疊
	hub.mu.RLock()
	if hub.stopped {
		hub.mu.RUnlock()
		hub.logger.Warn("Hub 已停止，略過成績",
			"room_id", roomID,
			"player_id", result.ParticipantID)
		return
	}
	hub.wg.Add(1)
	hub.mu.RUnlock()

	go func() {
		defer hub.wg.Done()

		ctx, cancel := context.WithTimeout(hub.ctx, hub.scoreTimeout)
		defer cancel()

		err := hub.recorder.Record(ctx, score.Result{
			ParticipantID: result.ParticipantID,
			RoomID:        roomID,
			Elapsed:       result.Elapsed,
		})
		if err != nil {
			hub.logger.Error("記錄成績失敗",
				"error", err,
				"room_id", roomID,
				"player_id", result.ParticipantID,
				"elapsed", result.Elapsed)
		}
	}()
}

// Stop 停止 WebSocket Hub
//
// 先關閉所有連線並拒絕新的計分，再等進行中的計分寫完。
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	if hub.stopped {
		hub.mu.Unlock()
		return
	}
	hub.stopped = true
	for conn := range hub.clients {
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.clients = make(map[*Connection]struct{})
	hub.connections = make(map[string]map[*Connection]struct{})
	hub.mu.Unlock()

	hub.wg.Wait()
	hub.cancel()

	hub.logger.Info("WebSocket Hub 已停止")
}

// GetConnectionCount 獲取各房間連線數
func (hub *WebSocketHub) GetConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int, len(hub.connections))
	for roomID, conns := range hub.connections {
		result[roomID] = len(conns)
	}
	return result
}

// enqueue 單播給這條連線
func (c *Connection) enqueue(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		c.Hub.logger.Error("序列化事件失敗", "error", err, "event", event.Type)
		return
	}

	// 持讀鎖確保 Send 尚未被 unregister 關閉
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()

	if _, live := c.Hub.clients[c]; !live {
		return
	}
	if !c.trySend(message) {
		c.drop("")
	}
}

// trySend 非阻塞入列，呼叫端需持有 Hub 讀鎖
func (c *Connection) trySend(message []byte) bool {
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// drop 關閉底層連線，readPump 隨即出錯並走斷線流程
func (c *Connection) drop(roomID string) {
	c.dropOnce.Do(func() {
		c.Hub.logger.Warn("連線緩衝區滿，中斷連線",
			"room_id", roomID,
			"player_id", c.PlayerID)
		_ = c.Conn.Close()
	})
}

func (c *Connection) sendError(code, message string) {
	c.enqueue(Event{Type: EventError, Data: ErrorPayload{Code: code, Message: message}})
}

// readPump 讀取客戶端訊息
//
// 讀取逾時 pongWait，每收到 Pong 重置；writePump 以 pingPeriod 發送 Ping。
// 任何讀取錯誤都視為斷線，由 defer 負責離開房間。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.disconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.cfg.MaxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.cfg.PongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Hub.cfg.PongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"player_id", c.PlayerID)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入訊息到客戶端
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.cfg.WriteWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.cfg.WriteWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 解析並路由客戶端訊息
//
// 這裡只檢查訊息格式，合不合法交給 Room 判斷。
func (c *Connection) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad_json", "無效的訊息格式")
		return
	}

	switch msg.Type {
	case "ping":
		c.enqueue(Event{Type: EventPong})

	case "join-room":
		var req joinRoomRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.RoomID == "" {
			c.sendError("bad_request", "roomId 為必填")
			return
		}
		mode, ok := ParseGameMode(req.Mode)
		if !ok {
			c.sendError("bad_request", "無效的遊戲模式: "+req.Mode)
			return
		}
		c.Hub.join(c, req.RoomID, mode)

	case "flip-card":
		var req flipCardRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.RoomID == "" || req.Index == nil {
			c.sendError("bad_request", "roomId 與 index 為必填")
			return
		}
		c.Hub.flip(c, req.RoomID, *req.Index)

	case "leave-room":
		var req leaveRoomRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.RoomID == "" {
			c.sendError("bad_request", "roomId 為必填")
			return
		}
		c.Hub.leave(c, req.RoomID)

	default:
		c.Hub.logger.Debug("收到未知訊息類型",
			"type", msg.Type,
			"player_id", c.PlayerID)
		c.sendError("unknown_type", "未知的訊息類型: "+msg.Type)
	}
}
