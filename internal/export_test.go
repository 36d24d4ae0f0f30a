package internal

import "github.com/gorilla/websocket"

// RecordScore 直接觸發計分流程
func (hub *WebSocketHub) RecordScore(roomID string, result GameOverPayload) {
	hub.recordScore(roomID, result)
}

// AttachStalled 註冊一條不啟動讀寫迴圈的連線並綁定房間，模擬不再讀取的客戶端
func (hub *WebSocketHub) AttachStalled(playerID, roomID string, conn *websocket.Conn, buffer int) bool {
	c := &Connection{
		PlayerID: playerID,
		Conn:     conn,
		Send:     make(chan []byte, buffer),
		Hub:      hub,
		rooms:    make(map[string]struct{}),
	}
	return hub.register(c) && hub.bind(c, roomID)
}
