// Package internal 提供多房間、即時的翻牌配對（記憶）遊戲伺服器。
//
// 每個房間是一局獨立的遊戲：一副成對的牌面、依加入順序排列的玩家、
// 目前回合、最多兩張的翻牌緩衝，以及已配對的位置集合。
//
// # 元件
//
//   - Deck：依符號目錄產生洗好的牌面（每個符號兩張）
//   - Room：權威狀態與狀態機（加入、翻牌、評估、結束、離開）
//   - Manager：roomID → Room 的註冊表，第一次加入時建立，清空時銷毀
//   - WebSocketHub：把連線綁定到玩家身分與房間，轉發動作並扇出事件
//   - Handler：唯讀的 HTTP 查詢介面（房間列表、詳情、健康檢查、統計）
//
// # 狀態機
//
//	waiting → playing → (evaluating) → playing | game over → waiting
//
// 單人模式加入即開局；多人模式第二位玩家加入時開局，配對失敗換下一位。
// 全部配對完成時發出 game-over 並重置，玩家保留，重新送 join-room 開下一局。
// 任何人中途離開也會整局重置。
//
// # 併發
//
// 每個房間一把互斥鎖，狀態轉換與事件入列在同一個臨界區完成，
// 同一房間的事件依序送達所有連線；不同房間可平行處理。
//
// 非法操作（房間不存在、重複翻同一張、不是你的回合）一律靜默忽略。
//
// # 使用範例
//
//	manager := internal.NewManager(logger)
//	hub := internal.NewWebSocketHub(manager, config.WebSocket, logger)
//	handler := internal.NewHandler(manager, hub, logger)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", handler.Routes())
//	mux.HandleFunc("GET /ws", hub.ServeWS)
//
// 客戶端：
//
//	ws://localhost:8080/ws?player_id=alice
//	→ {"type":"join-room","data":{"roomId":"game1","mode":"multi"}}
//	→ {"type":"flip-card","data":{"roomId":"game1","index":3}}
//	← {"event":"flip-card","data":{"index":3,"symbol":"🍌"}}
package internal
