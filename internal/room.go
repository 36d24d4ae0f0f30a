package internal

import (
	"slices"
	"sync"
	"time"
)

// 系統設計問題：
//   多位玩家透過各自的連線同時翻牌，如何保證每個房間的狀態轉換不會互相穿插？
//
// 核心挑戰：
//   1. 狀態機：waiting → playing →（評估）→ playing | game over → waiting
//   2. 並發控制：不同連線的翻牌請求以任意順序到達
//   3. 防作弊：符號一律由伺服器從牌面查出，不信任客戶端
//   4. 事件順序：同一房間的事件必須依產生順序送達所有連線
//
// 設計方案：
//   ✅ 每個房間一把互斥鎖，轉換與事件投遞在同一個臨界區內完成
//   ✅ 非法操作靜默忽略（不回傳錯誤、不產生事件）
//   ✅ Broadcaster 只做非阻塞入列，鎖內不做任何 I/O

// GameMode 遊戲模式
type GameMode string

const (
	ModeSingle GameMode = "single" // 單人計時
	ModeMulti  GameMode = "multi"  // 多人輪流
)

// ParseGameMode 解析遊戲模式，空字串視為單人模式
func ParseGameMode(s string) (GameMode, bool) {
	switch GameMode(s) {
	case "", ModeSingle:
		return ModeSingle, true
	case ModeMulti:
		return ModeMulti, true
	default:
		return "", false
	}
}

// RoomStatus 房間狀態
//
// 狀態機：
//
//	waiting → playing → (evaluating) → playing | game over → waiting
//
// evaluating 只存在於單次 Flip 呼叫之內，game over 會立即重置回 waiting，
// 所以對外可觀察的只有 waiting、playing 與 closed。
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting" // 等待玩家（尚未發牌）
	StatusPlaying RoomStatus = "playing" // 遊戲進行中
	StatusClosed  RoomStatus = "closed"  // 最後一位玩家離開，房間已銷毀
)

// 事件類型
const (
	EventConnected   = "connected"
	EventStartGame   = "start-game"
	EventTurnUpdate  = "turn-update"
	EventFlipCard    = "flip-card"
	EventMatchResult = "match-result"
	EventGameOver    = "game-over"
	EventPlayerLeft  = "player-left"
	EventError       = "error"
	EventPong        = "pong"
)

// Event 房間事件
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// DealPayload start-game 事件內容
type DealPayload struct {
	Board []string `json:"board"`
}

// TurnPayload turn-update 事件內容
type TurnPayload struct {
	ActiveParticipantID string `json:"activeParticipantId"`
}

// Flip 一張已翻開、等待評估的卡
type Flip struct {
	Index  int    `json:"index"`
	Symbol string `json:"symbol"`
}

// MatchPayload match-result 事件內容
type MatchPayload struct {
	Match   bool   `json:"match"`
	Indices [2]int `json:"indices"`
}

// GameOverPayload game-over 事件內容
//
// 多人模式帶勝者（或平手）與各玩家配對數；
// 單人模式帶完成者與耗時，供計分元件判斷是否刷新最佳紀錄。
type GameOverPayload struct {
	Mode          GameMode       `json:"mode"`
	Winner        string         `json:"winner,omitempty"`
	Draw          bool           `json:"draw,omitempty"`
	Scores        map[string]int `json:"scores,omitempty"`
	ParticipantID string         `json:"participantId,omitempty"`
	ElapsedMs     int64          `json:"elapsedMs,omitempty"`

	Elapsed time.Duration `json:"-"`
}

// PlayerLeftPayload player-left 事件內容
type PlayerLeftPayload struct {
	ParticipantID string   `json:"participantId"`
	Players       []string `json:"players"`
}

// Broadcaster 接收房間產生的事件
//
// 在房間鎖內被呼叫，實作必須非阻塞且不可回頭呼叫 Room。
type Broadcaster interface {
	Broadcast(roomID string, events []Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, []Event) {}

// Room 一局翻牌配對遊戲的權威狀態
//
// 系統設計考量：
//
//  1. 並發控制（Mutex 而非 RWMutex）：
//     幾乎所有操作都是寫入（翻牌、加入、離開），讀鎖沒有好處。
//     每個房間各自一把鎖，不同房間可以平行處理，且沒有任何操作
//     需要同時持有兩個房間的鎖，不會有跨房間死鎖。
//
//  2. 事件與狀態同步：
//     轉換完成後在鎖內呼叫 Broadcaster，外部觀察者不會看到
//     「狀態已改但事件未送」的中間狀態，同一房間的事件也不會亂序。
//
//  3. 翻牌緩衝：
//     pending 最多兩張，第二張進來就立刻評估並清空，
//     評估永遠取最近兩張被接受的翻牌，不論是誰翻的。
type Room struct {
	ID        string    `json:"room_id"`
	Mode      GameMode  `json:"mode"`
	CreatedAt time.Time `json:"created_at"`

	mu        sync.Mutex
	board     []string
	players   []string
	current   int
	pending   []Flip
	matched   map[int]struct{}
	pairs     map[string]int
	started   bool
	startedAt time.Time
	closed    bool
	updatedAt time.Time

	deal Dealer
	sink Broadcaster
	now  func() time.Time
}

// RoomOption 房間選項
type RoomOption func(*Room)

// WithDealer 指定發牌方式
func WithDealer(d Dealer) RoomOption {
	return func(r *Room) { r.deal = d }
}

// WithBroadcaster 指定事件接收者
func WithBroadcaster(b Broadcaster) RoomOption {
	return func(r *Room) { r.sink = b }
}

// WithClock 指定時間來源
func WithClock(now func() time.Time) RoomOption {
	return func(r *Room) { r.now = now }
}

// NewRoom 創建新房間並發出第一副牌
func NewRoom(id string, mode GameMode, opts ...RoomOption) *Room {
	r := &Room{
		ID:      id,
		Mode:    mode,
		matched: make(map[int]struct{}),
		pairs:   make(map[string]int),
		deal:    ShuffledDealer(DefaultSymbols),
		sink:    nopBroadcaster{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.board = r.deal()
	validateBoard(r.board)

	r.CreatedAt = r.now()
	r.updatedAt = r.CreatedAt
	return r
}

// Join 加入玩家
//
// 重複加入是冪等的（不會重複加入 players）。
//   - 單人模式：立即開始並發牌
//   - 多人模式：第二位玩家加入且尚未開始時才發牌
//
// 一律附帶一個 turn-update 事件。
// 第二個回傳值為 false 表示房間已關閉，呼叫者應回到 Registry 重新取得房間。
func (r *Room) Join(participantID string) ([]Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}

	if !slices.Contains(r.players, participantID) {
		r.players = append(r.players, participantID)
	}

	var events []Event

	switch r.Mode {
	case ModeSingle:
		if !r.started {
			r.start()
		}
		events = append(events, r.dealEvent())
	case ModeMulti:
		if !r.started && len(r.players) >= 2 {
			r.start()
			events = append(events, r.dealEvent())
		}
	}

	events = append(events, r.turnEvent())
	r.updatedAt = r.now()
	r.sink.Broadcast(r.ID, events)

	return events, true
}

// Flip 翻開一張卡
//
// 以下情況靜默忽略（不改變狀態、不產生事件）：
//   - 房間尚未開始或已關閉
//   - index 超出牌面範圍
//   - 翻牌者不在房間內
//   - 該位置已配對，或已在 pending 中
//   - 多人模式下不是翻牌者的回合
//
// 符號一律從伺服器端的牌面查出。
func (r *Room) Flip(participantID string, index int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.started {
		return nil
	}
	if index < 0 || index >= len(r.board) {
		return nil
	}
	if !slices.Contains(r.players, participantID) {
		return nil
	}
	if _, done := r.matched[index]; done {
		return nil
	}
	for _, p := range r.pending {
		if p.Index == index {
			return nil
		}
	}
	if r.Mode == ModeMulti && r.players[r.current] != participantID {
		return nil
	}

	flip := Flip{Index: index, Symbol: r.board[index]}
	r.pending = append(r.pending, flip)

	events := []Event{{Type: EventFlipCard, Data: flip}}
	if len(r.pending) == 2 {
		events = append(events, r.evaluate(participantID)...)
	}

	r.updatedAt = r.now()
	r.sink.Broadcast(r.ID, events)

	return events
}

// evaluate 評估兩張 pending 卡（需持有鎖）
func (r *Room) evaluate(participantID string) []Event {
	first, second := r.pending[0], r.pending[1]
	r.pending = r.pending[:0]

	indices := [2]int{first.Index, second.Index}

	if first.Symbol != second.Symbol {
		events := []Event{{Type: EventMatchResult, Data: MatchPayload{Match: false, Indices: indices}}}
		if r.Mode == ModeMulti {
			r.current = (r.current + 1) % len(r.players)
			events = append(events, r.turnEvent())
		}
		return events
	}

	// 配對成功不換人
	r.matched[first.Index] = struct{}{}
	r.matched[second.Index] = struct{}{}
	r.pairs[participantID]++

	events := []Event{{Type: EventMatchResult, Data: MatchPayload{Match: true, Indices: indices}}}

	if len(r.matched) == len(r.board) {
		events = append(events, Event{Type: EventGameOver, Data: r.gameOver(participantID)})
		r.reset()
	}

	return events
}

// gameOver 組裝結算資訊（需持有鎖）
func (r *Room) gameOver(participantID string) GameOverPayload {
	payload := GameOverPayload{Mode: r.Mode}

	if r.Mode == ModeSingle {
		elapsed := r.now().Sub(r.startedAt)
		payload.ParticipantID = participantID
		payload.Elapsed = elapsed
		payload.ElapsedMs = elapsed.Milliseconds()
		return payload
	}

	payload.Scores = make(map[string]int, len(r.players))
	best := -1
	for _, p := range r.players {
		n := r.pairs[p]
		payload.Scores[p] = n
		switch {
		case n > best:
			best = n
			payload.Winner = p
			payload.Draw = false
		case n == best:
			payload.Draw = true
		}
	}
	if payload.Draw {
		payload.Winner = ""
	}

	return payload
}

// Leave 移除玩家
//
// 最後一位玩家離開時房間標記為關閉，第二個回傳值為 true，
// 由 Registry 負責移除。其餘情況整局重置，保留剩下的玩家。
func (r *Room) Leave(participantID string) ([]Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, true
	}

	idx := slices.Index(r.players, participantID)
	if idx < 0 {
		return nil, false
	}
	r.players = slices.Delete(r.players, idx, idx+1)
	r.updatedAt = r.now()

	if len(r.players) == 0 {
		r.closed = true
		return nil, true
	}

	// 中途離開會放棄本局所有進度
	r.reset()

	events := []Event{{
		Type: EventPlayerLeft,
		Data: PlayerLeftPayload{
			ParticipantID: participantID,
			Players:       slices.Clone(r.players),
		},
	}}
	r.sink.Broadcast(r.ID, events)

	return events, false
}

// start 開局（需持有鎖）
func (r *Room) start() {
	r.started = true
	r.startedAt = r.now()
}

// reset 清除本局暫態並換一副新牌，保留玩家（需持有鎖）
func (r *Room) reset() {
	r.pending = nil
	r.matched = make(map[int]struct{})
	r.pairs = make(map[string]int)
	r.current = 0
	r.started = false
	r.startedAt = time.Time{}

	r.board = r.deal()
	validateBoard(r.board)
}

func (r *Room) dealEvent() Event {
	return Event{Type: EventStartGame, Data: DealPayload{Board: slices.Clone(r.board)}}
}

func (r *Room) turnEvent() Event {
	return Event{Type: EventTurnUpdate, Data: TurnPayload{ActiveParticipantID: r.players[r.current]}}
}

// RoomState 房間狀態快照（用於序列化）
//
// 只揭露已配對卡片的符號，未翻開的牌面不外洩。
type RoomState struct {
	ID           string         `json:"room_id"`
	Mode         GameMode       `json:"mode"`
	Status       RoomStatus     `json:"status"`
	Players      []string       `json:"players"`
	ActivePlayer string         `json:"active_player,omitempty"`
	BoardSize    int            `json:"board_size"`
	Matched      []int          `json:"matched"`
	Revealed     map[int]string `json:"revealed"`
	Pending      []Flip         `json:"pending"`
	Scores       map[string]int `json:"scores,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// State 獲取房間狀態
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]int, 0, len(r.matched))
	revealed := make(map[int]string, len(r.matched))
	for idx := range r.matched {
		matched = append(matched, idx)
		revealed[idx] = r.board[idx]
	}
	slices.Sort(matched)

	state := RoomState{
		ID:        r.ID,
		Mode:      r.Mode,
		Status:    r.status(),
		Players:   slices.Clone(r.players),
		BoardSize: len(r.board),
		Matched:   matched,
		Revealed:  revealed,
		Pending:   append([]Flip{}, r.pending...),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.updatedAt,
	}
	if r.started && len(r.players) > 0 {
		state.ActivePlayer = r.players[r.current]
	}
	if r.Mode == ModeMulti {
		state.Scores = make(map[string]int, len(r.players))
		for _, p := range r.players {
			state.Scores[p] = r.pairs[p]
		}
	}

	return state
}

// Status 獲取房間狀態
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status()
}

func (r *Room) status() RoomStatus {
	switch {
	case r.closed:
		return StatusClosed
	case r.started:
		return StatusPlaying
	default:
		return StatusWaiting
	}
}

// GetPlayerCount 獲取玩家數量
func (r *Room) GetPlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}
