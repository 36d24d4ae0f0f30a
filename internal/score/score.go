// Package score 實作單人模式結束後的成績記錄
//
// 房間核心只負責在 game over 時交出耗時，這個套件決定是否為新的最佳紀錄，
// 是的話再發佈到訊息主題。
//
//	Gateway → Recorder.Record → BestTimeStore.SetIfBetter → Publisher.Publish
//
// 最佳紀錄越小越好（毫秒）。
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrInvalidResult 成績資料不完整
var ErrInvalidResult = errors.New("成績資料不完整")

// Result 一局單人遊戲的結果
type Result struct {
	ParticipantID string
	RoomID        string
	Elapsed       time.Duration
}

// Event 發佈到訊息主題的內容
type Event struct {
	Participant string    `json:"participant"`
	Score       int64     `json:"score"` // 毫秒
	RoomID      string    `json:"room_id"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Recorder 接收遊戲結果
type Recorder interface {
	Record(ctx context.Context, result Result) error
}

// BestTimeStore 保存每位玩家的最佳時間
type BestTimeStore interface {
	// SetIfBetter 只有在 elapsed 比現有紀錄更短（或尚無紀錄）時寫入，回傳是否寫入
	SetIfBetter(ctx context.Context, participant string, elapsed time.Duration) (bool, error)
	// BestTime 讀取最佳時間，沒有紀錄時第二個回傳值為 false
	BestTime(ctx context.Context, participant string) (time.Duration, bool, error)
}

// Publisher 發佈新的最佳紀錄
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Service 計分服務
type Service struct {
	store     BestTimeStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService 創建計分服務
func NewService(store BestTimeStore, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// BestTime 讀取玩家目前的最佳時間
func (s *Service) BestTime(ctx context.Context, participant string) (time.Duration, bool, error) {
	best, ok, err := s.store.BestTime(ctx, participant)
	if err != nil {
		return 0, false, fmt.Errorf("read best time: %w", err)
	}
	return best, ok, nil
}

// Record 記錄成績，刷新最佳紀錄時發佈事件
func (s *Service) Record(ctx context.Context, result Result) error {
	if result.ParticipantID == "" || result.Elapsed <= 0 {
		return fmt.Errorf("%w: participant=%q elapsed=%s", ErrInvalidResult, result.ParticipantID, result.Elapsed)
	}

	better, err := s.store.SetIfBetter(ctx, result.ParticipantID, result.Elapsed)
	if err != nil {
		return fmt.Errorf("update best time: %w", err)
	}
	if !better {
		s.logger.Debug("未刷新最佳紀錄",
			"player_id", result.ParticipantID,
			"elapsed", result.Elapsed)
		return nil
	}

	event := Event{
		Participant: result.ParticipantID,
		Score:       result.Elapsed.Milliseconds(),
		RoomID:      result.RoomID,
		RecordedAt:  s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish best time: %w", err)
	}

	s.logger.Info("刷新最佳紀錄",
		"player_id", result.ParticipantID,
		"room_id", result.RoomID,
		"elapsed", result.Elapsed)

	return nil
}
