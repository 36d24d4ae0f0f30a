package score

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 2 * time.Second

// NATSPublisher 發佈最佳紀錄到 NATS 主題
//
// 成績通知是 fire-and-forget：訂閱者離線時漏掉也不影響遊戲，
// 所以使用 Core NATS 而非 JetStream，Flush 確保已送達伺服器。
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher 連接 NATS 並創建發佈者
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("memory-match-score"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish 實作 Publisher
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal score event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}

	// FlushWithContext 要求 ctx 帶有 deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close 關閉連線（先送出緩衝中的訊息）
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LogPublisher 只寫日誌的發佈者，未設定 NATS 時使用
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 創建日誌發佈者
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish 實作 Publisher
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("新的最佳紀錄",
		"player_id", event.Participant,
		"score_ms", event.Score,
		"room_id", event.RoomID)
	return nil
}
