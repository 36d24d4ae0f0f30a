package internal

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 環境變數前綴
const EnvPrefix = "MEMORY_"

// Config 整個應用的配置
//
// 載入順序（後者覆蓋前者）：
//
//	DefaultConfig() → YAML 檔案 → 環境變數（MEMORY_*）→ 命令列參數
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Game      GameConfig      `yaml:"game" envPrefix:"GAME_"`
	WebSocket WebSocketConfig `yaml:"websocket" envPrefix:"WS_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	NATS      NATSConfig      `yaml:"nats" envPrefix:"NATS_"`
	Score     ScoreConfig     `yaml:"score" envPrefix:"SCORE_"`
}

// ServerConfig HTTP 服務配置
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // text, json
}

// GameConfig 遊戲配置
type GameConfig struct {
	Symbols []string `yaml:"symbols" env:"SYMBOLS" envSeparator:","`
}

// WebSocketConfig 連線配置
type WebSocketConfig struct {
	WriteWait      time.Duration `yaml:"write_wait" env:"WRITE_WAIT"`
	PongWait       time.Duration `yaml:"pong_wait" env:"PONG_WAIT"`
	PingPeriod     time.Duration `yaml:"ping_period" env:"PING_PERIOD"` // 必須小於 PongWait
	MaxMessageSize int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	SendBuffer     int           `yaml:"send_buffer" env:"SEND_BUFFER"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","` // 空白表示全部允許
}

// RedisConfig 最佳紀錄儲存，Addr 為空時使用記憶體
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
	Key      string `yaml:"key" env:"KEY"`
}

// NATSConfig 成績發佈，URL 為空時只寫日誌
type NATSConfig struct {
	URL     string `yaml:"url" env:"URL"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

// ScoreConfig 計分配置
type ScoreConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DefaultConfig 返回默認配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Game: GameConfig{
			Symbols: slices.Clone(DefaultSymbols),
		},
		WebSocket: WebSocketConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingPeriod:     54 * time.Second,
			MaxMessageSize: 4096,
			SendBuffer:     256,
		},
		Redis: RedisConfig{
			PoolSize: 10,
			Key:      "memory:best_times",
		},
		NATS: NATSConfig{
			Subject: "memory.scores.best",
		},
		Score: ScoreConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// LoadConfig 載入配置
//
// path 為空或檔案不存在時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的端口: %d", c.Server.Port)
	}

	if len(c.Game.Symbols) < 2 {
		return fmt.Errorf("符號數量至少需要 2 個，目前 %d 個", len(c.Game.Symbols))
	}
	seen := make(map[string]struct{}, len(c.Game.Symbols))
	for _, symbol := range c.Game.Symbols {
		if symbol == "" {
			return errors.New("符號不能為空字串")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("重複的符號: %q", symbol)
		}
		seen[symbol] = struct{}{}
	}

	ws := c.WebSocket
	if ws.WriteWait <= 0 || ws.PongWait <= 0 || ws.PingPeriod <= 0 {
		return errors.New("WebSocket 逾時設定必須大於 0")
	}
	if ws.PingPeriod >= ws.PongWait {
		return fmt.Errorf("ping_period (%s) 必須小於 pong_wait (%s)", ws.PingPeriod, ws.PongWait)
	}
	if ws.MaxMessageSize <= 0 || ws.SendBuffer <= 0 {
		return errors.New("max_message_size 與 send_buffer 必須大於 0")
	}

	return nil
}
