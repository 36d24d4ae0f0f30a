package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-memory-match/internal"
	"github.com/koopa0/system-design/14-memory-match/internal/score"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔案路徑")
		port       = flag.Int("port", 8080, "服務器端口")
		logLevel   = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 明確指定的命令行參數優先
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Server.Port = *port
		case "log-level":
			config.Log.Level = *logLevel
		case "log-format":
			config.Log.Format = *logFormat
		}
	})
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(config.Log.Level, config.Log.Format)
	slog.SetDefault(logger)

	// 計分元件
	scores, closeScore, err := setupScore(config, logger)
	if err != nil {
		logger.Error("計分元件初始化失敗", "error", err)
		os.Exit(1)
	}
	defer closeScore()

	// 房間管理器與 WebSocket Hub
	manager := internal.NewManager(logger,
		internal.WithRoomDealer(internal.ShuffledDealer(config.Game.Symbols)))
	wsHub := internal.NewWebSocketHub(manager, config.WebSocket, logger,
		internal.WithScoreRecorder(scores, config.Score.Timeout))
	handler := internal.NewHandler(manager, wsHub, logger, internal.WithBestTimes(scores))

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws", wsHub.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      mux,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	go func() {
		logger.Info("翻牌配對服務器啟動",
			"port", config.Server.Port,
			"log_level", config.Log.Level,
			"symbols", len(config.Game.Symbols))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket 連線並等待計分完成
	wsHub.Stop()

	logger.Info("服務器已關閉")
}

// setupScore 依配置組裝計分元件
//
// 未設定 Redis 時最佳紀錄只存在記憶體，未設定 NATS 時只寫日誌。
func setupScore(config *internal.Config, logger *slog.Logger) (*score.Service, func(), error) {
	var (
		store     score.BestTimeStore = score.NewMemoryStore()
		publisher score.Publisher     = score.NewLogPublisher(logger)
		closers   []func()
	)

	if config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), config.Score.Timeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}

		store = score.NewRedisStore(client, config.Redis.Key)
		closers = append(closers, func() { client.Close() })
		logger.Info("最佳紀錄使用 Redis", "addr", config.Redis.Addr, "key", config.Redis.Key)
	}

	if config.NATS.URL != "" {
		natsPublisher, err := score.NewNATSPublisher(config.NATS.URL, config.NATS.Subject)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}

		publisher = natsPublisher
		closers = append(closers, func() { natsPublisher.Close() })
		logger.Info("成績發佈使用 NATS", "url", config.NATS.URL, "subject", config.NATS.Subject)
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	return score.NewService(store, publisher, logger), closeAll, nil
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
