package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/drivesentry/internal/alert"
	"github.com/langchou/drivesentry/internal/api/handlers"
	"github.com/langchou/drivesentry/internal/audio"
	"github.com/langchou/drivesentry/internal/config"
	"github.com/langchou/drivesentry/internal/events"
	"github.com/langchou/drivesentry/internal/experiment"
	"github.com/langchou/drivesentry/internal/metrics"
	"github.com/langchou/drivesentry/internal/sensor"
	"github.com/langchou/drivesentry/internal/service"
	"github.com/langchou/drivesentry/internal/sink"
	"github.com/langchou/drivesentry/internal/storage"
	"github.com/langchou/drivesentry/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting DriveSentry", zap.String("port", cfg.ServerPort))

	// 打开本地 KV 存储
	store, err := storage.New(cfg.StorePath)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer store.Close()

	// 设备标识：未配置时生成并持久化
	deviceID := resolveDeviceID(logger, cfg, store)

	// A/B 分组：复用已存分组，首次随机分配
	variant := experiment.NewAssigner(logger, store).Assign()
	logger.Info("Alert variant assigned", zap.String("variant", string(variant)))

	// 传感器来源：真实硬件缺失时可用内置模拟器开发调试
	var motionSource sensor.MotionSource = sensor.NoMotion{}
	var positionSource sensor.PositionSource = sensor.NoPosition{}
	if cfg.Simulate {
		motionSource = sensor.SimMotion{}
		positionSource = sensor.SimPosition{}
		logger.Info("Using simulated sensors")
	}

	sampler := sensor.NewMotionSampler(logger, sensor.MotionConfig{
		Threshold:      cfg.HandlingThreshold,
		RateHandling:   cfg.SamplingHandling,
		RateIdle:       cfg.SamplingIdle,
		RateBackground: cfg.SamplingBackground,
	}, motionSource)

	detector := sensor.NewDrivingDetector(logger, sensor.DrivingConfig{
		SpeedThreshold:        cfg.DrivingSpeedThreshold,
		PollDrivingForeground: cfg.PollDrivingForeground,
		PollIdleForeground:    cfg.PollIdleForeground,
		PollDrivingBackground: cfg.PollDrivingBackground,
		PollIdleBackground:    cfg.PollIdleBackground,
	}, positionSource)

	// 指标上报客户端，未配置 sink 时为空地址，静默跳过
	recorder := sink.NewClient(logger, cfg.MetricsSinkURL, deviceID)

	// 驾驶统计
	metricsMgr := metrics.NewManager(logger, store)

	// 领域事件总线
	bus := events.NewBus()

	// 告警状态机
	escalator := alert.NewEscalator(
		logger,
		variant,
		alert.Config{
			BaseIntervalA: cfg.EscalationIntervalA,
			BaseIntervalB: cfg.EscalationIntervalB,
		},
		&audio.Logged{Logger: logger},
		recorder,
		metricsMgr,
		bus,
	)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 创建监控服务
	monitor := service.NewMonitor(cfg, logger, sampler, detector, escalator, metricsMgr, bus, wsHub)
	if err := monitor.Start(); err != nil {
		logger.Fatal("Failed to start monitor", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, monitor, metricsMgr, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止服务，结算进行中的告警和会话
	monitor.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// resolveDeviceID 解析设备标识，优先取配置，其次取存储，都没有则生成
func resolveDeviceID(logger *zap.Logger, cfg *config.Config, store *storage.Store) string {
	if cfg.DeviceID != "" {
		return cfg.DeviceID
	}

	const key = "deviceId"
	if id, ok, err := store.Get(key); err == nil && ok && id != "" {
		return id
	}

	id := uuid.NewString()
	if err := store.Set(key, id); err != nil {
		logger.Error("Failed to persist device id", zap.Error(err))
	}
	logger.Info("Generated new device id", zap.String("device_id", id))
	return id
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Device-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
