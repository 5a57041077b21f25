package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bloodcore/internal/clock"
	"bloodcore/internal/config"
	"bloodcore/internal/logger"
	"bloodcore/internal/service"
	"bloodcore/internal/sweeper"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "bloodcore")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	app, err := service.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to create bloodcore service",
			zap.Error(err),
		)
	}
	defer app.Stop()

	// 4. 创建清扫器（物理过期 + 预留超时）
	sw := sweeper.NewSweeper(
		app.UnitsRepo,
		app.Inventory,
		app.Summaries,
		app.Notifier,
		clock.System(),
		cfg.Sweep.PhysicalInterval,
		cfg.Sweep.ReservationInterval,
		cfg.Inventory.ExpiryWarningDays,
		log,
	)

	// 5. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. 启动清扫循环（在 goroutine 中）
	sweeperErrChan := make(chan error, 1)
	go func() {
		if err := sw.Start(ctx); err != nil {
			sweeperErrChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-sweeperErrChan:
		log.Fatal("Sweeper error",
			zap.Error(err),
		)
	}

	log.Info("Bloodcore service stopped")
}
