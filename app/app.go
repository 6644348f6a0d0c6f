package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay/common/config"
	"relay/common/database"
	"relay/common/http"
	"relay/common/log"
	"relay/common/utils"
	"relay/core/infrastructure/realtime"
	"relay/framework/conn"
	"relay/framework/march"
	"relay/framework/room"
	"relay/framework/router"
)

func Run(ctx context.Context) error {
	// redis 承载跨进程共享的匹配队列
	redisManager := database.NewRedis(config.Conf.DatabaseConf.RedisConf)
	if _, err := redisManager.GetClient(); err != nil {
		return err
	}
	waitQueue := realtime.NewRedisWaitQueueRepository(redisManager, config.Conf.Match.QueueKey)

	roomManager := room.NewRoomManager()
	manager := conn.NewManager()
	matcher := march.NewMatchmaker(waitQueue, roomManager, manager)

	limiter, err := utils.NewHitLimiter(
		config.Conf.Match.RateLimit,
		time.Duration(config.Conf.Match.RateWindowMs)*time.Millisecond,
	)
	if err != nil {
		return err
	}

	r := router.NewRouter(manager, matcher, roomManager, limiter)
	manager.Handlers = r.Handlers()
	manager.OnDisconnect = r.HandleDisconnect
	manager.Start()

	// 使用 common 封装的 gin 库 http-server
	server := http.NewHttpServer(
		http.WithPort(config.Conf.WsPort),
		http.WithMode(config.Conf.Log.Level),
	)

	// 中间处理器注册
	server.Use(
		http.CorsMiddleware(),
		http.LoggerMiddleware(),
	)

	// 路由注册
	server.GET("/", func(c *http.Context) error {
		c.String(200, "Backend is running")
		return nil
	})
	server.GET("/ping", func(c *http.Context) error {
		c.Success("pong")
		return nil
	})
	server.GET("/ws", func(c *http.Context) error {
		manager.UpgradeFunc(c.Writer(), c.Request())
		return nil
	})

	go func() {
		log.Info("启动 HTTP 服务器，端口: %d", config.Conf.WsPort)
		if err := server.Start(); err != nil {
			// http.ErrServerClosed 是正常关闭，不需要记录为错误
			if err.Error() != "http: Server closed" {
				log.Fatal("HTTP 服务器启动失败: %v", err)
			}
		}
	}()

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP 服务器关闭失败: %v", err)
		} else {
			log.Info("HTTP 服务器已优雅关闭")
		}
		manager.Close()
		if err := redisManager.Close(); err != nil {
			log.Error("redis 关闭失败: %v", err)
		}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGHUP)
	for {
		select {
		case <-ctx.Done():
			stop()
			return nil
		case s := <-c:
			switch s {
			case syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT:
				stop()
				log.Info("中断信号，服务停止")
				return nil
			case syscall.SIGHUP:
				stop()
				log.Info("挂起信号，服务停止")
				return nil
			default:
				return nil
			}
		}
	}
}
