package http

import (
	"time"

	"relay/common/log"
)

// CorsMiddleware 跨域中间件，前端和信令服务不同源
func CorsMiddleware() MiddlewareFunc {
	return func(c *Context) error {
		method := c.Method()
		origin := c.GetHeader("Origin")

		if origin != "" {
			c.SetHeader("Access-Control-Allow-Origin", "*")
			c.SetHeader("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, UPDATE")
			c.SetHeader("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
			c.SetHeader("Access-Control-Allow-Credentials", "true")
		}

		// 处理预检请求
		if method == "OPTIONS" {
			c.AbortWithStatus(204)
			return nil
		}

		return nil
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() MiddlewareFunc {
	return func(c *Context) error {
		start := time.Now()
		path := c.Path()
		method := c.Method()

		log.Info("HTTP Request: %s %s from %s", method, path, c.ClientIP())

		defer func() {
			log.Debug("HTTP Response: %s %s completed in %v", method, path, time.Since(start))
		}()

		return nil
	}
}
