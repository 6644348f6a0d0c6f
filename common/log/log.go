package log

import (
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var logger *log.Logger

func init() {
	// 兜底 logger，保证 InitLog 之前（例如单元测试里）也能打日志
	logger = log.New(os.Stdout)
	logger.SetLevel(log.InfoLevel)
}

func InitLog(appName string, logLevel string) {
	// 使用 os.Stdout 而不是 os.Stderr
	// GoLand 控制台会将 stderr 显示为红色，stdout 显示为正常颜色
	logger = log.New(os.Stdout)
	logger.SetPrefix(appName)
	logger.SetReportTimestamp(true)
	logger.SetTimeFormat(time.DateTime)

	// 启用调用者信息（显示文件名和行号）
	logger.SetReportCaller(true)
	// 默认为 info 级别
	if logLevel == "" {
		logLevel = "info"
	}

	SetLevel(logLevel)
}

// SetLevel 运行时调整日志级别（配置热更新时调用）
func SetLevel(logLevel string) {
	switch strings.ToLower(logLevel) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
}

func Fatal(format string, args ...any) {
	logger.Fatalf(format, args...)
}

func Info(format string, args ...any) {
	logger.Infof(format, args...)
}

func Warn(format string, args ...any) {
	logger.Warnf(format, args...)
}

func Error(format string, args ...any) {
	logger.Errorf(format, args...)
}

func Debug(format string, args ...any) {
	logger.Debugf(format, args...)
}
