package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"relay/common/log"
)

var Conf *Config

type Config struct {
	AppName      string       `mapstructure:"appName"`
	WsPort       int          `mapstructure:"wsPort"`
	MetricPort   int          `mapstructure:"metricPort"`
	Log          LogConf      `mapstructure:"log"`
	DatabaseConf DatabaseConf `mapstructure:"database"`
	Match        MatchConf    `mapstructure:"match"`
}

type LogConf struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

type DatabaseConf struct {
	RedisConf RedisConf `mapstructure:"redis"`
}

type RedisConf struct {
	Addr         string   `mapstructure:"addr"`
	ClusterAddrs []string `mapstructure:"clusterAddrs"`
	Password     string   `mapstructure:"password"`
	PoolSize     int      `mapstructure:"poolSize"`
	MinIdleConns int      `mapstructure:"minIdleConns"`
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
}

// MatchConf 匹配与限流相关配置
type MatchConf struct {
	QueueKey     string `mapstructure:"queueKey"`     // 匹配队列的 redis key
	RateLimit    int    `mapstructure:"rateLimit"`    // 单个连接一个窗口内允许的事件数
	RateWindowMs int64  `mapstructure:"rateWindowMs"` // 限流窗口，单位毫秒
}

func Load(configFile string) error {
	Conf = new(Config)
	v := viper.New()
	v.SetConfigFile(configFile)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("wsPort", 5000)
	v.SetDefault("metricPort", 5389)
	v.SetDefault("match.queueKey", "matchmaking_queue")
	v.SetDefault("match.rateLimit", 20)
	v.SetDefault("match.rateWindowMs", 10000)

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	if err := v.Unmarshal(&Conf); err != nil {
		return err
	}

	// 配置热更新：目前只感知日志级别的变化，端口、redis 等需要重启
	v.WatchConfig()
	v.OnConfigChange(func(in fsnotify.Event) {
		if err := v.Unmarshal(&Conf); err != nil {
			log.Error("解析配置文件出错: %v", err)
			return
		}
		log.SetLevel(Conf.Log.Level)
		log.Info("配置文件已重新加载: %s", in.Name)
	})

	return nil
}
