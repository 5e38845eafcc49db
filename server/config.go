package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务端运行配置：先读 .env，再读环境变量，main 中的命令行参数最后覆盖
type Config struct {
	Addr         string
	LogFile      string
	LogLevel     string
	ReadLimit    int64
	WriteTimeout time.Duration
	// IdleTimeout 为 0 表示不设读超时：静默但未断开的连接会一直保留
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		LogFile:      "app.log",
		LogLevel:     "debug",
		ReadLimit:    1 << 20, // 1MB
		WriteTimeout: 5 * time.Second,
	}
}

// LoadConfig 加载配置；.env 不存在不是错误
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		Log.Debugf("no .env loaded: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Addr = envString("PRESENCE_ADDR", cfg.Addr)
	cfg.LogFile = envString("PRESENCE_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = envString("PRESENCE_LOG_LEVEL", cfg.LogLevel)
	cfg.ReadLimit = envInt64("PRESENCE_READ_LIMIT", cfg.ReadLimit)
	cfg.WriteTimeout = envDuration("PRESENCE_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = envDuration("PRESENCE_IDLE_TIMEOUT", cfg.IdleTimeout)
	if v := os.Getenv("PRESENCE_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		Log.Warnf("invalid value for %s: %v", key, err)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		Log.Warnf("invalid value for %s: %v", key, err)
		return def
	}
	return d
}
