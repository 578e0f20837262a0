package config

import (
	"context"
	"strings"
)

// Config 加载器配置
type Config struct {
	Name      string              // 配置文件名称（不含扩展名），默认 "config"
	Paths     []string            // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string              // 配置文件类型，默认 "yaml"
	EnvPrefix string              // 环境变量前缀，默认 "BFF"
	Defaults  map[string]any      // 默认值，注册后对应 key 才能被环境变量覆盖
	Aliases   map[string][]string // 额外绑定的环境变量名，例如 "backends.auth.base_url" -> AUTH_SERVICE_URL
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "config"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "BFF"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// Option 加载器选项
type Option func(*options)

// New 创建配置加载器，cfg 为 nil 时使用默认配置。
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o), nil
}

// MustLoad 创建加载器并立即加载，失败时 panic，仅用于启动阶段。
func MustLoad(ctx context.Context, cfg *Config, opts ...Option) Loader {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	if err := l.Load(ctx); err != nil {
		panic(err)
	}
	return l
}
