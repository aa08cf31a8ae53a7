package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ecodeclub/ekit/slice"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/meoying/shardclient/internal/errs"
	"github.com/meoying/shardclient/internal/router"
)

const (
	DefaultTimeoutMillis         = 5000
	DefaultShutdownTimeoutMillis = 3000
)

type Config struct {
	Shards []Shard `json:"shards" yaml:"shards" mapstructure:"shards"`
	// Default 没有命中任何路由规则时使用的数据源
	Default *DataSource `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
	Rules   []Rule      `json:"rules" yaml:"rules" mapstructure:"rules"`
	// RulesFile .properties 格式的规则文件，相对路径相对于配置文件所在的目录
	RulesFile string   `json:"rulesFile,omitempty" yaml:"rulesFile,omitempty" mapstructure:"rulesFile"`
	Router    Router   `json:"router" yaml:"router" mapstructure:"router"`
	Executor  Executor `json:"executor" yaml:"executor" mapstructure:"executor"`
	Profile   Profile  `json:"profile" yaml:"profile" mapstructure:"profile"`
}

type DataSource struct {
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
}

type Shard struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	DataSource  `yaml:",inline" mapstructure:",squash"`
	PoolSize    int    `json:"poolSize,omitempty" yaml:"poolSize,omitempty" mapstructure:"poolSize"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

type Rule struct {
	Namespace          string `json:"namespace,omitempty" yaml:"namespace,omitempty" mapstructure:"namespace"`
	SQLAction          string `json:"sqlAction,omitempty" yaml:"sqlAction,omitempty" mapstructure:"sqlAction"`
	ShardingExpression string `json:"shardingExpression,omitempty" yaml:"shardingExpression,omitempty" mapstructure:"shardingExpression"`
	Shards             string `json:"shards" yaml:"shards" mapstructure:"shards"`
	Merger             string `json:"merger,omitempty" yaml:"merger,omitempty" mapstructure:"merger"`
}

type Router struct {
	// Separator 分片列表的分隔符，其中每一个字符都是分隔符
	Separator string `json:"separator" yaml:"separator" mapstructure:"separator"`
	Cache     Cache  `json:"cache" yaml:"cache" mapstructure:"cache"`
}

type Cache struct {
	Enabled  bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Capacity int  `json:"capacity" yaml:"capacity" mapstructure:"capacity"`
}

// Executor PoolSize 是分片没有配置 poolSize 时使用的执行池大小
type Executor struct {
	TimeoutMillis         int `json:"timeoutMillis" yaml:"timeoutMillis" mapstructure:"timeoutMillis"`
	PoolSize              int `json:"poolSize" yaml:"poolSize" mapstructure:"poolSize"`
	ShutdownTimeoutMillis int `json:"shutdownTimeoutMillis" yaml:"shutdownTimeoutMillis" mapstructure:"shutdownTimeoutMillis"`
}

func (e Executor) Timeout() time.Duration {
	return time.Duration(e.TimeoutMillis) * time.Millisecond
}

func (e Executor) ShutdownTimeout() time.Duration {
	return time.Duration(e.ShutdownTimeoutMillis) * time.Millisecond
}

type Profile struct {
	// SlowThresholdMillis 超过这个时间的操作会打印告警日志，0 表示不开启
	SlowThresholdMillis int `json:"slowThresholdMillis" yaml:"slowThresholdMillis" mapstructure:"slowThresholdMillis"`
}

func (p Profile) SlowThreshold() time.Duration {
	return time.Duration(p.SlowThresholdMillis) * time.Millisecond
}

// ParseFile 解析 YAML 配置文件，并且加载 rulesFile
func ParseFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.loadRulesFile(filepath.Dir(filePath))
}

// ParseContent 解析 YAML 内容，rulesFile 相对于当前工作目录
func ParseContent(content string) (*Config, error) {
	cfg, err := parseConfig([]byte(content))
	if err != nil {
		return nil, err
	}
	return cfg, cfg.loadRulesFile("")
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Load 使用 viper 读取配置文件，支持 viper 能够识别的所有格式
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败 %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败 %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, cfg.loadRulesFile(filepath.Dir(filePath))
}

func (c *Config) loadRulesFile(dir string) error {
	if c.RulesFile == "" {
		return nil
	}
	path := c.RulesFile
	if dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	rules, err := LoadRulesProperties(path)
	if err != nil {
		return err
	}
	c.Rules = append(c.Rules, rules...)
	return nil
}

// ApplyDefaults 填充没有配置的字段
func (c *Config) ApplyDefaults() {
	if c.Router.Separator == "" {
		c.Router.Separator = router.DefaultSeparator
	}
	if c.Router.Cache.Capacity <= 0 {
		c.Router.Cache.Capacity = router.DefaultCacheCapacity
	}
	if c.Executor.TimeoutMillis <= 0 {
		c.Executor.TimeoutMillis = DefaultTimeoutMillis
	}
	// 没有配置 poolSize 的分片使用 executor.poolSize，都没有配置时由分片自己决定默认值
	if c.Executor.PoolSize > 0 {
		for i := range c.Shards {
			if c.Shards[i].PoolSize <= 0 {
				c.Shards[i].PoolSize = c.Executor.PoolSize
			}
		}
	}
	if c.Executor.ShutdownTimeoutMillis <= 0 {
		c.Executor.ShutdownTimeoutMillis = DefaultShutdownTimeoutMillis
	}
}

// Validate 检查分片和规则。规则的表达式在构造 Router 的时候才会编译
func (c *Config) Validate() error {
	ids := sets.New[string]()
	for _, s := range c.Shards {
		if s.ID == "" {
			return errs.NewRoutingError("分片 ID 不能为空")
		}
		if ids.Has(s.ID) {
			return errs.NewDuplicateShardError(s.ID)
		}
		if s.DSN == "" {
			return errs.NewRoutingError("分片 %s 没有配置 dsn", s.ID)
		}
		ids.Insert(s.ID)
	}
	if c.Default != nil && c.Default.DSN == "" {
		return errs.NewRoutingError("默认数据源没有配置 dsn")
	}
	_, err := router.New(c.Descriptors(),
		router.WithSeparator(c.Router.Separator),
		router.WithKnownShards(sets.List(ids)...))
	return err
}

func (c *Config) Descriptors() []router.Descriptor {
	return slice.Map(c.Rules, func(idx int, src Rule) router.Descriptor {
		return router.Descriptor{
			Namespace:          src.Namespace,
			SQLAction:          src.SQLAction,
			ShardingExpression: src.ShardingExpression,
			Shards:             src.Shards,
			Merger:             src.Merger,
		}
	})
}
