// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// envPattern 匹配 ${VAR} 或 ${VAR:default}
// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
var envPattern = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load 从 CONFIG_DIR（默认 configs）加载配置
func Load() (*Config, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	return LoadFrom(dir)
}

// LoadFrom 从指定目录加载配置
// 按优先级加载：默认值 -> config.yaml -> config.<APP_ENV>.yaml -> 环境变量
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), true); err != nil {
		return nil, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := loadConfigFile(v, filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env)), true); err != nil {
		return nil, err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Pipeline.normalize()
	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并合并到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := v.MergeConfig(strings.NewReader(expandEnv(string(content)))); err != nil {
		return fmt.Errorf("failed to merge processed config %s: %w", path, err)
	}
	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符；未定义且无默认值的变量原样保留
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(submatch[1]); ok {
			return val
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// normalize 将流水线参数收敛到允许区间
func (p *PipelineConfig) normalize() {
	if p.TargetMinScore <= 0 || p.TargetMinScore > 10 {
		p.TargetMinScore = 7.5
	}
	if p.MaxQualityCycles < 0 {
		p.MaxQualityCycles = 0
	}
	if p.MaxQualityCycles > 5 {
		p.MaxQualityCycles = 5
	}
	if p.MaxEdits < 1 {
		p.MaxEdits = 1
	}
	if p.MaxEdits > 5 {
		p.MaxEdits = 5
	}
	if p.Extraction.MaxRetries < 0 {
		p.Extraction.MaxRetries = 0
	}
	if p.Extraction.Concurrency < 1 {
		p.Extraction.Concurrency = 1
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "z-novel-pipeline")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "60s")
	v.SetDefault("server.http.idle_timeout", "120s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "z_novel_pipeline")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")
	v.SetDefault("database.postgres.auto_migrate", true)

	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 50)
	v.SetDefault("cache.redis.min_idle_conns", 5)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")
	v.SetDefault("cache.checkpoint_ttl", "24h")
	v.SetDefault("cache.result_ttl", "1h")

	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.retry.max_attempts", 3)
	v.SetDefault("llm.retry.initial_interval", "1s")
	v.SetDefault("llm.retry.max_interval", "20s")
	v.SetDefault("llm.rate_limit.enabled", false)
	v.SetDefault("llm.rate_limit.requests_per_second", 2)
	v.SetDefault("llm.rate_limit.burst", 4)

	v.SetDefault("pipeline.target_min_score", 7.5)
	v.SetDefault("pipeline.max_quality_cycles", 2)
	v.SetDefault("pipeline.max_edits", 3)
	v.SetDefault("pipeline.humor_level", "medium")
	v.SetDefault("pipeline.max_output_tokens", 4096)
	v.SetDefault("pipeline.temperatures.bible", 0.7)
	v.SetDefault("pipeline.temperatures.outline", 0.6)
	v.SetDefault("pipeline.temperatures.world_state", 0.2)
	v.SetDefault("pipeline.temperatures.critic", 0.2)
	v.SetDefault("pipeline.temperatures.surgery", 0.7)
	v.SetDefault("pipeline.temperatures.extraction", 0.3)
	v.SetDefault("pipeline.extraction.enabled", true)
	v.SetDefault("pipeline.extraction.max_retries", 2)
	v.SetDefault("pipeline.extraction.concurrency", 4)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.backend", "redis")
	v.SetDefault("telemetry.buffer_size", 256)
	v.SetDefault("telemetry.drain_timeout", "5s")
	v.SetDefault("telemetry.source_tag", "z-novel-pipeline")

	v.SetDefault("messaging.redis_stream.max_len", 10000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "z-novel")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "30s")
	v.SetDefault("messaging.redis_stream.retry_limit", 3)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "1s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "60s")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Content-Type", "X-Request-ID", "Idempotency-Key", "X-Client-ID"})
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.limit", 30)
	v.SetDefault("security.rate_limit.window", "1m")
}
