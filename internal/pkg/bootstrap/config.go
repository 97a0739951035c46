// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config 是服务的全量配置，从 YAML 文件加载，环境变量可覆盖基础设施地址。
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"app"`

	Infra struct {
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`

		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`

		Kafka struct {
			Brokers          []string `yaml:"brokers"`
			OrderEventsTopic string   `yaml:"orderEventsTopic"`
		} `yaml:"kafka"`

		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`

		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Seckill struct {
		OrderStream         string `yaml:"orderStream"`
		CacheRebuildWorkers int    `yaml:"cacheRebuildWorkers"`
	} `yaml:"seckill"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置。路径取 CONFIG_PATH，默认 ./configs/config.yaml。
// 配置不可用是启动期致命错误。
func Init() {
	path := getEnv("CONFIG_PATH", "configs/config.yaml")

	cfg, err := loadConfig(path)
	if err != nil {
		panic(fmt.Sprintf("FATAL: failed to load config from %s: %v", path, err))
	}
	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置。
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		panic("bootstrap.Init must be called before GetCurrentConfig")
	}
	return cfg
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	// 环境变量覆盖，方便容器环境注入基础设施地址
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.Redis.Addr = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.Mysql.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}

	// 默认值
	if cfg.Seckill.OrderStream == "" {
		cfg.Seckill.OrderStream = "stream.orders"
	}
	if cfg.Seckill.CacheRebuildWorkers <= 0 {
		cfg.Seckill.CacheRebuildWorkers = 10
	}
	if cfg.Infra.Kafka.OrderEventsTopic == "" {
		cfg.Infra.Kafka.OrderEventsTopic = "voucher-order-events"
	}
	return &cfg, nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
