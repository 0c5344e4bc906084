// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Драйверы хранилища заказов.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config содержит полную конфигурацию приложения.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Kafka    KafkaConfig
	Jaeger   JaegerConfig
	Metrics  MetricsConfig
	HTTP     HTTPConfig
	Producer ProducerConfig
	Relay    RelayConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"order-events"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// StoreConfig содержит настройки документного хранилища заказов.
// Driver=mysql — production, Driver=sqlite — локальный запуск и тесты.
type StoreConfig struct {
	Driver          string        `env:"STORE_DRIVER" envDefault:"mysql"`
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"orderuser"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"orderuser"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"orders"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"orders.db"`
	MaxOpenConns    int           `env:"STORE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"STORE_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"STORE_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"STORE_AUTO_MIGRATE" envDefault:"false"`
}

// DSN возвращает строку подключения для выбранного драйвера.
func (c StoreConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.SQLitePath
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"order-events"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HTTPConfig содержит настройки HTTP API сервиса.
type HTTPConfig struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"HTTP_PORT" envDefault:"8080"`

	// AdminRoutes включает DELETE /api/v1/orders (drop коллекции).
	AdminRoutes bool `env:"HTTP_ADMIN_ROUTES" envDefault:"false"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProducerConfig содержит настройки транзакционного producer'а событий заказов.
type ProducerConfig struct {
	TopicOwner string `env:"ORDER_TOPIC_OWNER" envDefault:"ORDERUSER"`
	TopicName  string `env:"ORDER_TOPIC_NAME" envDefault:"ORDERQUEUE"`

	// CrashAfterInsert — только для chaos-тестов: процесс завершается сразу после вставки заказа.
	CrashAfterInsert bool `env:"PRODUCER_CRASH_AFTER_INSERT" envDefault:"false"`

	// Значения слотов метаданных корреляции.
	Action   string `env:"CORRELATION_ACTION" envDefault:"produce_order"`
	Module   string `env:"CORRELATION_MODULE" envDefault:"order-events"`
	ClientID string `env:"CORRELATION_CLIENT_ID" envDefault:"order-service"`
}

// RelayConfig содержит настройки ретрансляции сообщений топика в Kafka.
type RelayConfig struct {
	Enabled      bool          `env:"RELAY_ENABLED" envDefault:"true"`
	PollInterval time.Duration `env:"RELAY_POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`
	MaxRetries   int           `env:"RELAY_MAX_RETRIES" envDefault:"5"`
	TopicPrefix  string        `env:"RELAY_KAFKA_TOPIC_PREFIX" envDefault:""`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файл не найден)
	_ = godotenv.Load()

	return parse()
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	if cfg.Store.Driver != DriverMySQL && cfg.Store.Driver != DriverSQLite {
		return nil, fmt.Errorf("неизвестный драйвер хранилища: %q", cfg.Store.Driver)
	}

	return cfg, nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
