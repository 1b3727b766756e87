package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderengine/internal/pricing"
)

const envPrefix = "OMS"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config описывает настройки запуска приложения. Значения читаются из
// переменных окружения с префиксом OMS_ поверх DefaultConfig.
type Config struct {
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE"`

	// KafkaBrokers — список брокеров через запятую. Пустое значение отключает Kafka.
	KafkaBrokers              string `envconfig:"KAFKA_BROKERS"`
	KafkaOrderTopic           string `envconfig:"KAFKA_ORDER_TOPIC"`
	KafkaPaymentCallbackTopic string `envconfig:"KAFKA_PAYMENT_CALLBACK_TOPIC"`
	KafkaDLQTopic             string `envconfig:"KAFKA_DLQ_TOPIC"`
	KafkaConsumerGroup        string `envconfig:"KAFKA_CONSUMER_GROUP"`
	KafkaConsumerMaxRetries   int    `envconfig:"KAFKA_CONSUMER_MAX_RETRIES"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY"`
	// OutboxMaxPending — порог backlog'а, после которого health отдаёт degraded.
	OutboxMaxPending int `envconfig:"OUTBOX_MAX_PENDING"`

	IdempotencyTTL              time.Duration `envconfig:"IDEMPOTENCY_TTL"`
	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`

	OTLPEndpoint      string  `envconfig:"OTLP_ENDPOINT"`
	TracingSampleRate float64 `envconfig:"TRACING_SAMPLE_RATE"`

	// ShippingRates — тарифы доставки в формате "standard:500,express:1500".
	ShippingRates  string `envconfig:"SHIPPING_RATES"`
	TaxBasisPoints int64  `envconfig:"TAX_BASIS_POINTS"`

	// MemorySeedProducts наполняет in-memory каталог: "id:price:stock,...".
	MemorySeedProducts string `envconfig:"MEMORY_SEED_PRODUCTS"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище, без Kafka и трейсинга.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaOrderTopic:           kafka.TopicOrderEvents,
		KafkaPaymentCallbackTopic: kafka.TopicPaymentCallbacks,
		KafkaDLQTopic:             kafka.TopicDeadLetterQueue,
		KafkaConsumerGroup:        "orderengine-payment-callbacks",
		KafkaConsumerMaxRetries:   3,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   200 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		LogLevel:          "info",
		LogFormat:         LogFormatText,
		TracingSampleRate: 1,

		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig читает необязательный .env и переменные окружения OMS_*.
func LoadConfig(logger *log.Entry, envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
		if logger != nil {
			logger.Debug("env file not found, using process environment")
		}
	}

	cfg := DefaultConfig()
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.KafkaBrokers = strings.TrimSpace(c.KafkaBrokers)
}

// Validate проверяет значения, которые нельзя исправить молча.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("OMS_POSTGRES_DSN is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be > 0"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be > 0"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be > 0"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must be >= 0"))
	}
	if c.OutboxMaxPending < 0 {
		errs = append(errs, errors.New("outbox max pending must be >= 0"))
	}
	if c.IdempotencyCleanupInterval <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval must be > 0"))
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup batch size must be > 0"))
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, errors.New("tracing sample rate must be within [0, 1]"))
	}
	if c.TaxBasisPoints < 0 || c.TaxBasisPoints > 10000 {
		errs = append(errs, errors.New("tax basis points must be within [0, 10000]"))
	}
	if _, err := parseShippingRates(c.ShippingRates); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseSeedProducts(c.MemorySeedProducts); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Brokers возвращает список брокеров Kafka без пустых элементов.
func (c Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// ChargesPolicy собирает политику налога и доставки из конфигурации.
func (c Config) ChargesPolicy() (pricing.ChargesPolicy, error) {
	rates, err := parseShippingRates(c.ShippingRates)
	if err != nil {
		return pricing.ChargesPolicy{}, err
	}
	return pricing.ChargesPolicy{ShippingRates: rates, TaxBasisPoints: c.TaxBasisPoints}, nil
}

func parseShippingRates(raw string) (map[string]int64, error) {
	rates := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		method, amount, ok := strings.Cut(pair, ":")
		method = strings.ToLower(strings.TrimSpace(method))
		if !ok || method == "" {
			return nil, fmt.Errorf("invalid shipping rate %q: expected method:amount", pair)
		}
		value, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || value < 0 {
			return nil, fmt.Errorf("invalid shipping rate amount for %q", method)
		}
		rates[method] = value
	}
	return rates, nil
}

func parseSeedProducts(raw string) ([]domain.Product, error) {
	var products []domain.Product
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid seed product %q: expected id:price:stock", entry)
		}
		id := strings.TrimSpace(parts[0])
		price, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("invalid seed product price for %q", id)
		}
		stock, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil || stock < 0 {
			return nil, fmt.Errorf("invalid seed product stock for %q", id)
		}
		products = append(products, domain.Product{
			ID:            id,
			Name:          id,
			SKU:           id,
			PriceMinor:    price,
			StockQuantity: stock,
			IsActive:      true,
		})
	}
	return products, nil
}
