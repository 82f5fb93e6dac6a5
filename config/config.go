// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/pkg/security"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Server          ServerConfig
	Storage         StorageConfig
	Database        DatabaseConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Payments        PaymentsConfig
	Fees            domain.FeeSchedule
	Chapa           ChapaConfig
	Mpesa           MpesaConfig
	Midtrans        MidtransConfig
	BaseCallbackURL string
}

type ServerConfig struct {
	Port string
	Env  string
}

type StorageConfig struct {
	Driver string // postgres | memory
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type PaymentsConfig struct {
	DefaultProvider domain.Provider
	DefaultCurrency string
	ProviderTimeout time.Duration
	VerificationTTL time.Duration
	IdempotencyTTL  time.Duration
	PayoutLockTTL   time.Duration
}

type ChapaConfig struct {
	SecretKey     string
	BaseURL       string
	WebhookSecret string
	CallbackURL   string
	ReturnURL     string
}

type MpesaConfig struct {
	Environment    string
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	ShortCode      string
	CallbackSecret string

	// B2C (mobile money payouts)
	B2CShortCode          string
	B2CInitiatorName      string
	B2CPassword           string
	B2CSecurityCredential string
	B2CConsumerKey        string
	B2CConsumerSecret     string

	// B2B (bank paybill payouts)
	B2BShortCode          string
	B2BInitiatorName      string
	B2BPassword           string
	B2BSecurityCredential string
	B2BConsumerKey        string
	B2BConsumerSecret     string
}

type MidtransConfig struct {
	ServerKey   string
	Environment string
}

func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	baseCallback := strings.TrimRight(getEnv("CALLBACK_BASE_URL", "http://localhost:8030"), "/")

	defaultProvider, ok := domain.ParseProvider(getEnv("DEFAULT_PROVIDER", string(domain.ProviderChapa)))
	if !ok {
		return nil, fmt.Errorf("DEFAULT_PROVIDER %q is not a known provider", defaultProvider)
	}

	fees, err := loadFees()
	if err != nil {
		return nil, fmt.Errorf("failed to load fee schedule: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8030"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", "postgres"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "ersha_payments"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns:        int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "redis"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_TOPIC", "payments.events"),
		},
		Payments: PaymentsConfig{
			DefaultProvider: defaultProvider,
			DefaultCurrency: getEnv("DEFAULT_CURRENCY", "ETB"),
			ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			VerificationTTL: getEnvDuration("VERIFICATION_TTL", 24*time.Hour),
			IdempotencyTTL:  getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			PayoutLockTTL:   getEnvDuration("PAYOUT_LOCK_TTL", 2*time.Minute),
		},
		Fees: fees,
		Chapa: ChapaConfig{
			SecretKey:     getEnv("CHAPA_SECRET_KEY", ""),
			BaseURL:       getEnv("CHAPA_BASE_URL", "https://api.chapa.co"),
			WebhookSecret: getEnv("CHAPA_WEBHOOK_SECRET", ""),
			CallbackURL:   getEnv("CHAPA_CALLBACK_URL", baseCallback+"/api/v1/callbacks/chapa"),
			ReturnURL:     getEnv("CHAPA_RETURN_URL", ""),
		},
		Mpesa: MpesaConfig{
			Environment:    getEnv("MPESA_ENVIRONMENT", "sandbox"),
			BaseURL:        getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			ShortCode:      getEnv("MPESA_SHORT_CODE", ""),
			CallbackSecret: getEnv("MPESA_CALLBACK_SECRET", ""),

			B2CShortCode:      getEnv("B2C_SHORT_CODE", ""),
			B2CInitiatorName:  getEnv("B2C_INITIATOR_NAME", ""),
			B2CPassword:       getEnv("B2C_PASSWORD", ""),
			B2CConsumerKey:    getEnv("B2C_CONSUMER_KEY", ""),
			B2CConsumerSecret: getEnv("B2C_CONSUMER_SECRET", ""),

			B2BShortCode:      getEnv("B2B_SHORTCODE", ""),
			B2BInitiatorName:  getEnv("B2B_INITIATOR_NAME", ""),
			B2BPassword:       getEnv("B2B_INITIATOR_PASSWORD", ""),
			B2BConsumerKey:    getEnv("B2B_CONSUMER_KEY", ""),
			B2BConsumerSecret: getEnv("B2B_CONSUMER_SECRET", ""),
		},
		Midtrans: MidtransConfig{
			ServerKey:   getEnv("MIDTRANS_SERVER_KEY", ""),
			Environment: getEnv("MIDTRANS_ENVIRONMENT", "sandbox"),
		},
		BaseCallbackURL: baseCallback,
	}

	if cfg.Storage.Driver != "postgres" && cfg.Storage.Driver != "memory" {
		return nil, fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", cfg.Storage.Driver)
	}

	if err := cfg.generateSecurityCredentials(logger); err != nil {
		return nil, fmt.Errorf("failed to generate security credentials: %w", err)
	}

	return cfg, nil
}

func loadFees() (domain.FeeSchedule, error) {
	var err error
	rate := func(key, def string) decimal.Decimal {
		if err != nil {
			return decimal.Zero
		}
		var d decimal.Decimal
		d, err = getEnvDecimal(key, def)
		return d
	}

	fees := domain.FeeSchedule{
		PlatformRate: rate("FEE_PLATFORM_RATE", "0.02"),
		ProcessingRates: map[domain.Provider]decimal.Decimal{
			domain.ProviderChapa:    rate("FEE_CHAPA_RATE", "0.035"),
			domain.ProviderMpesa:    rate("FEE_MPESA_RATE", "0.01"),
			domain.ProviderMidtrans: rate("FEE_MIDTRANS_RATE", "0.029"),
		},
		PayoutFees: map[domain.MethodKind]decimal.Decimal{
			domain.MethodMobileMoney: rate("FEE_PAYOUT_MOBILE", "5"),
			domain.MethodBank:        rate("FEE_PAYOUT_BANK", "15"),
		},
	}
	return fees, err
}

// generateSecurityCredentials derives the B2C/B2B initiator credentials
// from the Daraja certificate, falling back to pre-computed values.
func (c *Config) generateSecurityCredentials(logger *zap.Logger) error {
	certPath := getEnv("MPESA_CERT_PATH", "./certs/cert.cer")

	if _, err := os.Stat(certPath); err != nil {
		logger.Warn("M-Pesa certificate not found, using environment credentials",
			zap.String("cert_path", certPath))
		c.Mpesa.B2CSecurityCredential = getEnv("B2C_SECURITY_CREDENTIAL", "")
		c.Mpesa.B2BSecurityCredential = getEnv("B2B_SECURITY_CREDENTIAL", "")
		return nil
	}

	if c.Mpesa.B2CInitiatorName != "" && c.Mpesa.B2CPassword != "" {
		credential, err := security.GenerateSecurityCredential(certPath, c.Mpesa.B2CPassword)
		if err != nil {
			return fmt.Errorf("failed to generate B2C security credential: %w", err)
		}
		c.Mpesa.B2CSecurityCredential = credential
		logger.Info("B2C security credential generated",
			zap.String("initiator_name", c.Mpesa.B2CInitiatorName))
	}

	if c.Mpesa.B2BInitiatorName != "" && c.Mpesa.B2BPassword != "" {
		credential, err := security.GenerateSecurityCredential(certPath, c.Mpesa.B2BPassword)
		if err != nil {
			return fmt.Errorf("failed to generate B2B security credential: %w", err)
		}
		c.Mpesa.B2BSecurityCredential = credential
		logger.Info("B2B security credential generated",
			zap.String("initiator_name", c.Mpesa.B2BInitiatorName))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intVal, err := strconv.Atoi(value)
		if err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
