package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMongo = "mongo"
	DriverMySQL = "mysql"
)

type Config struct {
	Port        string
	Env         string
	StoreDriver string

	MongoURI string
	MongoDB  string
	DSN      string

	JWTSecret       string
	JWTTTL          time.Duration
	VerificationTTL time.Duration
	BaseURL         string

	SMTP SMTPConfig

	EmailSendTimeout time.Duration

	Kafka KafkaConfig

	CORSOrigins []string
	LogLevel    string
	LogFormat   string
}

type SMTPConfig struct {
	Server    string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Enabled reports whether enough is configured to actually send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Server != "" && c.FromEmail != ""
}

type KafkaConfig struct {
	Broker   string
	Topic    string
	GroupID  string
	Username string
	Password string
}

func (c KafkaConfig) Enabled() bool { return c.Broker != "" }

// Load reads .env (if present) and the process environment for the API.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(true)
}

// LoadMailer is Load for cmd/mailer, which needs Kafka but no store or
// session secret.
func LoadMailer() (*Config, error) {
	_ = godotenv.Load()
	c, err := load(false)
	if err != nil {
		return nil, err
	}
	if !c.Kafka.Enabled() {
		return nil, fmt.Errorf("missing env: %s", "KAFKA_BROKER")
	}
	return c, nil
}

func load(api bool) (*Config, error) {
	c := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "dev"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverMongo)),
		BaseURL:     strings.TrimRight(getEnv("BASE_URL", "http://localhost:8000"), "/"),
		SMTP: SMTPConfig{
			Server:    os.Getenv("SMTP_SERVER"),
			Username:  os.Getenv("SMTP_USERNAME"),
			Password:  os.Getenv("SMTP_PASSWORD"),
			FromEmail: os.Getenv("FROM_EMAIL"),
			FromName:  getEnv("FROM_NAME", "VeXeKhach"),
		},
		Kafka: KafkaConfig{
			Broker:   os.Getenv("KAFKA_BROKER"),
			Topic:    getEnv("KAFKA_TOPIC", "user.verify_email"),
			GroupID:  getEnv("KAFKA_GROUP_ID", "mailer"),
			Username: os.Getenv("KAFKA_USERNAME"),
			Password: os.Getenv("KAFKA_PASSWORD"),
		},
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if api {
		if err := c.requireAPI(); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dst  *time.Duration
		unit time.Duration
	}{
		{"JWT_TTL_MINUTES", 60, &c.JWTTTL, time.Minute},
		{"VERIFICATION_TTL_HOURS", 24, &c.VerificationTTL, time.Hour},
		{"EMAIL_SEND_TIMEOUT_SECONDS", 10, &c.EmailSendTimeout, time.Second},
	}
	for _, it := range ints {
		n, err := positiveInt(it.key, it.def)
		if err != nil {
			return nil, err
		}
		*it.dst = time.Duration(n) * it.unit
	}

	if c.SMTP.Port, err = positiveInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) requireAPI() error {
	var err error
	if c.JWTSecret, err = mustEnv("JWT_SECRET"); err != nil {
		return err
	}
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI, err = mustEnv("MONGO_URI"); err != nil {
			return err
		}
		if c.MongoDB, err = mustEnv("MONGO_DB"); err != nil {
			return err
		}
	case DriverMySQL:
		if c.DSN, err = mustEnv("DB_DSN"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.Port }

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) (string, error) {
	v := os.Getenv(k)
	if v == "" {
		return "", fmt.Errorf("missing env: %s", k)
	}
	return v, nil
}

func positiveInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("env %s must be a positive integer, got %q", k, v)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
