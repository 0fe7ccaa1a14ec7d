package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	NotifierLog   = "log"
	NotifierSMTP  = "smtp"
	NotifierKafka = "kafka"
)

type Config struct {
	Env       string
	Addr      string
	PublicURL *url.URL
	LogLevel  string

	Store           string
	MongoURI        string
	MongoDB         string
	MongoCollection string
	DBDSN           string

	EmailProofTTL      time.Duration
	PasswordResetTTL   time.Duration
	OTPTTL             time.Duration
	OTPDigits          int
	RevealUnknownEmail bool

	Notifier string
	SMTP     SMTPConfig
	Kafka    KafkaConfig
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSMode   string
	FromEmail string
	FromName  string
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Username string
	Password string
}

// Load reads the dotenv file named by APP_DOTENV_FILE (default .env), then
// the process environment.
func Load() (Config, error) {
	path := os.Getenv("APP_DOTENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := loadDotEnvFile(path, os.Setenv, os.Getenv); err != nil {
		return Config{}, err
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:             getenv("APP_ENV"),
		Addr:            getenv("APP_ADDR"),
		LogLevel:        getenv("APP_LOG_LEVEL"),
		Store:           strings.ToLower(strings.TrimSpace(getenv("APP_STORE"))),
		MongoURI:        getenv("APP_MONGO_URI"),
		MongoDB:         getenv("APP_MONGO_DB"),
		MongoCollection: getenv("APP_MONGO_COLLECTION"),
		DBDSN:           getenv("APP_DB_DSN"),
		Notifier:        strings.ToLower(strings.TrimSpace(getenv("APP_NOTIFIER"))),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.MongoDB == "" {
		cfg.MongoDB = "accounts"
	}
	if cfg.MongoCollection == "" {
		cfg.MongoCollection = "users"
	}

	publicURLRaw := getenv("APP_PUBLIC_URL")
	if publicURLRaw != "" {
		parsed, err := url.Parse(publicURLRaw)
		if err != nil {
			return Config{}, fmt.Errorf("APP_PUBLIC_URL: %w", err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return Config{}, errors.New("APP_PUBLIC_URL: must be an absolute URL")
		}
		switch parsed.Scheme {
		case "http", "https":
		default:
			return Config{}, errors.New("APP_PUBLIC_URL: scheme must be http or https")
		}
		cfg.PublicURL = parsed
	}

	var err error
	if cfg.EmailProofTTL, err = durationVar(getenv, "APP_EMAIL_PROOF_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PasswordResetTTL, err = durationVar(getenv, "APP_PASSWORD_RESET_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.OTPTTL, err = durationVar(getenv, "APP_OTP_TTL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.OTPDigits, err = intVar(getenv, "APP_OTP_DIGITS", 6); err != nil {
		return Config{}, err
	}
	if cfg.OTPDigits < 4 || cfg.OTPDigits > 9 {
		return Config{}, errors.New("APP_OTP_DIGITS: must be between 4 and 9")
	}
	if cfg.RevealUnknownEmail, err = boolVar(getenv, "APP_RESET_REVEAL_UNKNOWN_EMAIL", false); err != nil {
		return Config{}, err
	}

	if cfg.Store == "" {
		switch {
		case cfg.MongoURI != "":
			cfg.Store = StoreMongo
		case cfg.DBDSN != "":
			cfg.Store = StorePostgres
		default:
			cfg.Store = StoreMemory
		}
	}
	switch cfg.Store {
	case StoreMemory:
	case StoreMongo:
		if cfg.MongoURI == "" {
			return Config{}, errors.New("APP_MONGO_URI: required when APP_STORE=mongo")
		}
	case StorePostgres:
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required when APP_STORE=postgres")
		}
	default:
		return Config{}, errors.New("APP_STORE: must be one of memory, mongo, postgres")
	}

	if cfg.Notifier == "" {
		cfg.Notifier = NotifierLog
	}
	switch cfg.Notifier {
	case NotifierLog:
	case NotifierSMTP:
		if cfg.SMTP, err = loadSMTP(getenv); err != nil {
			return Config{}, err
		}
	case NotifierKafka:
		if cfg.Kafka, err = loadKafka(getenv); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, errors.New("APP_NOTIFIER: must be one of log, smtp, kafka")
	}

	if cfg.IsProd() {
		if cfg.PublicURL == nil {
			return Config{}, errors.New("APP_PUBLIC_URL: required in prod")
		}
		if cfg.Store == StoreMemory {
			return Config{}, errors.New("APP_STORE: memory is not allowed in prod")
		}
		if cfg.Notifier == NotifierLog {
			return Config{}, errors.New("APP_NOTIFIER: log is not allowed in prod")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func loadSMTP(getenv func(string) string) (SMTPConfig, error) {
	s := SMTPConfig{
		Host:      strings.TrimSpace(getenv("APP_SMTP_HOST")),
		Username:  getenv("APP_SMTP_USERNAME"),
		Password:  getenv("APP_SMTP_PASSWORD"),
		TLSMode:   strings.ToLower(strings.TrimSpace(getenv("APP_SMTP_TLS_MODE"))),
		FromEmail: strings.TrimSpace(getenv("APP_SMTP_FROM_EMAIL")),
		FromName:  strings.TrimSpace(getenv("APP_SMTP_FROM_NAME")),
	}
	if s.Host == "" {
		return SMTPConfig{}, errors.New("APP_SMTP_HOST: required when APP_NOTIFIER=smtp")
	}
	if s.FromEmail == "" {
		return SMTPConfig{}, errors.New("APP_SMTP_FROM_EMAIL: required when APP_NOTIFIER=smtp")
	}
	if s.TLSMode == "" {
		s.TLSMode = "starttls"
	}
	switch s.TLSMode {
	case "tls", "starttls", "none":
	default:
		return SMTPConfig{}, errors.New("APP_SMTP_TLS_MODE: must be one of tls, starttls, none")
	}
	defaultPort := 587
	if s.TLSMode == "tls" {
		defaultPort = 465
	}
	port, err := intVar(getenv, "APP_SMTP_PORT", defaultPort)
	if err != nil {
		return SMTPConfig{}, err
	}
	if port <= 0 || port > 65535 {
		return SMTPConfig{}, errors.New("APP_SMTP_PORT: must be between 1 and 65535")
	}
	s.Port = port
	return s, nil
}

func loadKafka(getenv func(string) string) (KafkaConfig, error) {
	k := KafkaConfig{
		Brokers:  parseCSV(getenv("APP_KAFKA_BROKERS")),
		Topic:    strings.TrimSpace(getenv("APP_KAFKA_TOPIC")),
		Username: getenv("APP_KAFKA_USERNAME"),
		Password: getenv("APP_KAFKA_PASSWORD"),
	}
	if len(k.Brokers) == 0 {
		return KafkaConfig{}, errors.New("APP_KAFKA_BROKERS: required when APP_NOTIFIER=kafka")
	}
	if k.Topic == "" {
		k.Topic = "account.notifications"
	}
	if k.Password != "" && k.Username == "" {
		return KafkaConfig{}, errors.New("APP_KAFKA_USERNAME: required when APP_KAFKA_PASSWORD is set")
	}
	return k, nil
}

func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be > 0", key)
	}
	return d, nil
}

func intVar(getenv func(string) string, key string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: must be an integer", key)
	}
	return n, nil
}

func boolVar(getenv func(string) string, key string, def bool) (bool, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: must be a boolean", key)
	}
	return b, nil
}

// parseCSV splits on commas, dropping blanks and duplicates.
func parseCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
