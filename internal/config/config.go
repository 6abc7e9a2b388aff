package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var ErrMailNotConfigured = errors.New("email delivery is not configured")

type SMTP struct {
	Host     string        `env:"HOST" envDefault:"smtp.gmail.com"`
	Port     string        `env:"PORT" envDefault:"465"`
	User     string        `env:"USER"`
	Password string        `env:"PASSWORD"`
	TLS      string        `env:"TLS" envDefault:"ssl"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	TemplatePath   string `env:"TEMPLATE_PATH" envDefault:"donate_format.docx"`
	FormSchemaPath string `env:"FORM_SCHEMA_PATH"`
	DateZeroPad    bool   `env:"DATE_ZERO_PAD" envDefault:"false"`

	ResearcherName        string `env:"RESEARCHER_NAME" envDefault:"佐々木玲仁"`
	ResearcherAffiliation string `env:"RESEARCHER_AFFILIATION" envDefault:"人間環境学研究院"`
	ContactAddress        string `env:"CONTACT_ADDRESS"`

	EmailMode    string `env:"EMAIL_MODE" envDefault:"direct-send"`
	Recipient    string `env:"RECIPIENT_ADDRESS"`
	MailFrom     string `env:"MAIL_FROM"`
	SMTP         SMTP   `envPrefix:"SMTP_"`
	SendAttempts int    `env:"SEND_ATTEMPTS" envDefault:"3"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"2h"`

	DatabaseURL    string `env:"DATABASE_URL"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://db/migrations"`

	KafkaBootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	KafkaTopic            string `env:"KAFKA_TOPIC" envDefault:"donation_applications"`
}

// Load reads .env files when present and parses the environment.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			log.WithField("file", f).Debug("Could not load .env file")
		}
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.KafkaBootstrapServers = strings.Trim(cfg.KafkaBootstrapServers, "\"")
	if cfg.MailFrom == "" {
		cfg.MailFrom = cfg.SMTP.User
	}
	if cfg.SendAttempts < 1 {
		cfg.SendAttempts = 1
	}
	return cfg, nil
}

// MailReady reports whether the selected email mode has what it needs.
func (c Config) MailReady() error {
	var missing []string
	if c.Recipient == "" {
		missing = append(missing, "RECIPIENT_ADDRESS")
	}
	if c.EmailMode != "compose-link" {
		if c.SMTP.User == "" {
			missing = append(missing, "SMTP_USER")
		}
		if c.SMTP.Password == "" {
			missing = append(missing, "SMTP_PASSWORD")
		}
		if c.SMTP.Host == "" || c.SMTP.Port == "" {
			missing = append(missing, "SMTP_HOST/SMTP_PORT")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrMailNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) ParsedLogLevel() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
