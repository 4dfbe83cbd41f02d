package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultSendGridAPIURL is the base URL of SendGrid's Web API v2.
const DefaultSendGridAPIURL = "https://api.sendgrid.com/api/"

// Config captures all runtime configuration for the email delivery worker.
type Config struct {
	App           AppConfig
	Kafka         KafkaConfig
	Topics        TopicConfig
	ConsumerGroup string
	Retry         RetryConfig
	Validation    ValidationConfig
	Providers     ProviderConfig
	Timeouts      TimeoutConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// KafkaConfig defines broker information.
type KafkaConfig struct {
	Brokers []string
}

// TopicConfig groups the request, status and DLQ topics for the email channel.
type TopicConfig struct {
	Request string
	Status  string
	DLQ     string
}

// RetryConfig controls worker retry and backoff behaviour.
type RetryConfig struct {
	MaxAttempts         int
	BaseBackoffSeconds  int
	MaxBackoffSeconds   int
	WorkerConcurrency   int
	CommitOnSuccessOnly bool
}

// ValidationConfig holds the limits used while validating inbound requests.
type ValidationConfig struct {
	MsgMaxBytes        int
	RecipientsMax      int
	SubjectMaxLen      int
	BodyMaxBytes       int
	AttachmentsMax     int
	AttachmentMaxBytes int
	TagsMax            int
	TagMaxLen          int
	MetaMaxEntries     int
	MetaMaxKeyLen      int
	MetaMaxValueLen    int
}

// SendGridConfig stores the SendGrid API credentials and endpoint. APIURL is
// always normalized to end with a trailing slash.
type SendGridConfig struct {
	APIKey string
	APIURL string
}

// ProviderConfig wraps configuration for external providers.
type ProviderConfig struct {
	SendGrid SendGridConfig
}

// TimeoutConfig contains timeout thresholds for outbound provider calls.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)

	cfg.Topics = TopicConfig{
		Request: ldr.getString("KAFKA_EMAIL_REQUEST_TOPIC", "", true),
		Status:  ldr.getString("KAFKA_EMAIL_STATUS_TOPIC", "", true),
		DLQ:     ldr.getString("KAFKA_EMAIL_DLQ_TOPIC", "", true),
	}
	cfg.ConsumerGroup = ldr.getString("EMAIL_CONSUMER_GROUP", "", true)

	cfg.Retry.MaxAttempts = ldr.getInt("MAX_ATTEMPTS", 3, false)
	cfg.Retry.BaseBackoffSeconds = ldr.getInt("BASE_BACKOFF_SECONDS", 10, false)
	cfg.Retry.MaxBackoffSeconds = ldr.getInt("MAX_BACKOFF_SECONDS", 120, false)
	cfg.Retry.WorkerConcurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	cfg.Retry.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)

	cfg.Validation.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 200000, false)
	cfg.Validation.RecipientsMax = ldr.getInt("RECIPIENTS_MAX", 50, false)
	cfg.Validation.SubjectMaxLen = ldr.getInt("SUBJECT_MAX_LEN", 255, false)
	cfg.Validation.BodyMaxBytes = ldr.getInt("BODY_MAX_BYTES", 100000, false)
	cfg.Validation.AttachmentsMax = ldr.getInt("ATTACHMENTS_MAX", 10, false)
	cfg.Validation.AttachmentMaxBytes = ldr.getInt("ATTACHMENT_MAX_BYTES", 5000000, false)
	cfg.Validation.TagsMax = ldr.getInt("TAGS_MAX", 10, false)
	cfg.Validation.TagMaxLen = ldr.getInt("TAG_MAX_LEN", 64, false)
	cfg.Validation.MetaMaxEntries = ldr.getInt("META_MAX_ENTRIES", 20, false)
	cfg.Validation.MetaMaxKeyLen = ldr.getInt("META_MAX_KEY_LEN", 64, false)
	cfg.Validation.MetaMaxValueLen = ldr.getInt("META_MAX_VALUE_LEN", 256, false)

	cfg.Providers.SendGrid.APIKey = ldr.getString("SENDGRID_API_KEY", "", true)
	cfg.Providers.SendGrid.APIURL = normalizeAPIURL(ldr.getString("SENDGRID_API_URL", DefaultSendGridAPIURL, false))

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func normalizeAPIURL(raw string) string {
	if raw == "" {
		return DefaultSendGridAPIURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
