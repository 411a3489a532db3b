// Package config resolves the pipeline's configuration from environment
// variables, with an optional YAML overlay for the UA watch lists. Each
// service main calls godotenv.Load first, so a local .env file works the
// same as real environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// RedisConfig selects the KV endpoint and the logical database per
// namespace.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DBFrequency int
	DBBlocklist int
	DBHops      int
	DBFlags     int
}

// EngineConfig tunes the escalation engine.
type EngineConfig struct {
	Port               int
	WebhookURL         string // receiver /analyze endpoint
	LocalLLMURL        string
	LocalLLMModel      string
	LocalLLMTimeout    time.Duration
	ExternalAPIURL     string
	ExternalAPIKey     string
	ExternalAPITimeout time.Duration
	FrequencyWindow    time.Duration
	ThresholdLow       float64
	ThresholdMedium    float64
	ThresholdHigh      float64
	ModelArtifactPath  string
	RobotsFilePath     string
	BlocklistTTL       time.Duration
}

// AlertsConfig selects and configures the alert channel.
type AlertsConfig struct {
	Method           string // none, webhook, slack, smtp
	GenericURL       string
	SlackURL         string
	SlackUsername    string
	SlackIcon        string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	SMTPPasswordFile string
	SMTPUseTLS       bool
	SMTPFrom         string
	SMTPTo           []string
	MinSeverity      int
}

// TarpitConfig tunes the tarpit responder.
type TarpitConfig struct {
	Port            int
	MaxHops         int64
	HopLimitEnabled bool
	MinStreamDelay  time.Duration
	MaxStreamDelay  time.Duration
	FlagTTL         time.Duration
	Generator       string // markov or labyrinth
	CorpusPath      string
	LabyrinthDepth  int
	Fingerprinting  bool
	EscalateURL     string
}

// Config is the full resolved configuration.
type Config struct {
	Redis        RedisConfig
	Engine       EngineConfig
	Alerts       AlertsConfig
	Tarpit       TarpitConfig
	ReceiverPort int
	LogDir       string
	UAListsFile  string

	KnownBadUA    []string
	KnownBenignUA []string
}

// uaListsFile is the YAML overlay shape for the watch lists.
type uaListsFile struct {
	KnownBad    []string `yaml:"known_bad"`
	KnownBenign []string `yaml:"known_benign_crawlers"`
}

// Load resolves the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnvInt("REDIS_PORT", 6379),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DBFrequency: getEnvInt("REDIS_DB_FREQUENCY", 0),
			DBBlocklist: getEnvInt("REDIS_DB_BLOCKLIST", 1),
			DBHops:      getEnvInt("REDIS_DB_HOPS", 2),
			DBFlags:     getEnvInt("REDIS_DB_TARPIT_FLAGS", 3),
		},
		Engine: EngineConfig{
			Port:               getEnvInt("ESCALATION_PORT", 8003),
			WebhookURL:         getEnv("ESCALATION_WEBHOOK_URL", ""),
			LocalLLMURL:        getEnv("LOCAL_LLM_API_URL", ""),
			LocalLLMModel:      getEnv("LOCAL_LLM_MODEL", "llama3"),
			LocalLLMTimeout:    getEnvSeconds("LOCAL_LLM_TIMEOUT", 45),
			ExternalAPIURL:     getEnv("EXTERNAL_CLASSIFICATION_API_URL", ""),
			ExternalAPIKey:     getEnv("EXTERNAL_CLASSIFICATION_API_KEY", ""),
			ExternalAPITimeout: getEnvSeconds("EXTERNAL_API_TIMEOUT", 15),
			FrequencyWindow:    getEnvSeconds("FREQUENCY_WINDOW_SECONDS", 300),
			ThresholdLow:       getEnvFloat("HEURISTIC_THRESHOLD_LOW", 0.3),
			ThresholdMedium:    getEnvFloat("HEURISTIC_THRESHOLD_MEDIUM", 0.6),
			ThresholdHigh:      getEnvFloat("HEURISTIC_THRESHOLD_HIGH", 0.8),
			ModelArtifactPath:  getEnv("MODEL_ARTIFACT_PATH", ""),
			RobotsFilePath:     getEnv("ROBOTS_FILE_PATH", ""),
			BlocklistTTL:       getEnvSeconds("BLOCKLIST_TTL_SECONDS", 0),
		},
		Alerts: AlertsConfig{
			Method:           strings.ToLower(getEnv("ALERT_METHOD", "none")),
			GenericURL:       getEnv("ALERT_GENERIC_WEBHOOK_URL", ""),
			SlackURL:         getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			SlackUsername:    getEnv("ALERT_SLACK_USERNAME", ""),
			SlackIcon:        getEnv("ALERT_SLACK_ICON_EMOJI", ""),
			SMTPHost:         getEnv("ALERT_SMTP_HOST", ""),
			SMTPPort:         getEnvInt("ALERT_SMTP_PORT", 587),
			SMTPUser:         getEnv("ALERT_SMTP_USER", ""),
			SMTPPassword:     getEnv("ALERT_SMTP_PASSWORD", ""),
			SMTPPasswordFile: getEnv("ALERT_SMTP_PASSWORD_FILE", ""),
			SMTPUseTLS:       getEnvBool("ALERT_SMTP_USE_TLS", true),
			SMTPFrom:         getEnv("ALERT_SMTP_FROM", ""),
			SMTPTo:           splitList(getEnv("ALERT_SMTP_TO", "")),
			MinSeverity:      getEnvInt("ALERT_MIN_REASON_SEVERITY", 1),
		},
		Tarpit: TarpitConfig{
			Port:            getEnvInt("TARPIT_PORT", 8001),
			MaxHops:         int64(getEnvInt("TARPIT_MAX_HOPS", 250)),
			HopLimitEnabled: getEnvBool("HOP_LIMIT_ENABLED", true),
			MinStreamDelay:  getEnvSecondsFloat("MIN_STREAM_DELAY_SEC", 0.6),
			MaxStreamDelay:  getEnvSecondsFloat("MAX_STREAM_DELAY_SEC", 1.2),
			FlagTTL:         getEnvSeconds("TARPIT_FLAG_TTL_SECONDS", 300),
			Generator:       strings.ToLower(getEnv("TARPIT_GENERATOR", "markov")),
			CorpusPath:      getEnv("TARPIT_CORPUS_PATH", ""),
			LabyrinthDepth:  getEnvInt("TARPIT_LABYRINTH_DEPTH", 5),
			Fingerprinting:  getEnvBool("TARPIT_FINGERPRINTING", false),
			EscalateURL:     getEnv("TARPIT_ESCALATION_URL", ""),
		},
		ReceiverPort: getEnvInt("RECEIVER_PORT", 8000),
		LogDir:       getEnv("LOG_DIR", "logs"),
		UAListsFile:  getEnv("UA_LISTS_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.loadUALists(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate catches configuration that cannot work at all. A chosen alert
// method without its endpoint is reported here; callers log it and disable
// the feature rather than exiting.
func (c *Config) validate() error {
	switch c.Alerts.Method {
	case "none", "":
	case "webhook":
		if c.Alerts.GenericURL == "" {
			return fmt.Errorf("ALERT_METHOD=webhook requires ALERT_GENERIC_WEBHOOK_URL")
		}
	case "slack":
		if c.Alerts.SlackURL == "" {
			return fmt.Errorf("ALERT_METHOD=slack requires ALERT_SLACK_WEBHOOK_URL")
		}
	case "smtp":
		if c.Alerts.SMTPHost == "" || c.Alerts.SMTPFrom == "" || len(c.Alerts.SMTPTo) == 0 {
			return fmt.Errorf("ALERT_METHOD=smtp requires ALERT_SMTP_HOST, ALERT_SMTP_FROM, ALERT_SMTP_TO")
		}
	default:
		return fmt.Errorf("unrecognised ALERT_METHOD %q", c.Alerts.Method)
	}

	if c.Tarpit.MaxStreamDelay < c.Tarpit.MinStreamDelay {
		return fmt.Errorf("MAX_STREAM_DELAY_SEC below MIN_STREAM_DELAY_SEC")
	}
	return nil
}

// loadUALists applies the optional YAML overlay.
func (c *Config) loadUALists() error {
	if c.UAListsFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.UAListsFile)
	if err != nil {
		return fmt.Errorf("read UA lists file: %w", err)
	}
	var lists uaListsFile
	if err := yaml.Unmarshal(data, &lists); err != nil {
		return fmt.Errorf("parse UA lists file: %w", err)
	}
	c.KnownBadUA = lists.KnownBad
	c.KnownBenignUA = lists.KnownBenign
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnvSecondsFloat(key string, fallback float64) time.Duration {
	return time.Duration(getEnvFloat(key, fallback) * float64(time.Second))
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
