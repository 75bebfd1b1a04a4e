package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cardsmith/internal"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string

	CompletionBaseURL     string
	CompletionAPIKey      string
	CompletionModel       string
	CompletionTemperature float64
	CompletionMaxTokens   int
	CompletionTimeout     time.Duration
	CompletionRateRPS     int

	ReplyMode         string
	QuestionLabel     string
	AnswerLabel       string
	DefaultNumCards   int
	DedupeThreshold   float64
	TransformFallback bool

	TranscriptBaseURL string
	TranscriptLang    string

	HTTPPort       string
	MaxUploadBytes int64
	CORSOrigins    []string
	TokenSecret    string
	TokenTTL       time.Duration

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerNumCards     int
	MailListenerExportFormat string
	MailListenerAutoExport   bool
}

func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("working dir: %w", err)
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "cardsmith.db")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "mail")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "decks")),

		CompletionBaseURL:     getEnv("COMPLETION_BASE_URL", "https://api.groq.com/openai/v1"),
		CompletionAPIKey:      getEnv("COMPLETION_API_KEY", getEnv("GROQ_API_KEY", "")),
		CompletionModel:       getEnv("COMPLETION_MODEL", "mixtral-8x7b-32768"),
		CompletionTemperature: getEnvFloat("COMPLETION_TEMPERATURE", 0.7),
		CompletionMaxTokens:   getEnvInt("COMPLETION_MAX_TOKENS", 2048),
		CompletionTimeout:     getEnvDuration("COMPLETION_TIMEOUT", 60*time.Second),
		CompletionRateRPS:     getEnvInt("COMPLETION_RATE_LIMIT_RPS", 5),

		ReplyMode:         getEnv("REPLY_MODE", string(internal.ModeLabelPair)),
		QuestionLabel:     getEnv("QUESTION_LABEL", "Question"),
		AnswerLabel:       getEnv("ANSWER_LABEL", "Answer"),
		DefaultNumCards:   getEnvInt("DEFAULT_NUM_CARDS", 5),
		DedupeThreshold:   getEnvFloat("DEDUPE_THRESHOLD", 0.92),
		TransformFallback: getEnvBool("TRANSFORM_FALLBACK", false),

		TranscriptBaseURL: getEnv("TRANSCRIPT_BASE_URL", "https://www.youtube.com/api/timedtext"),
		TranscriptLang:    getEnv("TRANSCRIPT_LANG", "en"),

		HTTPPort:       getEnv("HTTP_PORT", "5000"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 16<<20)),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		TokenSecret:    getEnv("TOKEN_SECRET", ""),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 24*time.Hour),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 10),
		MailListenerNumCards:     getEnvInt("MAIL_LISTENER_NUM_CARDS", 10),
		MailListenerExportFormat: getEnv("MAIL_LISTENER_EXPORT_FORMAT", "apkg"),
		MailListenerAutoExport:   getEnvBool("MAIL_LISTENER_AUTO_EXPORT", true),
	}

	return cfg, nil
}

// Require reports a missing setting by its environment variable name.
func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return fmt.Errorf("%s is not set", name)
}

func (c Config) Validate() error {
	if _, err := internal.ParseReplyMode(c.ReplyMode); err != nil {
		return fmt.Errorf("REPLY_MODE: %w", err)
	}
	if c.DefaultNumCards < internal.MinCards || c.DefaultNumCards > internal.MaxCards {
		return fmt.Errorf("DEFAULT_NUM_CARDS must be between %d and %d", internal.MinCards, internal.MaxCards)
	}
	if strings.TrimSpace(c.QuestionLabel) == "" || strings.TrimSpace(c.AnswerLabel) == "" {
		return fmt.Errorf("QUESTION_LABEL and ANSWER_LABEL must not be empty")
	}
	if strings.EqualFold(strings.TrimSpace(c.QuestionLabel), strings.TrimSpace(c.AnswerLabel)) {
		return fmt.Errorf("QUESTION_LABEL and ANSWER_LABEL must differ")
	}
	return nil
}

// Mode returns the configured reply mode, falling back to label-pair when the
// value is invalid. Call Validate first to surface bad values.
func (c Config) Mode() internal.ReplyMode {
	mode, err := internal.ParseReplyMode(c.ReplyMode)
	if err != nil {
		return internal.ModeLabelPair
	}
	return mode
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// parsedEnv returns fallback when key is unset, blank or fails to parse.
func parsedEnv[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	return parsedEnv(key, fallback, strconv.Atoi)
}

func getEnvFloat(key string, fallback float64) float64 {
	return parsedEnv(key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvBool(key string, fallback bool) bool {
	return parsedEnv(key, fallback, parseSwitch)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	return parsedEnv(key, fallback, func(s string) (time.Duration, error) {
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return time.ParseDuration(s)
	})
}

func getEnvList(key string, fallback []string) []string {
	return parsedEnv(key, fallback, func(s string) ([]string, error) {
		var items []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		return items, nil
	})
}
