package config

import (
	"testing"
	"time"

	"cardsmith/internal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPLY_MODE", "")
	t.Setenv("COMPLETION_TIMEOUT", "45")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CompletionTimeout != 45*time.Second {
		t.Fatalf("timeout=%s", cfg.CompletionTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("origins=%v", cfg.CORSOrigins)
	}
	if cfg.Mode() != internal.ModeLabelPair {
		t.Fatalf("mode=%s", cfg.Mode())
	}
}

func TestValidate(t *testing.T) {
	base := Config{ReplyMode: "structured", DefaultNumCards: 5, QuestionLabel: "Question", AnswerLabel: "Answer"}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.ReplyMode = "xml" }, true},
		{"zero cards", func(c *Config) { c.DefaultNumCards = 0 }, true},
		{"too many cards", func(c *Config) { c.DefaultNumCards = 21 }, true},
		{"same labels", func(c *Config) { c.AnswerLabel = "question" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "1m30s")
	if got := getEnvDuration("X_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("got %s", got)
	}
	t.Setenv("X_DUR", "nonsense")
	if got := getEnvDuration("X_DUR", time.Second); got != time.Second {
		t.Fatalf("got %s", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	for value, want := range map[string]bool{"on": true, "YES": true, "1": true, "off": false, "false": false, "maybe": true, " ": true} {
		t.Setenv("X_BOOL", value)
		if got := getEnvBool("X_BOOL", true); got != want {
			t.Fatalf("%q: got %v", value, got)
		}
	}
}

func TestRequire(t *testing.T) {
	if err := (Config{}).Require("IMAP_HOST", "  "); err == nil || err.Error() != "IMAP_HOST is not set" {
		t.Fatalf("err=%v", err)
	}
}
