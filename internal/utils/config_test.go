package utils

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STORE_JWT_SECRET", "secret")
	t.Setenv("SUMMARY_ENDPOINT", "http://localhost:9000/summarize")
	for _, key := range []string{"STORE_DRIVER", "RELAY_DECODE_MODE", "REDIS_ADDR", "OPENAI_MODEL", "CHAT_HISTORY_LIMIT", "CHAT_MEMORY_LIMIT", "SERVER_WRITE_TIMEOUT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Driver != StoreDriverPostgres {
		t.Fatalf("expected postgres driver, got %s", cfg.Store.Driver)
	}
	if cfg.Upstream.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model %s", cfg.Upstream.Model)
	}
	if cfg.Chat.HistoryLimit != 20 || cfg.Chat.MemoryLimit != 5 {
		t.Fatalf("unexpected limits %+v", cfg.Chat)
	}
	if cfg.Chat.DecodeMode != DecodeModeLine {
		t.Fatalf("expected line decode mode, got %s", cfg.Chat.DecodeMode)
	}
	if cfg.Server.WriteTimeout != 5*time.Minute {
		t.Fatalf("unexpected write timeout %s", cfg.Server.WriteTimeout)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("expected redis disabled by default")
	}
}

func TestLoadConfigClampsPromptWindows(t *testing.T) {
	setRequiredEnv(t)

	cases := []struct {
		history, memory         string
		wantHistory, wantMemory int
	}{
		{"50", "9", 20, 5},
		{"8", "2", 8, 2},
		{"0", "-1", 20, 5},
		{"many", "", 20, 5},
	}
	for _, tc := range cases {
		t.Setenv("CHAT_HISTORY_LIMIT", tc.history)
		t.Setenv("CHAT_MEMORY_LIMIT", tc.memory)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Chat.HistoryLimit != tc.wantHistory || cfg.Chat.MemoryLimit != tc.wantMemory {
			t.Fatalf("limits %q/%q: got %d/%d, want %d/%d", tc.history, tc.memory,
				cfg.Chat.HistoryLimit, cfg.Chat.MemoryLimit, tc.wantHistory, tc.wantMemory)
		}
	}
}

func TestLoadConfigReportsAllMissingKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("STORE_JWT_SECRET", "")
	t.Setenv("SUMMARY_ENDPOINT", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{"OPENAI_API_KEY", "STORE_JWT_SECRET", "SUMMARY_ENDPOINT"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %q", key, err.Error())
		}
	}
}

func TestLoadConfigRejectsUnknownModes(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_DECODE_MODE", "bytes")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unknown decode mode")
	}

	t.Setenv("RELAY_DECODE_MODE", "chunk")
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unknown store driver")
	}

	t.Setenv("STORE_DRIVER", "Mongo")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverMongo || cfg.Chat.DecodeMode != DecodeModeChunk {
		t.Fatalf("unexpected config %+v %+v", cfg.Store, cfg.Chat)
	}
}

func TestBuildDSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5433, User: "relay", Password: "pw", Database: "chat"}
	if got := cfg.BuildDSN(); got != "postgres://relay:pw@db:5433/chat" {
		t.Fatalf("unexpected dsn %s", got)
	}

	cfg.DSN = "postgres://override"
	if got := cfg.BuildDSN(); got != "postgres://override" {
		t.Fatalf("expected explicit dsn to win, got %s", got)
	}
}

func TestComponentWithoutParent(t *testing.T) {
	if Component(nil, "x") == nil {
		t.Fatalf("expected a usable logger")
	}
}
