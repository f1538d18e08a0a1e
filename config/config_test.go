package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"llm": {"api_key": "sk-test", "model": "gpt-test"}}`)
	cfg := LoadConfig(path)

	if cfg.Memory.Provider != "local" {
		t.Fatalf("memory provider default = %q", cfg.Memory.Provider)
	}
	if cfg.Memory.DuplicateThreshold != 0.95 {
		t.Fatalf("duplicate threshold default = %v", cfg.Memory.DuplicateThreshold)
	}
	if cfg.Retrieval.MemoryThreshold != 3 || cfg.Retrieval.MemoryTopK != 3 || cfg.Retrieval.TopK != 5 {
		t.Fatalf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if cfg.Pipeline.MaxRevisionRounds != 2 || cfg.Pipeline.PassThreshold != 7.0 {
		t.Fatalf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if cfg.Scheduler.MaxAttempts != 3 {
		t.Fatalf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Fatalf("embedding key must fall back to llm key, got %q", cfg.Embedding.APIKey)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("server address default = %q", cfg.Server.Address)
	}
}

func TestLoadConfigPanicsOnMissingLLMKey(t *testing.T) {
	path := writeConfig(t, `{"llm": {"model": "gpt-test"}}`)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for missing llm.api_key")
		}
	}()
	LoadConfig(path)
}

func TestLoadConfigPanicsOnBadMemoryProvider(t *testing.T) {
	path := writeConfig(t, `{
		"llm": {"api_key": "k", "model": "m"},
		"memory": {"provider": "etcd"}
	}`)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown memory provider")
		}
	}()
	LoadConfig(path)
}

func TestLoadConfigPgvectorRequiresURL(t *testing.T) {
	path := writeConfig(t, `{
		"llm": {"api_key": "k", "model": "m"},
		"memory": {"provider": "pgvector"}
	}`)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for pgvector without postgres_url")
		}
	}()
	LoadConfig(path)
}
