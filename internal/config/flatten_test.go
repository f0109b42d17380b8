package config

import (
	"testing"
)

func TestFlatten_Nested(t *testing.T) {
	m := map[string]any{
		"llm": map[string]any{
			"provider": "openai",
			"api_key":  "sk-test123",
		},
		"redis": map[string]any{
			"addr": "localhost:6379",
			"db":   0.0,
		},
		"log_level": "info",
	}
	got := Flatten(m)
	if got["llm.provider"] != "openai" {
		t.Errorf("expected llm.provider=openai, got %v", got["llm.provider"])
	}
	if got["redis.addr"] != "localhost:6379" {
		t.Errorf("expected redis.addr, got %v", got["redis.addr"])
	}
	if got["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", got["log_level"])
	}
	if len(got) != 5 {
		t.Errorf("expected 5 keys, got %d", len(got))
	}
}

func TestFlatten_DeeplyNested(t *testing.T) {
	m := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "deep",
			},
		},
	}
	got := Flatten(m)
	if got["a.b.c"] != "deep" {
		t.Errorf("expected a.b.c=deep, got %v", got["a.b.c"])
	}
	if len(got) != 1 {
		t.Errorf("expected 1 key, got %d", len(got))
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original := map[string]any{
		"data_dir":  "/home/test/.convogate",
		"log_level": "debug",
		"llm": map[string]any{
			"provider": "openai",
			"api_key":  "sk-test123456",
			"model":    "gpt-4o",
		},
		"redis": map[string]any{
			"addr": "cache:6379",
		},
		"telegram": map[string]any{
			"token": "bot-token-abc",
		},
	}

	restored := Unflatten(Flatten(original))

	if restored["data_dir"] != original["data_dir"] {
		t.Errorf("data_dir mismatch: %v", restored["data_dir"])
	}
	llm, ok := restored["llm"].(map[string]any)
	if !ok {
		t.Fatalf("expected llm to be map, got %T", restored["llm"])
	}
	if llm["model"] != "gpt-4o" {
		t.Errorf("llm.model mismatch: %v", llm["model"])
	}
	redis, ok := restored["redis"].(map[string]any)
	if !ok {
		t.Fatalf("expected redis to be map, got %T", restored["redis"])
	}
	if redis["addr"] != "cache:6379" {
		t.Errorf("redis.addr mismatch: %v", redis["addr"])
	}
}

func TestUnflatten_NewNestedKey(t *testing.T) {
	flat := map[string]any{
		"a.b.c": "deep",
	}
	got := Unflatten(flat)
	a, ok := got["a"].(map[string]any)
	if !ok {
		t.Fatalf("expected a to be map, got %T", got["a"])
	}
	b, ok := a["b"].(map[string]any)
	if !ok {
		t.Fatalf("expected a.b to be map, got %T", a["b"])
	}
	if b["c"] != "deep" {
		t.Errorf("expected a.b.c=deep, got %v", b["c"])
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"llm.provider":   "openai",
		"llm.api_key":    "sk-test123456",
		"redis.password": "hunter2-9876",
		"telegram.token": "123456:ABCdefGHIjkl",
		"log_level":      "info",
	}
	got := MaskSecrets(flat)

	if got["llm.provider"] != "openai" {
		t.Errorf("non-secret changed: %v", got["llm.provider"])
	}
	if got["llm.api_key"] != "***3456" {
		t.Errorf("expected ***3456, got %v", got["llm.api_key"])
	}
	if got["redis.password"] != "***9876" {
		t.Errorf("expected ***9876, got %v", got["redis.password"])
	}
	if got["telegram.token"] != "***Ijkl" {
		t.Errorf("expected ***Ijkl, got %v", got["telegram.token"])
	}
}

func TestMaskSecrets_ShortAndEmpty(t *testing.T) {
	flat := map[string]any{
		"llm.api_key":    "ab",
		"telegram.token": "",
	}
	got := MaskSecrets(flat)
	if got["llm.api_key"] != "***ab" {
		t.Errorf("expected ***ab for short secret, got %v", got["llm.api_key"])
	}
	if got["telegram.token"] != "" {
		t.Errorf("empty secret should stay empty, got %v", got["telegram.token"])
	}
}
