package config

import (
	"strings"
	"testing"
)

// mockBackend is an in-memory ConfigBackend for tests.
type mockBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mockBackend) SetString(key, val string) error {
	if m.strings == nil {
		m.strings = make(map[string]string)
	}
	m.strings[key] = val
	return nil
}

func (m *mockBackend) SetInt(key string, val int) error {
	if m.ints == nil {
		m.ints = make(map[string]int)
	}
	m.ints[key] = val
	return nil
}

func (m *mockBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALMIND_OPENAI_API_KEY", "test-key")

	cfg, err := loadWith(&mockBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.OpenAI.Model != "gpt-3.5-turbo" {
		t.Errorf("OpenAI.Model = %q", cfg.OpenAI.Model)
	}
	if cfg.Chat.MaxTokens != 150 {
		t.Errorf("Chat.MaxTokens = %d, want 150", cfg.Chat.MaxTokens)
	}
	if cfg.Chat.Temperature != 0.7 {
		t.Errorf("Chat.Temperature = %v, want 0.7", cfg.Chat.Temperature)
	}
	if cfg.Chat.TypingDelay != "1.2s" {
		t.Errorf("Chat.TypingDelay = %q, want 1.2s", cfg.Chat.TypingDelay)
	}
	if cfg.Chat.RequestTimeout != "30s" {
		t.Errorf("Chat.RequestTimeout = %q, want 30s", cfg.Chat.RequestTimeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALMIND_OPENAI_API_KEY", "test-key")

	b := &mockBackend{
		strings: map[string]string{
			"openai.model":     "gpt-4o-mini",
			"chat.temperature": "0.3",
			"storage.data_dir": "/tmp/calmind-test",
		},
		ints: map[string]int{
			"server.port":     5200,
			"chat.max_tokens": 200,
		},
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5200 {
		t.Errorf("Server.Port = %d, want 5200", cfg.Server.Port)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("OpenAI.Model = %q", cfg.OpenAI.Model)
	}
	if cfg.Chat.MaxTokens != 200 {
		t.Errorf("Chat.MaxTokens = %d, want 200", cfg.Chat.MaxTokens)
	}
	if cfg.Chat.Temperature != 0.3 {
		t.Errorf("Chat.Temperature = %v, want 0.3", cfg.Chat.Temperature)
	}
	if cfg.Storage.DataDir != "/tmp/calmind-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALMIND_OPENAI_API_KEY", "env-key")
	t.Setenv("CALMIND_SERVER_PORT", "6200")
	t.Setenv("CALMIND_CHAT_TEMPERATURE", "0.9")

	b := &mockBackend{
		ints: map[string]int{"server.port": 5200},
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6200 {
		t.Errorf("Server.Port = %d, want env override 6200", cfg.Server.Port)
	}
	if cfg.Chat.Temperature != 0.9 {
		t.Errorf("Chat.Temperature = %v, want 0.9", cfg.Chat.Temperature)
	}
	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("OpenAI.APIKey = %q, want env-key", cfg.OpenAI.APIKey)
	}
}

func TestMissingAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(&mockBackend{}, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(&mockBackend{}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "keychain-secret" {
		t.Errorf("OpenAI.APIKey = %q, want keychain-secret", cfg.OpenAI.APIKey)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALMIND_OPENAI_API_KEY", "super-secret")

	cfg, err := loadWith(&mockBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, info := range ShowAll(cfg) {
		if info.Key == "openai.api_key" {
			t.Error("ShowAll exposed a secret key")
		}
		if info.Value == "super-secret" {
			t.Errorf("ShowAll exposed a secret value under %s", info.Key)
		}
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()
	if len(keys) == 0 {
		t.Fatal("no valid keys")
	}
	for _, k := range keys {
		if k == "openai.api_key" {
			t.Error("secret key listed as settable")
		}
	}
}
