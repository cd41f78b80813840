package doctor

import (
	"testing"

	"github.com/conclave-ai/conclave/internal/config"
)

func TestCheckConfigPolicies(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			DefaultProvider: "anthropic",
			Providers: map[string]config.LLMProviderConfig{
				"anthropic": {},
			},
		},
		Tasks: config.TasksConfig{Enabled: true},
	}
	warnings := CheckConfigPolicies(cfg)
	if len(warnings) < 3 {
		t.Fatalf("expected warnings for missing api key, auth, and tasks db, got %d: %v", len(warnings), warnings)
	}
}

func TestCheckConfigPoliciesCleanConfig(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			DefaultProvider: "anthropic",
			Providers: map[string]config.LLMProviderConfig{
				"anthropic": {APIKey: "sk-test"},
			},
		},
		Auth: config.AuthConfig{
			APIKeys: []config.APIKeyConfig{{Key: "k1", UserID: "u1"}},
		},
	}
	if warnings := CheckConfigPolicies(cfg); len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}
