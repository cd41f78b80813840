package doctor

import (
	"strings"

	"github.com/conclave-ai/conclave/internal/config"
)

// CheckConfigPolicies validates cross-section config consistency and returns
// warnings for settings that will silently degrade at runtime.
func CheckConfigPolicies(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	var warnings []string

	provider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if provider != "" {
		providerCfg, ok := cfg.LLM.Providers[provider]
		if !ok {
			warnings = append(warnings, "llm.default_provider has no matching entry under llm.providers")
		} else {
			switch provider {
			case "anthropic", "openai", "google", "gemini", "openrouter", "azure":
				if strings.TrimSpace(providerCfg.APIKey) == "" {
					warnings = append(warnings, "llm provider "+provider+" enabled but api_key is empty")
				}
			}
		}
	}

	if len(cfg.Auth.APIKeys) == 0 && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		warnings = append(warnings, "auth has neither api_keys nor jwt_secret; streaming endpoints will reject every request")
	}

	if cfg.Tasks.Enabled && strings.TrimSpace(cfg.Database.URL) == "" {
		warnings = append(warnings, "tasks enabled but database.url is empty; scheduled tasks will be disabled")
	}

	if cfg.Cluster.SessionLocks.Enabled && strings.TrimSpace(cfg.Database.URL) == "" {
		warnings = append(warnings, "cluster.session_locks enabled but database.url is empty")
	}

	switch backend := strings.ToLower(strings.TrimSpace(cfg.Artifacts.Backend)); backend {
	case "", "none", "disabled", "local":
	case "s3", "minio":
		if strings.TrimSpace(cfg.Artifacts.S3Bucket) == "" {
			warnings = append(warnings, "artifacts backend "+backend+" requires s3_bucket")
		}
	default:
		warnings = append(warnings, "artifacts.backend "+backend+" is not supported")
	}

	if cfg.Observability.Tracing.Enabled && strings.TrimSpace(cfg.Observability.Tracing.Endpoint) == "" {
		warnings = append(warnings, "observability.tracing enabled but endpoint is empty; spans will not be exported")
	}

	return warnings
}
