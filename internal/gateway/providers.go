// Package gateway hosts the Conclave HTTP surface.
//
// providers.go carries provider-id parsing, per-profile credential
// resolution, and local Ollama probe used by runtime.go's provider setup.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/internal/config"
)

// normalizeProviderID lowercases the provider part of a "provider:profile"
// id while preserving the profile suffix.
func normalizeProviderID(value string) string {
	providerID, profileID := splitProviderProfileID(value)
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	if profileID == "" {
		return providerID
	}
	return providerID + ":" + strings.TrimSpace(profileID)
}

// splitProviderProfileID splits "anthropic:work", "anthropic@work", or
// "anthropic/work" into the provider id and profile id.
func splitProviderProfileID(value string) (string, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	for _, sep := range []string{":", "@", "/"} {
		if parts := strings.SplitN(value, sep, 2); len(parts) == 2 {
			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		}
	}
	return value, ""
}

// resolveProviderProfile overlays a named credential profile onto the base
// provider config. Unset profile fields fall through to the base values.
func resolveProviderProfile(cfg config.LLMProviderConfig, profileID string) (config.LLMProviderConfig, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return cfg, nil
	}
	profile, ok := cfg.Profiles[profileID]
	if !ok {
		return cfg, fmt.Errorf("provider profile %q not configured", profileID)
	}
	effective := cfg
	if profile.APIKey != "" {
		effective.APIKey = profile.APIKey
	}
	if profile.DefaultModel != "" {
		effective.DefaultModel = profile.DefaultModel
	}
	if profile.BaseURL != "" {
		effective.BaseURL = profile.BaseURL
	}
	return effective, nil
}

type ollamaDiscoveryResult struct {
	BaseURL      string
	DefaultModel string
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// discoverOllama probes the configured locations for a reachable Ollama
// daemon and reports the first hit along with its first installed model.
func discoverOllama(locations []string, logger *slog.Logger) (*ollamaDiscoveryResult, error) {
	if len(locations) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: 2 * time.Second}

	probe := func(baseURL string) *ollamaDiscoveryResult {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
		if err != nil {
			return nil
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil
		}
		var payload ollamaTagsResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			logger.Warn("ollama discovery decode failed", "url", baseURL, "error", err)
			return &ollamaDiscoveryResult{BaseURL: baseURL}
		}
		result := &ollamaDiscoveryResult{BaseURL: baseURL}
		if len(payload.Models) > 0 {
			result.DefaultModel = strings.TrimSpace(payload.Models[0].Name)
		}
		return result
	}

	for _, loc := range locations {
		baseURL := strings.TrimSpace(loc)
		if baseURL == "" {
			continue
		}
		if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			baseURL = "http://" + baseURL
		}
		baseURL = strings.TrimRight(baseURL, "/")
		if result := probe(baseURL); result != nil {
			logger.Info("ollama discovery succeeded", "url", baseURL)
			return result, nil
		}
	}

	return nil, nil
}
