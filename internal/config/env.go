package config

import "strings"

// Env variable names consulted when the matching config field is empty.
const (
	EnvSearchAPIKey       = "TAVILY_API_KEY"
	EnvPublishSiteURL     = "WP_SITE_URL"
	EnvPublishUsername    = "WP_USERNAME"
	EnvPublishAppPassword = "WP_APP_PASSWORD"
)

// ApplyEnvFallbacks fills empty credential fields from the environment.
func ApplyEnvFallbacks(cfg *Config, lookup func(string) (string, bool)) {
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if value, ok := lookup(key); ok {
			*dst = strings.TrimSpace(value)
		}
	}

	fill(&cfg.Tools.Search.APIKey, EnvSearchAPIKey)
	fill(&cfg.Tools.Publish.SiteURL, EnvPublishSiteURL)
	fill(&cfg.Tools.Publish.Username, EnvPublishUsername)
	fill(&cfg.Tools.Publish.Password, EnvPublishAppPassword)
}
