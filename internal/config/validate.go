package config

import (
	"fmt"
	"strings"
)

var supportedSampleRates = map[int]struct{}{8000: {}, 16000: {}}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.AWS.Region) == "" {
		return nil, fmt.Errorf("aws.region must not be empty")
	}
	if cfg.Audio.ChunkMS < 20 || cfg.Audio.ChunkMS > 500 {
		return nil, fmt.Errorf("audio.chunk_ms must be between 20 and 500")
	}
	if strings.TrimSpace(cfg.STT.LanguageCode) == "" {
		return nil, fmt.Errorf("stt.language_code must not be empty")
	}
	if len(cfg.Model.Candidates) == 0 {
		return nil, fmt.Errorf("model.candidates must list at least one model id")
	}
	if cfg.Model.MaxTokens <= 0 {
		return nil, fmt.Errorf("model.max_tokens must be > 0")
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 1 {
		return nil, fmt.Errorf("model.temperature must be within [0, 1]")
	}
	if cfg.Model.TopP < 0 || cfg.Model.TopP > 1 {
		return nil, fmt.Errorf("model.top_p must be within [0, 1]")
	}
	if cfg.Conversation.MaxToolRounds <= 0 {
		return nil, fmt.Errorf("conversation.max_tool_rounds must be > 0")
	}
	if cfg.Conversation.HistoryTurns < 0 {
		return nil, fmt.Errorf("conversation.history_turns must be >= 0")
	}
	if cfg.Conversation.HistoryTurns == 0 {
		warnings = append(warnings, Warning{Message: "conversation.history_turns=0 sends the full history on every invocation"})
	}
	if _, ok := supportedSampleRates[cfg.Speech.SampleRate]; !ok {
		return nil, fmt.Errorf("speech.sample_rate must be 8000 or 16000")
	}
	if cfg.Speech.Enable && strings.TrimSpace(cfg.Speech.DefaultVoice.ID) == "" {
		return nil, fmt.Errorf("speech.default_voice.id must not be empty when speech.enable=true")
	}
	for lang, voice := range cfg.Speech.Voices {
		if strings.TrimSpace(voice.ID) == "" {
			return nil, fmt.Errorf("speech.voices[%s].id must not be empty", lang)
		}
	}

	search := cfg.Tools.Search
	if search.Enable {
		if strings.TrimSpace(search.BaseURL) == "" {
			return nil, fmt.Errorf("tools.search.base_url must not be empty")
		}
		if search.MaxResults < 1 || search.MaxResults > 10 {
			return nil, fmt.Errorf("tools.search.max_results must be between 1 and 10")
		}
		if search.MaxAttempts < 1 {
			return nil, fmt.Errorf("tools.search.max_attempts must be >= 1")
		}
		if search.BaseDelayMS <= 0 {
			return nil, fmt.Errorf("tools.search.base_delay_ms must be > 0")
		}
		if search.RatePerSecond < 0 {
			return nil, fmt.Errorf("tools.search.rate_per_second must be >= 0")
		}
	}

	if cfg.Session.RestartMinMS < 1000 {
		return nil, fmt.Errorf("session.restart_min_ms must be >= 1000")
	}
	if cfg.Session.RestartMaxMS < cfg.Session.RestartMinMS {
		return nil, fmt.Errorf("session.restart_max_ms must be >= session.restart_min_ms")
	}

	return warnings, nil
}

// CredentialWarnings reports enabled tools whose credentials are incomplete.
//
// Missing credentials never fail startup; the affected tool reports the
// problem to the model when it is invoked.
func CredentialWarnings(cfg Config) []Warning {
	warnings := make([]Warning, 0)
	if cfg.Tools.Search.Enable && strings.TrimSpace(cfg.Tools.Search.APIKey) == "" {
		warnings = append(warnings, Warning{Message: "tools.search is enabled but no API key is set (tools.search.api_key or TAVILY_API_KEY)"})
	}

	publish := cfg.Tools.Publish
	if publish.Enable {
		missing := make([]string, 0, 3)
		if strings.TrimSpace(publish.SiteURL) == "" {
			missing = append(missing, "site_url (WP_SITE_URL)")
		}
		if strings.TrimSpace(publish.Username) == "" {
			missing = append(missing, "username (WP_USERNAME)")
		}
		if publish.Password == "" {
			missing = append(missing, "password (WP_APP_PASSWORD)")
		}
		if len(missing) > 0 {
			warnings = append(warnings, Warning{Message: "tools.publish is enabled but missing " + strings.Join(missing, ", ")})
		}
	}
	return warnings
}
