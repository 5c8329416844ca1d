package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	AWS          *jsoncAWS          `json:"aws"`
	Audio        *jsoncAudio        `json:"audio"`
	STT          *jsoncSTT          `json:"stt"`
	Model        *jsoncModel        `json:"model"`
	Conversation *jsoncConversation `json:"conversation"`
	Speech       *jsoncSpeech       `json:"speech"`
	Tools        *jsoncTools        `json:"tools"`
	Session      *jsoncSession      `json:"session"`
	Indicator    *jsoncIndicator    `json:"indicator"`
	Metrics      *jsoncMetrics      `json:"metrics"`
	Debug        *jsoncDebug        `json:"debug"`
}

type jsoncAWS struct {
	Region  *string `json:"region"`
	Profile *string `json:"profile"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
	Output   *string `json:"output"`
	ChunkMS  *int    `json:"chunk_ms"`
}

type jsoncSTT struct {
	LanguageCode         *string `json:"language_code"`
	VocabularyName       *string `json:"vocabulary_name"`
	PartialStabilization *bool   `json:"partial_stabilization"`
}

type jsoncModel struct {
	Candidates   *jsoncStringList `json:"candidates"`
	MaxTokens    *int             `json:"max_tokens"`
	Temperature  *float64         `json:"temperature"`
	TopP         *float64         `json:"top_p"`
	Location     *string          `json:"location"`
	Instructions *string          `json:"instructions"`
}

type jsoncConversation struct {
	MaxToolRounds *int `json:"max_tool_rounds"`
	HistoryTurns  *int `json:"history_turns"`
}

type jsoncSpeech struct {
	Enable       *bool                 `json:"enable"`
	SampleRate   *int                  `json:"sample_rate"`
	Voices       map[string]jsoncVoice `json:"voices"`
	DefaultVoice *jsoncVoice           `json:"default_voice"`
}

type jsoncVoice struct {
	ID     *string `json:"id"`
	Engine *string `json:"engine"`
}

type jsoncTools struct {
	Search  *jsoncSearch  `json:"search"`
	Publish *jsoncPublish `json:"publish"`
}

type jsoncSearch struct {
	Enable        *bool    `json:"enable"`
	APIKey        *string  `json:"api_key"`
	BaseURL       *string  `json:"base_url"`
	MaxResults    *int     `json:"max_results"`
	MaxAttempts   *int     `json:"max_attempts"`
	BaseDelayMS   *int     `json:"base_delay_ms"`
	RatePerSecond *float64 `json:"rate_per_second"`
}

type jsoncPublish struct {
	Enable   *bool   `json:"enable"`
	SiteURL  *string `json:"site_url"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type jsoncSession struct {
	RestartMinMS *int `json:"restart_min_ms"`
	RestartMaxMS *int `json:"restart_max_ms"`
}

type jsoncIndicator struct {
	SoundEnable  *bool `json:"sound_enable"`
	ShowPartials *bool `json:"show_partials"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncDebug struct {
	AudioDump  *bool `json:"audio_dump"`
	StreamDump *bool `json:"stream_dump"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = trimNonEmpty(list)
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = trimNonEmpty(strings.Split(single, ","))
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func dedupe(items []string) ([]string, []string) {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	var dupes []string
	for _, item := range items {
		if _, ok := seen[item]; ok {
			dupes = append(dupes, item)
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out, dupes
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.AWS != nil {
		setString(&cfg.AWS.Region, payload.AWS.Region)
		setString(&cfg.AWS.Profile, payload.AWS.Profile)
	}

	if payload.Audio != nil {
		setString(&cfg.Audio.Input, payload.Audio.Input)
		setString(&cfg.Audio.Fallback, payload.Audio.Fallback)
		setString(&cfg.Audio.Output, payload.Audio.Output)
		setInt(&cfg.Audio.ChunkMS, payload.Audio.ChunkMS)
	}

	if payload.STT != nil {
		setString(&cfg.STT.LanguageCode, payload.STT.LanguageCode)
		setString(&cfg.STT.VocabularyName, payload.STT.VocabularyName)
		setBool(&cfg.STT.PartialStabilization, payload.STT.PartialStabilization)
	}

	if payload.Model != nil {
		if payload.Model.Candidates != nil {
			candidates, dupes := dedupe(*payload.Model.Candidates)
			for _, dupe := range dupes {
				warnings = append(warnings, Warning{Message: fmt.Sprintf("model.candidates lists %q more than once", dupe)})
			}
			cfg.Model.Candidates = candidates
		}
		setInt(&cfg.Model.MaxTokens, payload.Model.MaxTokens)
		setFloat(&cfg.Model.Temperature, payload.Model.Temperature)
		setFloat(&cfg.Model.TopP, payload.Model.TopP)
		setString(&cfg.Model.Location, payload.Model.Location)
		if payload.Model.Instructions != nil {
			cfg.Model.Instructions = *payload.Model.Instructions
		}
	}

	if payload.Conversation != nil {
		setInt(&cfg.Conversation.MaxToolRounds, payload.Conversation.MaxToolRounds)
		setInt(&cfg.Conversation.HistoryTurns, payload.Conversation.HistoryTurns)
	}

	if payload.Speech != nil {
		setBool(&cfg.Speech.Enable, payload.Speech.Enable)
		setInt(&cfg.Speech.SampleRate, payload.Speech.SampleRate)
		if payload.Speech.DefaultVoice != nil {
			setString(&cfg.Speech.DefaultVoice.ID, payload.Speech.DefaultVoice.ID)
			setString(&cfg.Speech.DefaultVoice.Engine, payload.Speech.DefaultVoice.Engine)
		}
		if payload.Speech.Voices != nil {
			voices := make(map[string]Voice, len(cfg.Speech.Voices)+len(payload.Speech.Voices))
			for lang, voice := range cfg.Speech.Voices {
				voices[lang] = voice
			}
			for lang, raw := range payload.Speech.Voices {
				trimmed := strings.TrimSpace(lang)
				if trimmed == "" {
					return nil, fmt.Errorf("speech.voices contains an empty language code")
				}
				voice := voices[trimmed]
				setString(&voice.ID, raw.ID)
				setString(&voice.Engine, raw.Engine)
				voices[trimmed] = voice
			}
			cfg.Speech.Voices = voices
		}
	}

	if payload.Tools != nil {
		if search := payload.Tools.Search; search != nil {
			setBool(&cfg.Tools.Search.Enable, search.Enable)
			setString(&cfg.Tools.Search.APIKey, search.APIKey)
			setString(&cfg.Tools.Search.BaseURL, search.BaseURL)
			setInt(&cfg.Tools.Search.MaxResults, search.MaxResults)
			setInt(&cfg.Tools.Search.MaxAttempts, search.MaxAttempts)
			setInt(&cfg.Tools.Search.BaseDelayMS, search.BaseDelayMS)
			setFloat(&cfg.Tools.Search.RatePerSecond, search.RatePerSecond)
		}
		if publish := payload.Tools.Publish; publish != nil {
			setBool(&cfg.Tools.Publish.Enable, publish.Enable)
			setString(&cfg.Tools.Publish.SiteURL, publish.SiteURL)
			setString(&cfg.Tools.Publish.Username, publish.Username)
			if publish.Password != nil {
				cfg.Tools.Publish.Password = *publish.Password
			}
		}
	}

	if payload.Session != nil {
		setInt(&cfg.Session.RestartMinMS, payload.Session.RestartMinMS)
		setInt(&cfg.Session.RestartMaxMS, payload.Session.RestartMaxMS)
	}

	if payload.Indicator != nil {
		setBool(&cfg.Indicator.SoundEnable, payload.Indicator.SoundEnable)
		setBool(&cfg.Indicator.ShowPartials, payload.Indicator.ShowPartials)
	}

	if payload.Metrics != nil {
		setString(&cfg.Metrics.Listen, payload.Metrics.Listen)
	}

	if payload.Debug != nil {
		setBool(&cfg.Debug.EnableAudioDump, payload.Debug.AudioDump)
		setBool(&cfg.Debug.EnableStreamDump, payload.Debug.StreamDump)
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
