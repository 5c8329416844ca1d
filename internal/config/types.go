// Package config resolves, parses, validates, and defaults parley configuration.
package config

// Config is the fully materialized runtime configuration used by parley.
type Config struct {
	AWS          AWSConfig
	Audio        AudioConfig
	STT          STTConfig
	Model        ModelConfig
	Conversation ConversationConfig
	Speech       SpeechConfig
	Tools        ToolsConfig
	Session      SessionConfig
	Indicator    IndicatorConfig
	Metrics      MetricsConfig
	Debug        DebugConfig
}

// AWSConfig selects the region and optional shared-config profile for all AWS clients.
type AWSConfig struct {
	Region  string
	Profile string
}

// AudioConfig controls capture/playback device selection and chunk sizing.
type AudioConfig struct {
	Input    string
	Fallback string
	Output   string
	ChunkMS  int
}

// STTConfig controls the streaming recognition request.
type STTConfig struct {
	LanguageCode         string
	VocabularyName       string
	PartialStabilization bool
}

// ModelConfig controls model candidates, inference parameters, and prompt inputs.
type ModelConfig struct {
	Candidates   []string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	Location     string
	Instructions string
}

// ConversationConfig bounds the tool loop and the history window sent per invocation.
type ConversationConfig struct {
	MaxToolRounds int
	HistoryTurns  int
}

// SpeechConfig controls spoken answers.
type SpeechConfig struct {
	Enable       bool
	SampleRate   int
	Voices       map[string]Voice
	DefaultVoice Voice
}

// Voice names one synthesis voice and engine.
type Voice struct {
	ID     string
	Engine string
}

// VoiceFor returns the configured voice for languageCode, or the default voice.
func (s SpeechConfig) VoiceFor(languageCode string) Voice {
	if v, ok := s.Voices[languageCode]; ok {
		return v
	}
	return s.DefaultVoice
}

// ToolsConfig groups per-tool settings.
type ToolsConfig struct {
	Search  SearchConfig
	Publish PublishConfig
}

// SearchConfig controls the web search tool.
type SearchConfig struct {
	Enable        bool
	APIKey        string
	BaseURL       string
	MaxResults    int
	MaxAttempts   int
	BaseDelayMS   int
	RatePerSecond float64
}

// PublishConfig controls the blog publishing tool.
type PublishConfig struct {
	Enable   bool
	SiteURL  string
	Username string
	Password string
}

// SessionConfig bounds the recognition restart backoff.
type SessionConfig struct {
	RestartMinMS int
	RestartMaxMS int
}

// IndicatorConfig controls console output and audio cues.
type IndicatorConfig struct {
	SoundEnable  bool
	ShowPartials bool
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Listen string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump  bool
	EnableStreamDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
