package config

// Default returns parley's baseline runtime configuration.
func Default() Config {
	return Config{
		AWS: AWSConfig{
			Region: "us-west-2",
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
			Output:   "default",
			ChunkMS:  64,
		},
		STT: STTConfig{
			LanguageCode:         "en-US",
			PartialStabilization: true,
		},
		Model: ModelConfig{
			Candidates: []string{
				"anthropic.claude-3-5-sonnet-20241022-v2:0",
			},
			MaxTokens:   1000,
			Temperature: 0.2,
			TopP:        0.9,
		},
		Conversation: ConversationConfig{
			MaxToolRounds: 8,
			HistoryTurns:  40,
		},
		Speech: SpeechConfig{
			Enable:     true,
			SampleRate: 16000,
			Voices: map[string]Voice{
				"zh-CN": {ID: "Zhiyu", Engine: "neural"},
				"es-ES": {ID: "Lucia", Engine: "neural"},
			},
			DefaultVoice: Voice{ID: "Joanna", Engine: "generative"},
		},
		Tools: ToolsConfig{
			Search: SearchConfig{
				Enable:        true,
				BaseURL:       "https://api.tavily.com",
				MaxResults:    5,
				MaxAttempts:   4,
				BaseDelayMS:   500,
				RatePerSecond: 1,
			},
			Publish: PublishConfig{
				Enable: true,
			},
		},
		Session: SessionConfig{
			RestartMinMS: 1000,
			RestartMaxMS: 30000,
		},
		Indicator: IndicatorConfig{
			SoundEnable:  true,
			ShowPartials: true,
		},
	}
}
