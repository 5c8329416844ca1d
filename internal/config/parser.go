package config

import (
	"fmt"
	"strings"
)

// Parse reads configuration content as JSONC and overlays it on base.
//
// Content holding only whitespace or comments yields base unchanged (after validation).
func Parse(content string, base Config) (Config, []Warning, error) {
	stripped, err := stripJSONCComments(content)
	if err != nil {
		return Config{}, nil, err
	}

	trimmed := strings.TrimSpace(stripped)
	if trimmed == "" {
		validatedWarnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, validatedWarnings, nil
	}

	if !strings.HasPrefix(trimmed, "{") {
		return Config{}, nil, fmt.Errorf("config must be a JSONC object")
	}
	return parseJSONC(content, base)
}
