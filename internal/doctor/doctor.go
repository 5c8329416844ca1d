// Package doctor runs readiness diagnostics for config, AWS credentials,
// audio devices, and tool credentials.
package doctor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/awsconf"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/tools"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes reach the live environment. Tests replace them.
type Probes struct {
	Credentials  func(context.Context, config.AWSConfig) (string, error)
	SelectInput  func(ctx context.Context, input string, fallback string) (audio.Selection, error)
	SelectOutput func(ctx context.Context, output string) (audio.Selection, error)
}

// LiveProbes resolves AWS credentials and PulseAudio devices for real.
func LiveProbes() Probes {
	return Probes{
		Credentials: func(ctx context.Context, cfg config.AWSConfig) (string, error) {
			awsCfg, err := awsconf.Load(ctx, cfg)
			if err != nil {
				return "", err
			}
			return awsconf.CheckCredentials(ctx, awsCfg)
		},
		SelectInput:  audio.SelectDevice,
		SelectOutput: audio.SelectOutput,
	}
}

// Run executes every check for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, probes Probes) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkCredentials(ctx, cfg.AWS, probes))
	checks = append(checks, Check{
		Name:    "model.candidates",
		Pass:    len(cfg.Model.Candidates) > 0,
		Message: strings.Join(cfg.Model.Candidates, ", "),
	})
	checks = append(checks, checkInput(ctx, cfg.Audio, probes))
	if cfg.Speech.Enable {
		checks = append(checks, checkOutput(ctx, cfg.Audio, probes))
	}
	checks = append(checks, checkSearch(cfg.Tools.Search))
	checks = append(checks, checkPublish(cfg.Tools.Publish))

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("using defaults (%q not found)", loaded.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", loaded.Path)}
}

func checkCredentials(ctx context.Context, cfg config.AWSConfig, probes Probes) Check {
	if probes.Credentials == nil {
		return Check{Name: "aws.credentials", Pass: false, Message: "credential probe unavailable"}
	}
	source, err := probes.Credentials(ctx, cfg)
	if err != nil {
		return Check{Name: "aws.credentials", Pass: false, Message: err.Error()}
	}
	return Check{Name: "aws.credentials", Pass: true, Message: fmt.Sprintf("resolved from %s for %s", source, cfg.Region)}
}

// checkInput runs live device selection to surface selection/fallback issues.
func checkInput(ctx context.Context, cfg config.AudioConfig, probes Probes) Check {
	selection, err := probes.SelectInput(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.input", Pass: false, Message: err.Error()}
	}
	return Check{Name: "audio.input", Pass: true, Message: describeSelection(selection)}
}

func checkOutput(ctx context.Context, cfg config.AudioConfig, probes Probes) Check {
	selection, err := probes.SelectOutput(ctx, cfg.Output)
	if err != nil {
		return Check{Name: "audio.output", Pass: false, Message: err.Error()}
	}
	return Check{Name: "audio.output", Pass: true, Message: describeSelection(selection)}
}

func describeSelection(selection audio.Selection) string {
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return message
}

func checkSearch(cfg config.SearchConfig) Check {
	switch {
	case !cfg.Enable:
		return Check{Name: "tools.search", Pass: true, Message: "disabled"}
	case strings.TrimSpace(cfg.APIKey) == "":
		return Check{Name: "tools.search", Pass: false, Message: "api key missing (set tools.search.api_key or " + config.EnvSearchAPIKey + ")"}
	default:
		return Check{Name: "tools.search", Pass: true, Message: "api key present"}
	}
}

func checkPublish(cfg config.PublishConfig) Check {
	if !cfg.Enable {
		return Check{Name: "tools.publish", Pass: true, Message: "disabled"}
	}
	creds := tools.WordPressCredentials{SiteURL: cfg.SiteURL, Username: cfg.Username, Password: cfg.Password}
	if missing := creds.Missing(); len(missing) > 0 {
		return Check{Name: "tools.publish", Pass: false, Message: "missing " + strings.Join(missing, ", ")}
	}
	return Check{Name: "tools.publish", Pass: true, Message: "posting to " + creds.Endpoint()}
}
