package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	pollysdk "github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/sourcegraph/conc/pool"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/awsconf"
	"github.com/rbright/parley/internal/bedrock"
	"github.com/rbright/parley/internal/cli"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/doctor"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/polly"
	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/tools"
	"github.com/rbright/parley/internal/transcribe"
	"github.com/rbright/parley/internal/version"
)

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdin: os.Stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("parley"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("parley"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	if parsed.Language != "" {
		cfgLoaded.Config.STT.LanguageCode = parsed.Language
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, doctor.LiveProbes())
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandTools:
		return r.commandTools(cfgLoaded.Config, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandReset:
		return r.forwardOrFail(ctx, ipc.CommandReset)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	inputs, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	outputs, err := audio.ListOutputs(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(inputs) == 0 && len(outputs) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	fmt.Fprintln(r.Stdout, "inputs:")
	r.printDevices(inputs)
	fmt.Fprintln(r.Stdout, "outputs:")
	r.printDevices(outputs)
	return 0
}

func (r Runner) printDevices(devices []audio.Device) {
	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}
}

// commandTools prints the tool configuration the model receives.
func (r Runner) commandTools(cfg config.Config, logger *slog.Logger) int {
	registry, err := buildTools(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	type toolJSON struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	}
	out := make([]toolJSON, 0)
	for _, schema := range registry.Schemas() {
		out = append(out, toolJSON{Name: schema.Name, Description: schema.Description, InputSchema: schema.InputSchema})
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, string(encoded))
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "unknown"
		}
		fmt.Fprintf(r.Stdout, "%s (turns=%d, dropped=%d)\n", resp.State, resp.Turns, resp.Dropped)
		return 0
	}

	fmt.Fprintln(r.Stdout, "not running")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active parley session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun owns the conversation session until ctx is done.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	ipcListener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = ipcListener.Close()
		_ = os.Remove(socketPath)
	}()

	started := time.Now()
	rt, err := r.buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("session setup failed", "error", err.Error())
		return 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.Stdin != nil {
		go watchStdin(runCtx, r.Stdin, rt.ctrl)
	}

	p := pool.New().WithContext(runCtx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		return ipc.Serve(ctx, ipcListener, rt.ctrl)
	})
	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		p.Go(func(ctx context.Context) error {
			return rt.metrics.Serve(ctx, addr, logger)
		})
	}
	p.Go(func(ctx context.Context) error {
		defer cancel()
		return rt.session.Run(ctx)
	})
	err = p.Wait()

	rt.console.Farewell()
	logSessionEnd(logger, sessionSummary{
		StartedAt:  started,
		FinishedAt: time.Now(),
		Turns:      rt.ctrl.Turns(),
		Dropped:    rt.ctrl.Dropped(),
		Err:        err,
	})

	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type sessionRuntime struct {
	ctrl    *session.Controller
	session *session.Session
	console *indicator.Console
	metrics *metrics.Collector
}

func (r Runner) buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (sessionRuntime, error) {
	awsCfg, err := awsconf.Load(ctx, cfg.AWS)
	if err != nil {
		return sessionRuntime{}, err
	}

	registry, err := buildTools(cfg, logger)
	if err != nil {
		return sessionRuntime{}, err
	}

	recognizer := transcribe.New(transcribestreaming.NewFromConfig(awsCfg), transcribe.Config{
		LanguageCode:         cfg.STT.LanguageCode,
		VocabularyName:       cfg.STT.VocabularyName,
		PartialStabilization: cfg.STT.PartialStabilization,
		SampleRate:           audio.SampleRate,
	}, logger)

	invoker := bedrock.New(bedrockruntime.NewFromConfig(awsCfg), bedrock.Inference{
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		TopP:        cfg.Model.TopP,
	}, logger)

	stdout := r.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	console := indicator.NewConsole(stdout, cfg.Indicator, cfg.STT.LanguageCode, logger)
	collector := metrics.New()

	deps := session.Deps{
		Model:     invoker,
		Tools:     registry,
		Indicator: console,
		Selector:  session.NewUniformSelector(cfg.Model.Candidates),
		Recorder:  collector,
		Logger:    logger,
	}
	if cfg.Speech.Enable {
		voice := cfg.Speech.VoiceFor(cfg.STT.LanguageCode)
		deps.Synthesizer = polly.New(pollysdk.NewFromConfig(awsCfg), polly.Voice{ID: voice.ID, Engine: voice.Engine}, cfg.Speech.SampleRate)
		deps.Player = playback.NewPlayer(speakerOpener(cfg.Audio.Output, cfg.Speech.SampleRate, logger), 0, logger)
	}

	ctrl := session.NewController(deps, session.Settings{
		Conversation: cfg.Conversation,
		Location:     cfg.Model.Location,
		Instructions: cfg.Model.Instructions,
	})
	if err := collector.WatchDropped(ctrl.Dropped); err != nil {
		return sessionRuntime{}, fmt.Errorf("register metrics: %w", err)
	}

	return sessionRuntime{
		ctrl:    ctrl,
		session: session.NewSession(ctrl, pipeline.NewListener(cfg, recognizer, logger), cfg.Session, logger),
		console: console,
		metrics: collector,
	}, nil
}

// buildTools registers the enabled tools. Missing credentials do not block
// registration; calls report them as tool errors.
func buildTools(cfg config.Config, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)

	if search := cfg.Tools.Search; search.Enable {
		capability := tools.NewSearch(
			tools.NewTavily(search.APIKey, search.BaseURL, nil),
			tools.WithSearchRetry(search.MaxAttempts, time.Duration(search.BaseDelayMS)*time.Millisecond),
			tools.WithSearchRate(search.RatePerSecond),
			tools.WithSearchDefaultResults(search.MaxResults),
			tools.WithSearchLogger(logger),
		)
		if err := registry.Register(capability); err != nil {
			return nil, err
		}
	}

	if publish := cfg.Tools.Publish; publish.Enable {
		wp := tools.NewWordPress(tools.WordPressCredentials{
			SiteURL:  publish.SiteURL,
			Username: publish.Username,
			Password: publish.Password,
		}, nil)
		if err := registry.Register(tools.NewPublish(wp)); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// speakerOpener opens the configured output device for each playback.
func speakerOpener(output string, sampleRate int, logger *slog.Logger) playback.SinkOpener {
	return func(ctx context.Context) (playback.Sink, error) {
		selection, err := audio.SelectOutput(ctx, output)
		if err != nil {
			return nil, err
		}
		if selection.Warning != "" && logger != nil {
			logger.Warn(selection.Warning)
		}
		return audio.OpenSpeaker(ctx, selection.Device.ID, "parley answer", sampleRate)
	}
}

// stopper is the part of the controller driven by the keyboard.
type stopper interface {
	StopPlayback() bool
}

// watchStdin stops playback on every Enter press until ctx is done or
// input closes.
func watchStdin(ctx context.Context, in io.Reader, target stopper) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		target.StopPlayback()
	}
}

type sessionSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Turns      int64
	Dropped    int64
	Err        error
}

func logSessionEnd(logger *slog.Logger, summary sessionSummary) {
	if logger == nil {
		return
	}
	fields := []any{
		"started_at", summary.StartedAt.Format(time.RFC3339Nano),
		"finished_at", summary.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
		"turns", summary.Turns,
		"dropped_while_busy", summary.Dropped,
	}

	if summary.Err != nil {
		logger.Error("session failed", append(fields, "error", summary.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}
