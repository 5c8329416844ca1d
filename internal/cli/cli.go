// Package cli parses parley's command line into a command plus global flags.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStop    Command = "stop"
	CommandReset   Command = "reset"
	CommandStatus  Command = "status"
	CommandTools   Command = "tools"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandStop:    {},
	CommandReset:   {},
	CommandStatus:  {},
	CommandTools:   {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	// Language overrides stt.language_code for this run.
	Language string
	ShowHelp bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case "--language":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, errors.New("--language requires a language code")
			}
			parsed.Language = strings.TrimSpace(args[i])
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--language CODE] <command>

Commands:
  run       Start a voice conversation (Ctrl+C to quit, Enter to stop playback)
  stop      Stop the answer currently being spoken by a running session
  reset     Clear the running session's conversation history
  status    Print the running session's state
  tools     List the tools offered to the model
  devices   List available input and output devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH     Config file path (default: $XDG_CONFIG_HOME/parley/config.jsonc)
  --language CODE   Recognition language, e.g. en-US, es-ES, zh-CN
  -h, --help        Show help
  --version         Show version
`, binaryName)
}
