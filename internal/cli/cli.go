// Package cli parses songid command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandListen  Command = "listen"
	CommandStop    Command = "stop"
	CommandRetry   Command = "retry"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandClips   Command = "clips"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandListen:  {},
	CommandStop:    {},
	CommandRetry:   {},
	CommandCancel:  {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandClips:   {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

var validBackends = []string{"acrcloud", "grpc", "mock"}

type Parsed struct {
	Command    Command
	ConfigPath string
	// Backend overrides recognition.backend when set.
	Backend  string
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
		case "--backend":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--backend requires a name")
			}
			backend := strings.ToLower(strings.TrimSpace(args[i]))
			if !isValidBackend(backend) {
				return Parsed{}, fmt.Errorf("unknown backend %q (want one of: %s)", args[i], strings.Join(validBackends, ", "))
			}
			parsed.Backend = backend
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

func isValidBackend(name string) bool {
	for _, backend := range validBackends {
		if backend == name {
			return true
		}
	}
	return false
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--backend NAME] <command>

Commands:
  listen    Record from the microphone and identify the song (or stop an active recording)
  stop      Stop the active recording and start recognition
  retry     Resubmit the last recording without re-recording
  cancel    Discard the active recording or recognition
  status    Print current state
  devices   List available input devices
  clips     List saved debug recordings
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH    Config file path (default: $XDG_CONFIG_HOME/songid/config.jsonc)
  --backend NAME   Recognition backend: acrcloud, grpc, or mock
  -h, --help       Show help
  --version        Show version
`, binaryName)
}
