// Package doctor runs runtime readiness diagnostics for config, audio, recognition, and clip storage.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/clips"
	"github.com/rbright/songid/internal/config"
	"github.com/rbright/songid/internal/hypr"
	"github.com/rbright/songid/internal/recognition"
)

const probeTimeout = 3 * time.Second

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

// Probes are the live environment lookups doctor performs.
type Probes struct {
	ListDevices func(context.Context) ([]audio.Device, error)
	ProbeHost   func(ctx context.Context, host string, timeout time.Duration) (int, error)
	ProbeGRPC   func(ctx context.Context, endpoint string, timeout time.Duration) error
}

// DefaultProbes hit the real audio server and recognition endpoints.
func DefaultProbes() Probes {
	return Probes{
		ListDevices: audio.ListDevices,
		ProbeHost:   recognition.ProbeHost,
		ProbeGRPC:   recognition.ProbeGRPC,
	}
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	return RunWith(ctx, cfg, DefaultProbes())
}

// RunWith runs the checks concurrently. Report order is stable regardless of completion order.
func RunWith(ctx context.Context, cfg config.Loaded, probes Probes) Report {
	checks := []func(context.Context) Check{
		func(context.Context) Check { return checkConfig(cfg) },
		func(context.Context) Check {
			return checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
				return strings.TrimSpace(v) != ""
			}, "session socket directory is set", "XDG_RUNTIME_DIR is empty; falling back to the temp dir")
		},
		func(ctx context.Context) Check { return checkAudioSources(ctx, cfg.Config, probes.ListDevices) },
		func(ctx context.Context) Check { return checkRecognition(ctx, cfg.Config, probes) },
	}
	if len(cfg.Config.Output.Clipboard.Argv) > 0 {
		checks = append(checks, func(context.Context) Check {
			return checkCommand(cfg.Config.Output.Clipboard.Argv, "output.clipboard_cmd")
		})
	}
	if cfg.Config.Indicator.Enable {
		checks = append(checks, func(context.Context) Check { return checkIndicator(cfg.Config.Indicator) })
	}
	if cfg.Config.Debug.AudioDump {
		checks = append(checks, func(context.Context) Check { return checkClipDir(cfg.Config.Debug.Dir) })
	}

	results := make([]Check, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	return Report{Checks: results}
}

func checkConfig(cfg config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	if n := len(cfg.Warnings); n > 0 {
		message = fmt.Sprintf("%s (%d warnings)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkIndicator verifies the notification transport for the configured backend.
func checkIndicator(cfg config.IndicatorConfig) Check {
	if cfg.Backend == config.IndicatorHypr {
		if !hypr.Available() {
			return Check{Name: "indicator", Pass: false, Message: "hyprctl or HYPRLAND_INSTANCE_SIGNATURE missing; use indicator.backend=desktop"}
		}
		return Check{Name: "indicator", Pass: true, Message: "hyprland notifications"}
	}
	check := checkBinary("busctl", "desktop notifications")
	check.Name = "indicator"
	return check
}

// checkAudioSources resolves the configured sources in order against live devices,
// the same walk the recorder makes at start.
func checkAudioSources(ctx context.Context, cfg config.Config, list func(context.Context) ([]audio.Device, error)) Check {
	const name = "audio.source"
	if list == nil {
		return Check{Name: name, Pass: false, Message: "no device lister configured"}
	}

	devices, err := list(ctx)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}

	var skipped []string
	for _, source := range cfg.Audio.Sources {
		device, err := audio.ResolveSource(devices, audio.Source(source))
		if err != nil {
			skipped = append(skipped, source)
			continue
		}
		message := fmt.Sprintf("source %q resolves to %q", source, device.ID)
		if len(skipped) > 0 {
			message += fmt.Sprintf(" (skipped %s)", strings.Join(skipped, ", "))
		}
		return Check{Name: name, Pass: true, Message: message}
	}
	return Check{
		Name:    name,
		Pass:    false,
		Message: fmt.Sprintf("none of %d configured sources matched %d devices", len(cfg.Audio.Sources), len(devices)),
	}
}

// checkRecognition validates credentials and reachability for the selected backend.
func checkRecognition(ctx context.Context, cfg config.Config, probes Probes) Check {
	name := "recognition." + cfg.Recognition.Backend
	r := cfg.Recognition

	switch r.Backend {
	case config.BackendMock:
		return Check{Name: name, Pass: true, Message: "offline mock recognizer"}
	case config.BackendGRPC:
		if probes.ProbeGRPC == nil {
			return Check{Name: name, Pass: false, Message: "no grpc probe configured"}
		}
		if err := probes.ProbeGRPC(ctx, r.GRPCEndpoint, probeTimeout); err != nil {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s not ready: %v", r.GRPCEndpoint, err)}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("ready at %s", r.GRPCEndpoint)}
	case config.BackendACRCloud:
		if r.AccessKey == "" || r.AccessSecret == "" {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("credentials missing; set %s and %s", config.EnvAccessKey, config.EnvAccessSecret)}
		}
		if probes.ProbeHost == nil {
			return Check{Name: name, Pass: false, Message: "no host probe configured"}
		}
		var failures []string
		for _, host := range r.Hosts {
			code, err := probes.ProbeHost(ctx, host, probeTimeout)
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s reachable (HTTP %d), key %s", host, code, recognition.MaskKey(r.AccessKey))}
		}
		return Check{Name: name, Pass: false, Message: "no host reachable: " + strings.Join(failures, "; ")}
	default:
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("unknown backend %q", r.Backend)}
	}
}

// checkClipDir verifies the debug clip directory can be created and written.
func checkClipDir(dir string) Check {
	const name = "debug.dir"
	if strings.TrimSpace(dir) == "" {
		resolved, err := clips.DefaultDir()
		if err != nil {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
		dir = resolved
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("create %s: %v", dir, err)}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	path := f.Name()
	_ = f.Close()
	_ = os.Remove(path)
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("writable at %s", filepath.Clean(dir))}
}
