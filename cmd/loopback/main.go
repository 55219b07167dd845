// Command loopback runs one video call loopback test, or repeats it until
// interrupted with -forever.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/fixture"
	"github.com/GoSim-25-26J-441/loopback-harness/internal/runner"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

// setFlags collects repeated -set key=value flags
type setFlags []string

func (s *setFlags) String() string { return strings.Join(*s, ",") }

func (s *setFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("loopback", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath   string
		scenarioPath string
		sets         setFlags
		forever      bool
		logLevel     string
		logFormat    string
		seed         int64
		devices      int
	)
	fs.StringVar(&configPath, "config", "", "harness config file (YAML)")
	fs.StringVar(&scenarioPath, "scenario", "", "scenario override file (YAML)")
	fs.Var(&sets, "set", "scenario override key=value (repeatable)")
	fs.BoolVar(&forever, "forever", false, "repeat the test until interrupted")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "log format (text, json)")
	fs.Int64Var(&seed, "seed", 0, "fixture random seed, 0 seeds from the clock")
	fs.IntVar(&devices, "devices", 0, "number of capture devices the fixture offers")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg := config.DefaultHarnessConfig()
	if configPath != "" {
		loaded, err := config.LoadHarnessConfig(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "loopback: %v\n", err)
			return exitConfigError
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = logLevel
		case "log-format":
			cfg.LogFormat = logFormat
		case "seed":
			cfg.Fixture.Seed = seed
		case "devices":
			cfg.Fixture.CaptureDevices = devices
		}
	})
	if err := config.ValidateHarnessConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "loopback: invalid config: %v\n", err)
		return exitConfigError
	}

	log := logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel, stderr)
	logger.SetDefault(log)

	scenario, err := config.LoadScenario(scenarioPath, sets)
	if err != nil {
		log.Error("invalid scenario", "error", err)
		if errors.Is(err, config.ErrInvalidScenario) {
			return exitConfigError
		}
		return exitFailure
	}

	opts := fixture.OptionsFromConfig(cfg.Fixture)
	opts.Logger = log
	opts.LoggerFactory = logger.PionFactory(cfg.LogLevel, stderr)
	factory := fixture.NewFactory(opts)

	if forever {
		err := runner.RunForever(ctx, scenario, factory,
			runner.WithLogger(log),
			runner.WithObserver(func(iteration int, result runner.RunResult) {
				if result.Report != nil {
					writeReport(stdout, result)
				}
			}))
		if err != nil && ctx.Err() == nil {
			log.Error("loopback test failed", "error", err)
			return exitFailure
		}
		return exitOK
	}

	result, err := runner.New(factory, runner.WithLogger(log)).Run(ctx, scenario)
	if err != nil {
		log.Error("loopback test failed", "error", err)
		return exitFailure
	}
	if result.Report != nil {
		writeReport(stdout, result)
	}
	return exitOK
}

func writeReport(w io.Writer, result runner.RunResult) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"run_id": result.RunID,
		"report": result.Report,
	}); err != nil {
		logger.Error("failed to write report", "error", err)
	}
}
