// gridrelayd samples a controller, resamples the snapshots onto a fixed time
// grid and delivers one batch per second to a durable store and a remote API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/pipeline"
)

// Version is set at build time via ldflags
var Version = "dev"

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func startup(format string, args ...any) error {
	return &exitError{code: errors.ExitStartup, err: fmt.Errorf(format, args...)}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gridrelayd: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(errors.ExitStartup)
	}
}

func run(args []string) error {
	var (
		cfgPath     string
		logLevel    string
		logJSON     bool
		printConfig bool
		validate    bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("gridrelayd", pflag.ContinueOnError)
	flagSet.StringVarP(&cfgPath, "config", "c", "config.yaml", "config file path")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flagSet.BoolVar(&logJSON, "log-json", false, "log as JSON (overrides config)")
	flagSet.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	flagSet.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return startup("%w", err)
	}
	if flagSet.NArg() > 0 {
		return startup("unexpected argument: %s", flagSet.Arg(0))
	}

	if showVersion {
		fmt.Println("gridrelayd", Version)
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return startup("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if flagSet.Changed("log-json") {
		cfg.Logging.JSON = logJSON
	}

	if printConfig {
		data, err := cfg.YAML()
		if err != nil {
			return startup("render config: %w", err)
		}
		os.Stdout.Write(data)
		return nil
	}
	if validate {
		fmt.Printf("%s: ok\n", cfgPath)
		return nil
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return startup("%w", err)
	}
	logging.Init(level, cfg.Logging.JSON)

	log := logging.Component("main")
	log.Info("gridrelayd starting", "version", Version)
	if !config.Exists(cfgPath) {
		log.Info("no config file found, using defaults and environment", "path", cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := pipeline.New(ctx, cfg)
	if err != nil {
		return startup("%w", err)
	}

	err = svc.Run(ctx)
	if errors.IsFatal(err) {
		// State is in memory only; the supervisor restarts us from scratch.
		log.Error("exiting for restart", "error", err, "exit_code", errors.ExitRestart)
		return &exitError{code: errors.ExitRestart, err: err}
	}

	log.Info("shutting down")
	if cerr := svc.Close(); cerr != nil {
		log.Warn("close", "error", cerr)
	}
	if err != nil {
		return &exitError{code: errors.ExitStartup, err: err}
	}
	log.Info("stopped")
	return nil
}
