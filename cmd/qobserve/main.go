package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/theapemachine/qobserve"
	"go.uber.org/zap"
)

// ExitError carries a process exit code alongside the message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const usage = `
qobserve - evaluate parameterized kernels across a pool of devices.

Usage:
  qobserve <command> [options]

Commands:
  observe-n    evaluate one observable for a batch of parameter rows
  async        spread rows over devices with per-row futures
  distribute   split a random observable's terms over devices
  sample       sample a fixed kernel and report outcome counts

Options:
`

// options holds the flags that are not part of the pool configuration.
type options struct {
	configPath string
	rows       int
	qubits     int
	terms      int
	shots      int
	seed       uint64
	mode       string
	format     string
	out        string
}

// run parses args, builds the scheduler and dispatches to a command.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stdout, usage)
		newFlagSet(stdout, &options{}).PrintDefaults()
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", args[0])}
	}

	opts := &options{}
	fs := newFlagSet(stdout, opts)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}

	v := viper.New()
	if err := v.BindPFlag("pool_size", fs.Lookup("devices")); err != nil {
		return err
	}
	if err := v.BindPFlag("log.level", fs.Lookup("log-level")); err != nil {
		return err
	}
	if err := v.BindPFlag("execution_mode", fs.Lookup("mode")); err != nil {
		return err
	}

	config, err := qobserve.LoadConfigWith(v, opts.configPath)
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	logger, err := qobserve.NewLogger(config.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	registry, err := qobserve.NewCodecRegistry()
	if err != nil {
		return err
	}
	codec, err := registry.Get(strings.ToLower(opts.format))
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	env := &environment{
		config: config,
		opts:   opts,
		logger: logger,
		codec:  codec,
		stdout: stdout,
		stderr: stderr,
	}
	return cmd(ctx, env)
}

func newFlagSet(output io.Writer, opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("qobserve", pflag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opts.configPath, "config", "", "path to a qobserve.yaml configuration file")
	fs.Int("devices", 4, "number of devices in the pool")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&opts.mode, "mode", "parallel", "execution mode for distribute: sequential or parallel")
	fs.IntVar(&opts.rows, "rows", 1000, "number of parameter rows")
	fs.IntVar(&opts.qubits, "qubits", 5, "number of qubits in the kernel")
	fs.IntVar(&opts.terms, "terms", 100, "number of observable terms for distribute")
	fs.IntVar(&opts.shots, "shots", qobserve.DefaultShots, "shots per evaluation, -1 for exact values")
	fs.Uint64Var(&opts.seed, "seed", 13, "seed for generated parameters and observables")
	fs.StringVar(&opts.format, "format", "json", "report format: json or cbor")
	fs.StringVarP(&opts.out, "out", "o", "", "write the report to a file instead of stdout")

	return fs
}
