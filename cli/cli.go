//go:build linux || darwin

// Package cli provides a ready-made command line for a daemon built with
// forkdaemon:
//
// 	program -pidfile <path> [flags] {start|stop|status|reload}
// 	program -pidfile <path> [flags] unit
//
// Flags may be written with one or two dashes. Every flag can also be set
// with an environment variable (<PREFIX>_<FLAG>) or in a YAML file named
// by '-config'. Flags take precedence over the environment, which takes
// precedence over the file.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stephen-fox/forkdaemon"
	"github.com/stephen-fox/forkdaemon/control"
	"github.com/stephen-fox/forkdaemon/internal/logging"
)

// Program describes the daemon a command line is built for.
type Program struct {
	// Name is the program name shown in usage messages.
	Name string

	// Short is a one line description. It is also used as the
	// description of the generated systemd unit.
	Short string

	// EnvPrefix prefixes environment variables. DefaultEnvPrefix is
	// used when empty.
	EnvPrefix string

	// Flags registers program specific flags. Their values are
	// available through Environment.Settings.
	Flags func(flags *pflag.FlagSet)

	// NewApplication builds the Application for the start action. The
	// program is re-executed during daemonization, so this runs in every
	// copy of the process and must not have side effects.
	NewApplication func(env Environment) (forkdaemon.Application, error)
}

func (o Program) envPrefix() string {
	if len(o.EnvPrefix) == 0 {
		return DefaultEnvPrefix
	}

	return o.EnvPrefix
}

// Environment is what a Program's NewApplication gets to work with.
type Environment struct {
	Logger   *slog.Logger
	Config   forkdaemon.Config
	Settings *viper.Viper
}

// Main runs the command line with os.Args and exits with its exit code.
func Main(program Program) {
	os.Exit(int(Execute(program, os.Args[1:])))
}

// Execute runs the command line with args and returns the exit code.
// When args request the start action, Execute only returns in the final
// daemon process if the daemon is configured not to exit on start success,
// and even then only once it has been stopped.
func Execute(program Program, args []string) forkdaemon.ExitCode {
	r := &runner{
		program:  program,
		settings: viper.New(),
		logs:     logging.NewManager(os.Stdout),
		code:     forkdaemon.ExitOK,
	}
	defer func() { _ = r.logs.Close() }()

	root := r.rootCommand()
	root.SetArgs(NormalizeArgs(args, root.PersistentFlags()))

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var usage *usageError
		if errors.As(err, &usage) || r.code == forkdaemon.ExitOK {
			return forkdaemon.ExitUsage
		}
	}

	return r.code
}

// usageError marks errors caused by bad arguments or configuration.
type usageError struct {
	err error
}

func (o *usageError) Error() string {
	return o.err.Error()
}

func (o *usageError) Unwrap() error {
	return o.err
}

type runner struct {
	program  Program
	settings *viper.Viper
	logs     *logging.Manager
	code     forkdaemon.ExitCode
}

func (o *runner) rootCommand() *cobra.Command {
	name := o.program.Name
	if len(name) == 0 {
		name = "daemon"
	}

	root := &cobra.Command{
		Use:   name + " [flags] {start|stop|status|reload}",
		Short: o.program.Short,
		Long: o.program.Short + "\n\n" +
			"Actions:\n" +
			"  start   detach and run the daemon (exit 1 if already running)\n" +
			"  stop    send SIGTERM and wait for the daemon to exit\n" +
			"  status  exit 0 if running, 1 if the pidfile is stale, 3 if stopped\n" +
			"  reload  send SIGUSR1 to the daemon",
		Args:              cobra.ExactArgs(1),
		ValidArgs:         forkdaemon.Actions(),
		PersistentPreRunE: o.validate,
		RunE:              o.runAction,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	addDaemonFlags(root.PersistentFlags())
	if o.program.Flags != nil {
		o.program.Flags(root.PersistentFlags())
	}

	root.AddCommand(o.unitCommand())

	return root
}

func (o *runner) validate(cmd *cobra.Command, args []string) error {
	if cmd.Name() != "unit" {
		_, err := forkdaemon.ParseAction(args[0])
		if err != nil {
			return &usageError{err: err}
		}
	}

	// All errors after this are runtime errors.
	cmd.SilenceUsage = true

	return nil
}

func (o *runner) runAction(cmd *cobra.Command, args []string) error {
	action, err := forkdaemon.ParseAction(args[0])
	if err != nil {
		return &usageError{err: err}
	}

	config, err := resolveConfig(o.settings, cmd.Flags(), o.program.envPrefix())
	if err != nil {
		return &usageError{err: err}
	}

	logger, err := o.configureLogging(config, action)
	if err != nil {
		o.code = forkdaemon.ExitControlFailed
		return err
	}

	var daemonizer *forkdaemon.Daemonizer
	var controllerDaemonizer control.Daemonizer

	if action == forkdaemon.Start {
		daemonizer, err = o.newDaemonizer(config, logger)
		if err != nil {
			o.code = forkdaemon.ExitControlFailed
			return err
		}

		controllerDaemonizer = daemonizer
	}

	controller, err := control.NewController(config, controllerDaemonizer, logger)
	if err != nil {
		return &usageError{err: err}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if action == forkdaemon.Stop {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, os.Interrupt)
		defer cancel()
	}

	result, err := control.Execute(ctx, action, controller)
	o.code = result.Code
	if err != nil {
		logger.Error("control action failed", "action", string(action), "error", err)
		return nil
	}

	if daemonizer != nil && daemonizer.IsDaemon() {
		daemonizer.Wait()
	}

	return nil
}

func (o *runner) newDaemonizer(config forkdaemon.Config, logger *slog.Logger) (*forkdaemon.Daemonizer, error) {
	var app forkdaemon.Application = forkdaemon.NopApplication{Logger: logger}

	if o.program.NewApplication != nil {
		var err error
		app, err = o.program.NewApplication(Environment{
			Logger:   logger,
			Config:   config,
			Settings: o.settings,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create application - %w", err)
		}
	}

	return forkdaemon.NewDaemonizer(config, app,
		forkdaemon.WithLogger(logger),
		forkdaemon.WithStreamSink(o.logs))
}

// configureLogging applies the configured level and log file. The status
// action keeps logging to the console so that its answer stays visible.
func (o *runner) configureLogging(config forkdaemon.Config, action forkdaemon.Action) (*slog.Logger, error) {
	level, _ := logging.ParseLevel(config.LogLevel)
	o.logs.SetLevel(level)

	logger := o.logs.Logger()
	if name := o.settings.GetString(nameFlag); len(name) > 0 {
		logger = logger.With("name", name)
	}

	if len(config.LogFilePath) == 0 {
		return logger, nil
	}

	if action == forkdaemon.Status {
		logger.Debug("not switching to log file for the status action", "logfile", config.LogFilePath)
		return logger, nil
	}

	err := o.logs.UseFile(config.LogFilePath)
	if err != nil {
		return logger, err
	}

	return logger, nil
}
