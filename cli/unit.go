//go:build linux || darwin

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stephen-fox/forkdaemon"
	"github.com/stephen-fox/forkdaemon/control"
)

func (o *runner) unitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unit",
		Short: "Print a systemd service unit for the daemon",
		Long: "Print a systemd 'Type=forking' service unit that runs the start, stop\n" +
			"and reload actions with the flags given to this command.",
		Args: cobra.NoArgs,
		RunE: o.runUnit,
	}
}

func (o *runner) runUnit(cmd *cobra.Command, args []string) error {
	config, err := resolveConfig(o.settings, cmd.Flags(), o.program.envPrefix())
	if err != nil {
		return &usageError{err: err}
	}

	exePath, err := os.Executable()
	if err != nil {
		o.code = forkdaemon.ExitControlFailed
		return fmt.Errorf("failed to get executable path - %w", err)
	}

	arguments := daemonArguments(config)

	// Flags that are not part of Config are passed through as given.
	daemonFlags := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	addDaemonFlags(daemonFlags)
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		if flag.Name == nameFlag || daemonFlags.Lookup(flag.Name) == nil {
			arguments = append(arguments, "-"+flag.Name+"="+flag.Value.String())
		}
	})

	contents, err := control.SystemdUnit(control.UnitConfig{
		Description: o.program.Short,
		ExePath:     exePath,
		Arguments:   arguments,
		PIDFilePath: config.PIDFilePath,
		StopTimeout: config.StopTimeout,
	})
	if err != nil {
		o.code = forkdaemon.ExitControlFailed
		return err
	}

	_, err = cmd.OutOrStdout().Write(contents)

	return err
}
