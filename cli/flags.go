//go:build linux || darwin

package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stephen-fox/forkdaemon"
	"github.com/stephen-fox/forkdaemon/internal/logging"
)

const (
	configFlag       = "config"
	pidFileFlag      = "pidfile"
	userFlag         = "user"
	groupFlag        = "group"
	stdinFlag        = "stdin"
	stdoutFlag       = "stdout"
	stderrFlag       = "stderr"
	logFileFlag      = "logfile"
	logLevelFlag     = "loglevel"
	maxOpenFilesFlag = "maxopenfiles"
	timeoutMSFlag    = "timeoutms"
	changeDirFlag    = "changedir"
	exitOnStartFlag  = "onstartexitzero"
	nameFlag         = "name"

	// DefaultEnvPrefix prefixes the environment variables that can set
	// any flag, e.g. FORKDAEMON_PIDFILE.
	DefaultEnvPrefix = "FORKDAEMON"
)

// addDaemonFlags registers the flags shared by every action.
func addDaemonFlags(flags *pflag.FlagSet) {
	defaults := forkdaemon.DefaultConfig()

	flags.String(configFlag, "", "Optional YAML file providing values for any of these flags")
	flags.String(pidFileFlag, "", "Pidfile path (required)")
	flags.String(userFlag, "", "User to run the daemon as")
	flags.String(groupFlag, "", "Group to run the daemon as")
	flags.String(stdinFlag, defaults.StdinPath, "File to use as the daemon's standard input")
	flags.String(stdoutFlag, defaults.StdoutPath, "File to append the daemon's standard output to")
	flags.String(stderrFlag, defaults.StderrPath, "File to append the daemon's standard error to")
	flags.String(logFileFlag, "", "Log file path (logs go to standard output when empty)")
	flags.String(logLevelFlag, defaults.LogLevel,
		"Log level, one of "+strings.Join(logging.LevelNames(), ", "))
	flags.Uint64(maxOpenFilesFlag, defaults.MaxOpenFiles, "Maximum number of open file descriptors")
	flags.Int(timeoutMSFlag, int(defaults.StopTimeout/time.Millisecond),
		"Milliseconds to wait for the daemon to exit on stop")
	flags.Bool(changeDirFlag, defaults.ChangeDir, "Change the daemon's working directory to /")
	flags.Bool(exitOnStartFlag, defaults.ExitOnStartSuccess,
		"Exit 0 once the application's start hook returns successfully")
	flags.String(nameFlag, "", "Optional instance name, added to every log line")
}

// NormalizeArgs rewrites single-dash long flags ('-pidfile=x') to pflag's
// double-dash form. Boolean flags given as two words ('-changedir true')
// are joined into one. Arguments after "--" are left alone.
func NormalizeArgs(args []string, flags *pflag.FlagSet) []string {
	normalized := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			normalized = append(normalized, args[i:]...)
			break
		}

		if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "--") || len(arg) < 3 {
			normalized = append(normalized, arg)
			continue
		}

		name, _, hasValue := strings.Cut(arg[1:], "=")
		flag := flags.Lookup(name)
		if flag == nil {
			normalized = append(normalized, arg)
			continue
		}

		long := "-" + arg
		if !hasValue && flag.Value.Type() == "bool" && i+1 < len(args) && isBoolWord(args[i+1]) {
			long += "=" + strings.ToLower(args[i+1])
			i++
		}

		normalized = append(normalized, long)
	}

	return normalized
}

func isBoolWord(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false":
		return true
	}

	return false
}

// resolveConfig reads the daemon Config from settings, which are bound to
// the command's flags, the environment and an optional config file. The
// resulting paths are absolute with respect to the directory the user ran
// the program in.
func resolveConfig(settings *viper.Viper, flags *pflag.FlagSet, envPrefix string) (forkdaemon.Config, error) {
	err := settings.BindPFlags(flags)
	if err != nil {
		return forkdaemon.Config{}, fmt.Errorf("failed to bind flags - %w", err)
	}

	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	workDir, err := forkdaemon.InvocationDir()
	if err != nil {
		return forkdaemon.Config{}, err
	}

	if configPath := settings.GetString(configFlag); len(configPath) > 0 {
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(workDir, configPath)
		}

		settings.SetConfigFile(configPath)
		settings.SetConfigType("yaml")

		err := settings.ReadInConfig()
		if err != nil {
			return forkdaemon.Config{}, fmt.Errorf("failed to read config file - %w", err)
		}
	}

	timeoutMS := settings.GetInt64(timeoutMSFlag)
	if timeoutMS <= 0 {
		return forkdaemon.Config{}, fmt.Errorf("%s must be a positive number of milliseconds, got %d",
			timeoutMSFlag, timeoutMS)
	}

	config := forkdaemon.Config{
		PIDFilePath:        settings.GetString(pidFileFlag),
		StdinPath:          settings.GetString(stdinFlag),
		StdoutPath:         settings.GetString(stdoutFlag),
		StderrPath:         settings.GetString(stderrFlag),
		LogFilePath:        settings.GetString(logFileFlag),
		LogLevel:           settings.GetString(logLevelFlag),
		MaxOpenFiles:       settings.GetUint64(maxOpenFilesFlag),
		ChangeDir:          settings.GetBool(changeDirFlag),
		ExitOnStartSuccess: settings.GetBool(exitOnStartFlag),
		User:               settings.GetString(userFlag),
		Group:              settings.GetString(groupFlag),
		StopTimeout:        time.Duration(timeoutMS) * time.Millisecond,
	}.WithAbsolutePaths(workDir)

	err = config.Validate()
	if err != nil {
		return forkdaemon.Config{}, err
	}

	return config, nil
}

// daemonArguments returns the flags that reproduce config on a command
// line. Values equal to their default are left out.
func daemonArguments(config forkdaemon.Config) []string {
	defaults := forkdaemon.DefaultConfig()
	args := []string{"-" + pidFileFlag + "=" + config.PIDFilePath}

	addString := func(name string, value string, def string) {
		if value != def {
			args = append(args, "-"+name+"="+value)
		}
	}

	addString(userFlag, config.User, "")
	addString(groupFlag, config.Group, "")
	addString(stdinFlag, config.StdinPath, defaults.StdinPath)
	addString(stdoutFlag, config.StdoutPath, defaults.StdoutPath)
	addString(stderrFlag, config.StderrPath, defaults.StderrPath)
	addString(logFileFlag, config.LogFilePath, "")
	addString(logLevelFlag, config.LogLevel, defaults.LogLevel)

	if config.MaxOpenFiles != defaults.MaxOpenFiles {
		args = append(args, "-"+maxOpenFilesFlag+"="+strconv.FormatUint(config.MaxOpenFiles, 10))
	}

	if config.StopTimeout != defaults.StopTimeout {
		args = append(args, "-"+timeoutMSFlag+"="+strconv.FormatInt(config.StopTimeout.Milliseconds(), 10))
	}

	if config.ChangeDir != defaults.ChangeDir {
		args = append(args, "-"+changeDirFlag+"="+strconv.FormatBool(config.ChangeDir))
	}

	if config.ExitOnStartSuccess != defaults.ExitOnStartSuccess {
		args = append(args, "-"+exitOnStartFlag+"="+strconv.FormatBool(config.ExitOnStartSuccess))
	}

	return args
}
