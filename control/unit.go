package control

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/unit"
)

// UnitConfig describes a daemon for which a systemd unit is generated.
type UnitConfig struct {
	// Description is a short blurb describing your application.
	Description string

	// ExePath is the path to the daemon's executable.
	ExePath string

	// Arguments are the command line arguments that precede the
	// action (for example, the '-pidfile' flag).
	Arguments []string

	// PIDFilePath must match the pidfile the daemon writes.
	PIDFilePath string

	// StopTimeout is how long systemd waits for the stop command.
	StopTimeout time.Duration
}

func (o UnitConfig) Validate() error {
	if len(o.ExePath) == 0 {
		return errors.New("executable path must be provided to unit config")
	}

	if len(o.PIDFilePath) == 0 {
		return errors.New("pidfile path must be provided to unit config")
	}

	return nil
}

func (o UnitConfig) command(action string) string {
	args := make([]string, 0, len(o.Arguments)+2)
	args = append(args, quoteUnitArg(o.ExePath))
	for _, arg := range o.Arguments {
		args = append(args, quoteUnitArg(arg))
	}
	args = append(args, action)

	return strings.Join(args, " ")
}

// SystemdUnit returns the contents of a 'Type=forking' systemd service
// unit that starts, stops and reloads the daemon through its own control
// actions. systemd tracks the daemon through the pidfile.
func SystemdUnit(config UnitConfig) ([]byte, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	unitOptions := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", config.Description),
		unit.NewUnitOption("Unit", "After", "network.target"),
		unit.NewUnitOption("Service", "Type", "forking"),
		unit.NewUnitOption("Service", "PIDFile", config.PIDFilePath),
		unit.NewUnitOption("Service", "ExecStart", config.command("start")),
		unit.NewUnitOption("Service", "ExecStop", config.command("stop")),
		unit.NewUnitOption("Service", "ExecReload", config.command("reload")),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
	}

	if config.StopTimeout > 0 {
		// Leave systemd room beyond the control command's own wait.
		seconds := int64(math.Ceil(config.StopTimeout.Seconds())) + 5
		unitOptions = append(unitOptions,
			unit.NewUnitOption("Service", "TimeoutStopSec", strconv.FormatInt(seconds, 10)))
	}

	unitOptions = append(unitOptions, unit.NewUnitOption("Install", "WantedBy", "multi-user.target"))

	unitContents, err := io.ReadAll(unit.Serialize(unitOptions))
	if err != nil {
		return nil, fmt.Errorf("failed to read from unit reader - %w", err)
	}

	return unitContents, nil
}

// quoteUnitArg quotes an argument for a systemd Exec line when needed.
func quoteUnitArg(arg string) string {
	if len(arg) > 0 && !strings.ContainsAny(arg, " \t\"'\\;$%") {
		return arg
	}

	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `$$`, `%`, `%%`)

	return `"` + replacer.Replace(arg) + `"`
}
