package dslog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels applies the default level to every subsystem, then the
// per-subsystem overrides. GOLOG_LOG_LEVEL, when set, takes precedence over
// the default level.
func SetupLogLevels(level string, subsystems map[string]string) error {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); !set && level != "" {
		if err := logging.SetLogLevel("*", level); err != nil {
			return err
		}
	}
	for system, lvl := range subsystems {
		if err := logging.SetLogLevel(system, lvl); err != nil {
			return err
		}
	}
	return nil
}
