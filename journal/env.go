package journal

import (
	"os"
	"strconv"
)

// envDisabledEvents overrides DefaultDisabledEvents
const envDisabledEvents = "DATASPACE_JOURNAL_DISABLED_EVENTS"

var (
	EnvMaxBackups = envIntParser("DATASPACE_JOURNAL_MAX_BACKUPS", 3)
	EnvMaxSize    = envIntParser("DATASPACE_JOURNAL_MAX_SIZE", 64<<20)
)

// EnvDisabledEvents returns the disabled event types from the environment,
// falling back to DefaultDisabledEvents when unset or malformed
func EnvDisabledEvents() DisabledEvents {
	if env, ok := os.LookupEnv(envDisabledEvents); ok {
		if ret, err := ParseDisabledEvents(env); err == nil {
			return ret
		}
		log.Warnw("ignoring malformed disabled journal events", "env", envDisabledEvents)
	}
	return DefaultDisabledEvents
}

func envIntParser(env string, withDefault int64) int64 {
	e, ok := os.LookupEnv(env)
	if !ok {
		return withDefault
	}
	i, err := strconv.Atoi(e)
	if err != nil {
		return withDefault
	}
	return int64(i)
}
