package utils

import (
	"os"
	"strconv"

	"github.com/yungbote/phenoscope-backend/internal/logger"
)

// GetEnv returns the value of key, falling back to defaultVal when unset.
func GetEnv(key, defaultVal string, log *logger.Logger) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		debug(log, key, "Environment variable not found, using default", "default", defaultVal)
		return defaultVal
	}
	debug(log, key, "Environment variable found, using environment", "value", val)
	return val
}

// GetEnvAsInt returns key parsed as an int, falling back to defaultVal when
// the variable is unset or does not parse.
func GetEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		debug(log, key, "Environment variable not found, using default", "default", defaultVal)
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		debug(log, key, "Environment variable is not an int, using default", "value", valStr, "default", defaultVal, "error", err)
		return defaultVal
	}
	debug(log, key, "Environment variable found, using environment", "value", i)
	return i
}

func debug(log *logger.Logger, key, msg string, kv ...interface{}) {
	if log == nil {
		return
	}
	log.With("env_var", key).Debug(msg, kv...)
}
