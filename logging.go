package fusion

import (
	"os"

	"github.com/sirupsen/logrus"
)

// defaultLogger is the package-level fallback logger used whenever a
// Pipeline is built without an explicit one: logrus at WarnLevel to stderr.
var defaultLogger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.WarnLevel,
}

// SetDefaultLogLevel adjusts the package-level fallback logger's level,
// primarily for CLI/test wiring.
func SetDefaultLogLevel(level logrus.Level) {
	defaultLogger.Level = level
}
