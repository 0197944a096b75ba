package logger

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

const (
	maxLogSizeMB  = 5
	maxLogBackups = 10
	maxLogAgeDays = 14
)

/* Public */

// Init configures the standard logrus logger. verbosity follows the -v count:
// 0 = info, 1 = debug, 2+ = trace. When logFile is non-empty, output is also written
// to a rotating file.
func Init(verbosity int, logFile string) error {
	var level logrus.Level
	switch verbosity {
	case 0:
		level = logrus.InfoLevel
	case 1:
		level = logrus.DebugLevel
	default:
		level = logrus.TraceLevel
	}

	var out io.Writer = os.Stdout
	if logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
		}
		out = io.MultiWriter(os.Stdout, rotating)
	}

	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceFormatting: true,
		DisableColors:   logFile != "",
	})

	if level >= logrus.DebugLevel {
		GetLogger("log").Debugf("Log level: %s", level)
	}

	return nil
}

// GetLogger returns a log entry carrying the component prefix.
func GetLogger(prefix string) *logrus.Entry {
	if prefix == "" {
		return logrus.WithFields(logrus.Fields{})
	}

	return logrus.WithFields(logrus.Fields{"prefix": prefix})
}

// Discard returns an entry that writes nowhere, for tests and library callers that
// do not want output.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

