// Package logging sets up structured logging in a uniform way, and
// bridges loggers of third-party libraries into the structured log.
package logging

import (
	"io"
	stdlog "log"
	gosyslog "log/syslog"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/log/syslog"
)

// Provided by ldflags during build
var (
	release string
	commit  string
	branch  string
)

// Options tune the logger returned by Init.
type Options struct {
	// Debug lets debug-level records through.
	Debug bool
	// Syslog sends records to the local syslog daemon (facility
	// "daemon", tag "joold") instead of stdout.
	Syslog bool
}

// Init returns a logger configured with common settings like
// timestamping and source code locations. The stdlib logger is
// reconfigured to push logs into this logger.
//
// Logging is fundamental so if something goes wrong this will
// os.Exit(1).
func Init(opts Options) log.Logger {
	var l log.Logger
	if opts.Syslog {
		w, err := gosyslog.New(gosyslog.LOG_DAEMON|gosyslog.LOG_INFO, "joold")
		if err != nil {
			log.NewJSONLogger(os.Stderr).Log("level", "error", "msg", "failed to initialize logging: connecting to syslog", "error", err)
			os.Exit(1)
		}
		// The syslog priority follows each record's level.
		l = syslog.NewSyslogLogger(w, log.NewLogfmtLogger)
	} else {
		l = log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	}

	// Records pass through the level helpers below, a level prefix
	// context and the level filter before reaching this context.
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.Caller(6))
	if opts.Debug {
		l = level.NewFilter(l, level.AllowDebug())
	} else {
		l = level.NewFilter(l, level.AllowInfo())
	}

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.NewStdlibAdapter(level.Info(log.With(l, "component", "stdlib"))))

	Info(l, "release", release, "commit", commit, "git-branch", branch, "msg", "Starting")

	return l
}

// Nop returns a logger that discards everything. Handy as a default
// and in tests.
func Nop() log.Logger {
	return log.NewNopLogger()
}

// StdLogger adapts logger for libraries that insist on a *log.Logger.
func StdLogger(logger log.Logger, component string) *stdlog.Logger {
	return stdlog.New(StdWriter(logger, component), "", stdlog.Lshortfile)
}

// StdWriter returns an io.Writer that turns each written line into a
// structured record.
func StdWriter(logger log.Logger, component string) io.Writer {
	return log.NewStdlibAdapter(log.With(logger, "component", component))
}

// Debug logs keyvals at debug level.
func Debug(logger log.Logger, keyvals ...interface{}) {
	level.Debug(logger).Log(keyvals...)
}

// Info logs keyvals at info level.
func Info(logger log.Logger, keyvals ...interface{}) {
	level.Info(logger).Log(keyvals...)
}

// Warn logs keyvals at warning level.
func Warn(logger log.Logger, keyvals ...interface{}) {
	level.Warn(logger).Log(keyvals...)
}

// Error logs keyvals at error level.
func Error(logger log.Logger, keyvals ...interface{}) {
	level.Error(logger).Log(keyvals...)
}
