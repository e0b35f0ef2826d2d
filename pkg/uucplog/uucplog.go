// Package uucplog is a thin wrapper over logrus (the teacher's logging
// library throughout), mapping spec §6's four levels — normal, error,
// debug, fatal — onto logrus levels, and adding the supplemented "-x"
// numeric/named debug-mask parsing from Taylor UUCP's uucico.c
// (SPEC_FULL.md §10).
package uucplog

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the session-wide logging handle. A zero Logger is usable and
// delegates to logrus's standard logger.
type Logger struct {
	entry *logrus.Entry
}

// New returns a Logger tagged with fields (e.g. the remote system name),
// following the teacher's practice of bare package-level log calls
// without per-call field decoration — fields here exist only to carry a
// session's identity through every line it logs.
func New(fields logrus.Fields) *Logger {
	return &Logger{entry: logrus.WithFields(fields)}
}

func (l *Logger) withEntry() *logrus.Entry {
	if l == nil || l.entry == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return l.entry
}

// Normal logs at Info level — spec's "normal" level.
func (l *Logger) Normal(format string, args ...any) { l.withEntry().Infof(format, args...) }

// Debug logs at Debug level.
func (l *Logger) Debug(format string, args ...any) { l.withEntry().Debugf(format, args...) }

// Error logs at Error level.
func (l *Logger) Error(format string, args ...any) { l.withEntry().Errorf(format, args...) }

// Fatal logs at Fatal level, which in logrus invokes any registered exit
// handlers before terminating — spec's "Fatal invokes an installed abort
// handler".
func (l *Logger) Fatal(format string, args ...any) { l.withEntry().Fatalf(format, args...) }

// RegisterAbortHandler installs fn to run before a Fatal call terminates
// the process, matching spec §6's "invokes an installed abort handler".
// No package in this module registers one.
func RegisterAbortHandler(fn func()) {
	logrus.RegisterExitHandler(fn)
}

// debugFlag names one of Taylor UUCP's "-x" debug categories (uucico.c);
// bit is its position in the classic numeric mask (1 << (category - 1)).
type debugFlag struct {
	name string
	bit  uint
}

var debugFlags = []debugFlag{
	{"abnormal", 0},
	{"chat", 1},
	{"handshake", 2},
	{"uucp-proto", 3},
	{"proto", 4},
	{"port", 5},
	{"config", 6},
	{"spooldir", 7},
	{"execute", 8},
	{"incoming", 9},
	{"outgoing", 10},
}

// ParseDebugMask parses a "-x" argument, either a bare number (the classic
// bitmask, e.g. "-x9" = abnormal|uucp-proto) or a comma-separated list of
// names (e.g. "-xchat,handshake"), returning the logrus level it implies.
// Any nonzero mask enables Debug; an empty or all-zero mask leaves the
// level unchanged at Info.
func ParseDebugMask(spec string) logrus.Level {
	if spec == "" {
		return logrus.InfoLevel
	}
	if n, err := strconv.Atoi(spec); err == nil {
		if n != 0 {
			return logrus.DebugLevel
		}
		return logrus.InfoLevel
	}
	for _, want := range strings.Split(spec, ",") {
		want = strings.TrimSpace(want)
		for _, f := range debugFlags {
			if f.name == want {
				return logrus.DebugLevel
			}
		}
	}
	return logrus.InfoLevel
}

// SetLevel applies lvl to the standard logrus logger, the effective
// session-wide log level (spec §6's "-x<dbg>" option, spec.md §4.6).
func SetLevel(lvl logrus.Level) {
	logrus.SetLevel(lvl)
}
