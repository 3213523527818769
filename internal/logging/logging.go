// Package logging wires up the process-wide leveled logger shared by every
// component: one named *logging.Logger per package, all backed by a single
// formatted stderr writer configured once at startup.
package logging

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

var format = logging.MustStringFormatter(
	`%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} %{module}: %{message}`,
)

// Init configures the shared backend at the given threshold. Valid levels
// are "debug", "info", "warning", "error"; anything else defaults to info.
func Init(level string) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(parseLevel(level), "")
	logging.SetBackend(leveled)
}

func parseLevel(level string) logging.Level {
	switch level {
	case "debug":
		return logging.DEBUG
	case "warning":
		return logging.WARNING
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}

// Get returns the named logger, creating it on first use.
func Get(name string) *logging.Logger {
	return logging.MustGetLogger(name)
}
