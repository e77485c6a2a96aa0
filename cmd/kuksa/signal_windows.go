//go:build windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals are the signals that stop long running commands.
// Windows has no SIGHUP equivalent; only interrupt and SIGTERM are registered.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
