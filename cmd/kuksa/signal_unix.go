//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals are the signals that stop long running commands.
// On Unix this includes SIGHUP so a closed terminal ends a subscription.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}
