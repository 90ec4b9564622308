//go:build windows

package cmd

import "os"

// shutdownSignals returns the OS signals that interrupt a rebase session.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
