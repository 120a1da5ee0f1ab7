//go:build !linux && !windows

package launcher

import "os/exec"

// setProcessGroup is a no-op on platforms without a dedicated process-group
// API in this package's dependency set.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup falls back to killing just the driver's own process.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
