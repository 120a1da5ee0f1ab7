//go:build windows

package launcher

import (
	"os/exec"
	"strconv"
	"syscall"
)

// setProcessGroup puts the driver process in its own console process
// group on Windows, via CREATE_NEW_PROCESS_GROUP, so killProcessGroup can
// terminate it and any children it spawns together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// killProcessGroup shells out to taskkill to terminate the driver's
// process tree, since Windows has no direct process-group signal
// equivalent to SIGTERM reachable from golang.org/x/sys without cgo.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	return kill.Run()
}
