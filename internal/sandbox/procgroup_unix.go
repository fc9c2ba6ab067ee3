//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the launched process in its own process group so
// the watchdog can signal the whole group (negative pid) rather than just
// the direct child, catching any descendants the agent spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processGroupSupported reports whether setProcessGroup actually grouped
// the process (true on every unix target).
const processGroupSupported = true
