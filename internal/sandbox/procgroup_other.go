//go:build !unix

package sandbox

import "os/exec"

// setProcessGroup is a no-op on platforms that forbid process-group
// control; the watchdog falls back to signaling the direct pid only, with
// a documented loss of guarantee against descendant processes.
func setProcessGroup(cmd *exec.Cmd) {}

const processGroupSupported = false
