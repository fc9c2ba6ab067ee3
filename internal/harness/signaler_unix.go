//go:build unix

package harness

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/voratiq/voratiq/internal/sandbox"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// processGroupSignaler delivers signals to a launched process's process
// group (negative pid), tolerating ESRCH as the benign race against a
// child that already exited.
type processGroupSignaler struct {
	proc   *sandbox.Process
	exited atomic.Bool
}

func newProcessGroupSignaler(proc *sandbox.Process) *processGroupSignaler {
	return &processGroupSignaler{proc: proc}
}

func (s *processGroupSignaler) Signal(sig watchdog.Signal) error {
	if s.exited.Load() {
		return nil
	}
	pid := s.proc.PID()
	var usig unix.Signal
	switch sig {
	case watchdog.SignalTerm:
		usig = unix.SIGTERM
	case watchdog.SignalKill:
		usig = unix.SIGKILL
	case watchdog.SignalStop:
		usig = unix.SIGSTOP
	case watchdog.SignalCont:
		usig = unix.SIGCONT
	default:
		return nil
	}
	err := unix.Kill(-pid, usig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

func (s *processGroupSignaler) Exited() bool {
	return s.exited.Load()
}

func (s *processGroupSignaler) markExited() {
	s.exited.Store(true)
}
