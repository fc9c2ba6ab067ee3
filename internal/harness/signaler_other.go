//go:build !unix

package harness

import (
	"sync/atomic"

	"github.com/voratiq/voratiq/internal/sandbox"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// processGroupSignaler on non-unix platforms has no process-group control
// available; Signal is a no-op and the watchdog's terminate sequence
// degrades to relying on ctx cancellation (exec.CommandContext still
// kills the direct child, just not its descendants).
type processGroupSignaler struct {
	proc   *sandbox.Process
	exited atomic.Bool
}

func newProcessGroupSignaler(proc *sandbox.Process) *processGroupSignaler {
	return &processGroupSignaler{proc: proc}
}

func (s *processGroupSignaler) Signal(sig watchdog.Signal) error {
	return nil
}

func (s *processGroupSignaler) Exited() bool {
	return s.exited.Load()
}

func (s *processGroupSignaler) markExited() {
	s.exited.Store(true)
}
