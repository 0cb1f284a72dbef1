// Package lifecycle tracks shutdown work registered during startup and runs
// it in reverse order, so dependents stop before the things they depend on
// (HTTP front before the encoder, the encoder before the X server).
package lifecycle

import (
	"sync"

	"github.com/lucidesk/lucidesk/internal/logging"
)

var log = logging.L("lifecycle")

// Stack collects named cleanup functions and runs them LIFO on Shutdown.
// Safe for concurrent registration; Shutdown runs at most once.
type Stack struct {
	mu       sync.Mutex
	once     sync.Once
	cleanups []cleanup
}

type cleanup struct {
	name string
	fn   func()
}

func NewStack() *Stack {
	return &Stack{}
}

// Register adds a cleanup to run on Shutdown. Registrations after Shutdown
// has begun are ignored.
func (s *Stack) Register(name string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, cleanup{name: name, fn: fn})
}

// Shutdown runs all registered cleanups in reverse registration order.
// Subsequent calls are no-ops.
func (s *Stack) Shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		tasks := make([]cleanup, len(s.cleanups))
		copy(tasks, s.cleanups)
		s.cleanups = nil
		s.mu.Unlock()

		for i := len(tasks) - 1; i >= 0; i-- {
			log.Debug("running cleanup", "name", tasks[i].name)
			tasks[i].fn()
		}
	})
}
