package poll

import (
	"context"
	"sync"
	"time"
)

// Slot holds at most one recurring task. Arming a slot that already holds a
// task cancels the previous one first, so every poller sharing a slot
// replaces its predecessor instead of running beside it.
type Slot struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// Arm starts task every interval until ctx is done or the slot is re-armed or
// disarmed. The first run happens one interval after arming. The context
// passed to task is cancelled when the slot lets go of it.
func (s *Slot) Arm(ctx context.Context, interval time.Duration, task func(context.Context)) {
	if interval <= 0 || task == nil {
		s.Disarm()
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer s.release(gen)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				task(taskCtx)
			}
		}
	}()
}

// Disarm cancels the held task, if any.
func (s *Slot) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Armed reports whether a task currently holds the slot.
func (s *Slot) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Slot) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
