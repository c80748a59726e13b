package homepage

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// settleGroup runs named tasks concurrently and waits for all of them. A
// failing or panicking task never cancels its siblings; its error is recorded
// under its name.
type settleGroup struct {
	g    errgroup.Group
	mu   sync.Mutex
	errs map[string]error
}

func newSettleGroup() *settleGroup {
	return &settleGroup{errs: make(map[string]error)}
}

func (s *settleGroup) Go(name string, task func() error) {
	s.g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			if err != nil {
				s.mu.Lock()
				s.errs[name] = err
				s.mu.Unlock()
			}
		}()
		return task()
	})
}

// Wait blocks until every task has finished and returns the errors by task
// name. The returned map is empty when all tasks succeeded.
func (s *settleGroup) Wait() map[string]error {
	_ = s.g.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.errs))
	for name, err := range s.errs {
		out[name] = err
	}
	return out
}
