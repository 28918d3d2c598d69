package pipeline

import "sync"

// runLocks serializes all mutations of a single run. The map is append-only;
// runs are short-lived relative to process lifetime and the per-run mutex is
// tiny.
type runLocks struct {
	locks sync.Map
}

func (l *runLocks) forRun(runID string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(runID, &sync.Mutex{})

	lock, ok := mu.(*sync.Mutex)
	if !ok {
		return &sync.Mutex{}
	}

	return lock
}
