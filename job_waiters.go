package main

import "sync"

// jobWaiters hands a job's terminal state to handlers blocked on the fast
// path.
type jobWaiters struct {
	mu sync.Mutex
	m  map[string][]chan ConversionJob
}

func newJobWaiters() *jobWaiters {
	return &jobWaiters{m: make(map[string][]chan ConversionJob)}
}

func (w *jobWaiters) register(jobID string) chan ConversionJob {
	ch := make(chan ConversionJob, 1)
	w.mu.Lock()
	w.m[jobID] = append(w.m[jobID], ch)
	w.mu.Unlock()
	return ch
}

func (w *jobWaiters) notify(job ConversionJob) {
	w.mu.Lock()
	waiters := w.m[job.ID]
	delete(w.m, job.ID)
	w.mu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- job:
		default:
		}
		close(ch)
	}
}

// unregister drops ch if notify has not already claimed it.
func (w *jobWaiters) unregister(jobID string, ch chan ConversionJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	waiters := w.m[jobID]
	for i, c := range waiters {
		if c == ch {
			w.m[jobID] = append(waiters[:i], waiters[i+1:]...)
			if len(w.m[jobID]) == 0 {
				delete(w.m, jobID)
			}
			close(ch)
			return
		}
	}
}

func (w *jobWaiters) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, chs := range w.m {
		n += len(chs)
	}
	return n
}
