package proxy

import (
	"sort"
	"sync"

	"github.com/istopwg/ippinfra/internal/ipp"
)

// Job is the proxy's record of one remote job. RemoteState is written by
// the event poller; LocalID and LocalState belong to the job worker.
type Job struct {
	RemoteID    int
	RemoteState ipp.JobState
	LocalID     int
	LocalState  ipp.JobState
}

// jobTable holds the jobs queued for proxying, sorted by remote job id
// so the worker always picks the oldest eligible job. A small buffered
// channel stands in for a condition variable: inserts and remote state
// changes wake the worker, coalescing while it is busy.
type jobTable struct {
	mu   sync.RWMutex
	jobs []*Job
	wake chan struct{}
}

func newJobTable() *jobTable {
	return &jobTable{wake: make(chan struct{}, 1)}
}

// Insert adds a record for a newly fetchable job. It reports false when
// the id is already present, so replayed notifications are harmless.
func (t *jobTable) Insert(remoteID int, remoteState ipp.JobState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.search(remoteID)
	if i < len(t.jobs) && t.jobs[i].RemoteID == remoteID {
		return false
	}

	j := &Job{
		RemoteID:    remoteID,
		RemoteState: remoteState,
		LocalState:  ipp.JobStatePending,
	}
	t.jobs = append(t.jobs, nil)
	copy(t.jobs[i+1:], t.jobs[i:])
	t.jobs[i] = j
	return true
}

// SetRemoteState records the infrastructure's view of the job. It
// reports false for unknown ids.
func (t *jobTable) SetRemoteState(remoteID int, state ipp.JobState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	j := t.find(remoteID)
	if j == nil {
		return false
	}
	j.RemoteState = state
	return true
}

// RemoteState returns the last remote state seen for the job, or zero
// for unknown ids.
func (t *jobTable) RemoteState(remoteID int) ipp.JobState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if j := t.find(remoteID); j != nil {
		return j.RemoteState
	}
	return 0
}

// SetLocalID records the job id the local device assigned.
func (t *jobTable) SetLocalID(remoteID, localID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if j := t.find(remoteID); j != nil && localID > 0 {
		j.LocalID = localID
	}
}

// SetLocalState advances the local job state. Transitions out of a
// terminal state are refused so an aborted job can never become
// completed.
func (t *jobTable) SetLocalState(remoteID int, state ipp.JobState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	j := t.find(remoteID)
	if j == nil || j.LocalState.Terminal() || state < j.LocalState {
		return false
	}
	j.LocalState = state
	return true
}

// Get returns a snapshot of the record for the id.
func (t *jobTable) Get(remoteID int) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if j := t.find(remoteID); j != nil {
		return *j, true
	}
	return Job{}, false
}

// FirstPending returns a snapshot of the oldest job that is still
// waiting to be proxied.
func (t *jobTable) FirstPending() (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, j := range t.jobs {
		if j.LocalState == ipp.JobStatePending && j.RemoteState < ipp.JobStateCanceled {
			return *j, true
		}
	}
	return Job{}, false
}

// Prune drops every record whose remote state is terminal and returns
// how many were removed.
func (t *jobTable) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.jobs[:0]
	for _, j := range t.jobs {
		if j.RemoteState < ipp.JobStateCanceled {
			kept = append(kept, j)
		}
	}
	removed := len(t.jobs) - len(kept)
	for i := len(kept); i < len(t.jobs); i++ {
		t.jobs[i] = nil
	}
	t.jobs = kept
	return removed
}

// Len returns the number of records.
func (t *jobTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// Wake nudges the worker. The signal coalesces when one is already
// pending.
func (t *jobTable) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Wait returns the channel the worker blocks on.
func (t *jobTable) Wait() <-chan struct{} {
	return t.wake
}

// search returns the insertion index for remoteID. Callers hold the lock.
func (t *jobTable) search(remoteID int) int {
	return sort.Search(len(t.jobs), func(i int) bool {
		return t.jobs[i].RemoteID >= remoteID
	})
}

// find returns the record for remoteID or nil. Callers hold the lock.
func (t *jobTable) find(remoteID int) *Job {
	i := t.search(remoteID)
	if i < len(t.jobs) && t.jobs[i].RemoteID == remoteID {
		return t.jobs[i]
	}
	return nil
}
