package service

import "time"

// SetAllocatorClock swaps the allocator's clock so tests can cross reset
// boundaries deterministically.
func SetAllocatorClock(a *SequenceAllocator, now func() time.Time) {
	a.now = now
}

// BreakOpenSegment closes a pair's open segment file handle underneath the
// journal so the next append's write fails mid-flight.
func BreakOpenSegment(j *JournalService, tenantID, moduleID string) error {
	state, err := j.pair(tenantID, moduleID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.file == nil {
		return nil
	}
	return state.file.Close()
}
