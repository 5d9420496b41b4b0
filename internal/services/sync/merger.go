package sync

import (
	"sync"

	"github.com/TheMichaelB/graphsync/internal/models"
)

// eventKind tags a merged event with its origin.
type eventKind int

const (
	kindRemoteUpdate eventKind = iota
	kindLocalCheck
)

// loopEvent is one item of the merged sequence driving the sync loop.
type loopEvent struct {
	kind   eventKind
	update *models.UpdateBatch // set for kindRemoteUpdate
}

// mergeEvents fairly interleaves remote updates and local-check pulses
// into one tagged sequence. One goroutine per source feeds the shared
// channel, so whichever source has a ready value is emitted first; neither
// starves. The output closes once the update source ends (pulses stop at
// the same cancellation).
func mergeEvents(updates <-chan *models.UpdateBatch, pulses <-chan struct{}) <-chan loopEvent {
	out := make(chan loopEvent)
	remoteDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(remoteDone)
		for batch := range updates {
			out <- loopEvent{kind: kindRemoteUpdate, update: batch}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case _, ok := <-pulses:
				if !ok {
					return
				}
				select {
				case out <- loopEvent{kind: kindLocalCheck}:
				case <-remoteDone:
					return
				}
			case <-remoteDone:
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
