package store

import (
	"log"
	"sync"

	"focusmate/pkg/types"
)

// changeFeed delivers post-commit record snapshots to subscribers. A
// single dispatcher goroutine preserves commit order per session;
// callbacks therefore must not block for long and must not call back
// into the store's write path.
type changeFeed struct {
	mu          sync.Mutex
	subscribers map[string]map[int]func(*types.Session)
	nextID      int

	events chan string
	done   chan struct{}
	wg     sync.WaitGroup
}

func newChangeFeed() *changeFeed {
	return &changeFeed{
		subscribers: make(map[string]map[int]func(*types.Session)),
		events:      make(chan string, 256),
		done:        make(chan struct{}),
	}
}

// start begins dispatch. load fetches the fresh record for an event.
func (f *changeFeed) start(load func(sessionID string) (*types.Session, error)) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case sessionID := <-f.events:
				f.dispatch(sessionID, load)
			case <-f.done:
				return
			}
		}
	}()
}

func (f *changeFeed) dispatch(sessionID string, load func(string) (*types.Session, error)) {
	f.mu.Lock()
	subs := make([]func(*types.Session), 0, len(f.subscribers[sessionID]))
	for _, fn := range f.subscribers[sessionID] {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	session, err := load(sessionID)
	if err != nil {
		log.Printf("store: change feed load failed for %s: %v", sessionID, err)
		return
	}

	for _, fn := range subs {
		// Each subscriber gets its own copy; callbacks may mutate freely.
		copied := *session
		fn(&copied)
	}
}

// notify queues a change event. Subscribers rely on observing terminal
// transitions, so a full queue blocks the writer briefly rather than
// dropping the event.
func (f *changeFeed) notify(sessionID string) {
	select {
	case <-f.done:
	case f.events <- sessionID:
	}
}

// subscribe registers a callback and returns its cancel function. A
// dispatch snapshotted before cancellation may still invoke the callback
// once afterwards; consumers guard with their own teardown flag.
func (f *changeFeed) subscribe(sessionID string, onChange func(*types.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	if f.subscribers[sessionID] == nil {
		f.subscribers[sessionID] = make(map[int]func(*types.Session))
	}
	f.subscribers[sessionID][id] = onChange

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subscribers[sessionID], id)
		if len(f.subscribers[sessionID]) == 0 {
			delete(f.subscribers, sessionID)
		}
	}
}

func (f *changeFeed) stop() {
	close(f.done)
	f.wg.Wait()
}
