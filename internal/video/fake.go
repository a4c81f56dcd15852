package video

import (
	"context"
	"sync"
	"time"

	"focusmate/pkg/interfaces"
)

// FakeAttacher is an in-memory VideoAttacher for tests. Attach returns
// a FakeHandle whose Emit* methods drive the widget callbacks.
type FakeAttacher struct {
	mu sync.Mutex

	// FailAttach, when set, is returned from every Attach call.
	FailAttach error

	// AttachDelay makes Attach block before returning, to exercise the
	// caller's time-boxing. Attach still honors ctx cancellation.
	AttachDelay time.Duration

	AttachCalls int
	handles     []*FakeHandle
}

func NewFakeAttacher() *FakeAttacher {
	return &FakeAttacher{}
}

func (f *FakeAttacher) Attach(ctx context.Context, roomID, displayName string, events interfaces.VideoEvents) (interfaces.VideoHandle, error) {
	f.mu.Lock()
	f.AttachCalls++
	failErr := f.FailAttach
	delay := f.AttachDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failErr != nil {
		return nil, failErr
	}

	h := &FakeHandle{
		RoomID:      roomID,
		DisplayName: displayName,
		events:      events,
		count:       1,
	}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

// Handles returns every handle Attach produced, in order.
func (f *FakeAttacher) Handles() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeHandle, len(f.handles))
	copy(out, f.handles)
	return out
}

// FakeHandle records state and lets tests emit widget events.
type FakeHandle struct {
	RoomID      string
	DisplayName string

	mu       sync.Mutex
	events   interfaces.VideoEvents
	count    int
	disposed bool
}

func (h *FakeHandle) ParticipantCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *FakeHandle) Dispose() {
	h.mu.Lock()
	h.disposed = true
	h.mu.Unlock()
}

func (h *FakeHandle) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

func (h *FakeHandle) EmitJoined() {
	if h.events.OnJoined != nil {
		h.events.OnJoined()
	}
}

func (h *FakeHandle) EmitParticipantJoined(name string) {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	if h.events.OnParticipantJoined != nil {
		h.events.OnParticipantJoined(name)
	}
}

func (h *FakeHandle) EmitParticipantLeft(name string) {
	h.mu.Lock()
	if h.count > 0 {
		h.count--
	}
	h.mu.Unlock()
	if h.events.OnParticipantLeft != nil {
		h.events.OnParticipantLeft(name)
	}
}

func (h *FakeHandle) EmitReadyToClose() {
	if h.events.OnReadyToClose != nil {
		h.events.OnReadyToClose()
	}
}
