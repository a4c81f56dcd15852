package interfaces

import "context"

// VideoEvents carries the widget callbacks the core reacts to. Every one
// of them may never fire; the session core must not depend on any of them
// for timer or completion correctness.
type VideoEvents struct {
	// OnJoined fires when the local participant is in the room.
	OnJoined func()

	// OnParticipantJoined and OnParticipantLeft track remote presence for
	// the displayed participant count.
	OnParticipantJoined func(displayName string)
	OnParticipantLeft   func(displayName string)

	// OnReadyToClose fires when the widget reports the call is over; the
	// controller treats it as a manual end request.
	OnReadyToClose func()
}

// VideoHandle is an attached room. Dispose is safe to call more than once
// and after the room has already failed.
type VideoHandle interface {
	ParticipantCount() int
	Dispose()
}

// VideoAttacher abstracts the third-party conferencing widget. Attach is
// expected to respect ctx's deadline; a slow or failed attach degrades the
// session to no-video, it never ends it.
type VideoAttacher interface {
	Attach(ctx context.Context, roomID, displayName string, events VideoEvents) (VideoHandle, error)
}
