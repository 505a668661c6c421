package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Inbox is a camera whose frames are pushed in from outside, e.g. uploaded by a
// browser that owns the physical camera. Each submitted frame replaces the
// previous one and is consumed by the next grab.
type Inbox struct {
	mu      sync.Mutex
	pending []byte
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// Submit stores data as the next frame.
func (in *Inbox) Submit(data []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending = data
}

// RequestAccess always succeeds; the uploader already holds the camera.
func (in *Inbox) RequestAccess(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return inboxStream{in}, nil
}

type inboxStream struct{ in *Inbox }

func (s inboxStream) GrabFrame(ctx context.Context) (Frame, error) {
	s.in.mu.Lock()
	defer s.in.mu.Unlock()
	if len(s.in.pending) == 0 {
		return Frame{}, fmt.Errorf("%w: no frame uploaded", ErrDeviceUnavailable)
	}
	data := s.in.pending
	s.in.pending = nil
	return Frame{Data: data, CapturedAt: time.Now()}, nil
}

func (s inboxStream) Close() error {
	s.in.mu.Lock()
	defer s.in.mu.Unlock()
	s.in.pending = nil
	return nil
}
