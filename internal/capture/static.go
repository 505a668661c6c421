package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StaticProvider serves a fixed list of frames. AccessErr, when set, is
// returned from RequestAccess. Used by tests and demos.
type StaticProvider struct {
	AccessErr error

	mu     sync.Mutex
	frames [][]byte

	opened atomic.Int32
	closed atomic.Int32
}

// NewStaticProvider creates a provider serving frames in order.
func NewStaticProvider(frames ...[]byte) *StaticProvider {
	return &StaticProvider{frames: frames}
}

// Push appends a frame.
func (p *StaticProvider) Push(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
}

// Opened returns how many times the camera was acquired.
func (p *StaticProvider) Opened() int { return int(p.opened.Load()) }

// Closed returns how many times the camera was released.
func (p *StaticProvider) Closed() int { return int(p.closed.Load()) }

// Held reports whether a stream is currently open.
func (p *StaticProvider) Held() bool { return p.opened.Load() > p.closed.Load() }

func (p *StaticProvider) RequestAccess(ctx context.Context) (Stream, error) {
	if p.AccessErr != nil {
		return nil, p.AccessErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.opened.Add(1)
	return &staticStream{p: p}, nil
}

type staticStream struct {
	p      *StaticProvider
	closed atomic.Bool
}

func (s *staticStream) GrabFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if len(s.p.frames) == 0 {
		return Frame{}, ErrDeviceUnavailable
	}
	data := s.p.frames[0]
	if len(s.p.frames) > 1 {
		s.p.frames = s.p.frames[1:]
	}
	return Frame{Data: data, CapturedAt: time.Now()}, nil
}

func (s *staticStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.p.closed.Add(1)
	}
	return nil
}
