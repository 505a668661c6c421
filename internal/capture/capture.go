// Package capture owns the camera: it acquires a stream from a Provider,
// grabs frames on request and releases the device when the flow is done.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied is returned when access to the camera was refused.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable is returned when no camera or frame can be obtained.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Stream is an open camera.
type Stream interface {
	GrabFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Provider grants access to a camera.
type Provider interface {
	RequestAccess(ctx context.Context) (Stream, error)
}

// Session is one acquisition of the camera. It holds at most one pending frame.
type Session struct {
	stream   Stream
	openedAt time.Time
	open     bool
	pending  *Frame
}

// Open reports whether the session still holds the camera.
func (s *Session) Open() bool {
	return s != nil && s.open
}

// OpenedAt returns when the camera was acquired.
func (s *Session) OpenedAt() time.Time {
	return s.openedAt
}

// Controller manages a single camera session.
type Controller struct {
	provider  Provider
	maxSize   int
	maxPixels int

	mu      sync.Mutex
	session *Session
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMaxPixels rejects frames whose header declares more than n pixels.
func WithMaxPixels(n int) ControllerOption {
	return func(c *Controller) {
		c.maxPixels = n
	}
}

// NewController creates a controller. Frames are scaled to fit maxSize (0 keeps them as captured).
func NewController(provider Provider, maxSize int, opts ...ControllerOption) *Controller {
	c := &Controller{provider: provider, maxSize: maxSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open acquires the camera. Opening an already open controller returns the existing session.
func (c *Controller) Open(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Open() {
		return c.session, nil
	}
	if c.provider == nil {
		return nil, fmt.Errorf("%w: no camera configured", ErrDeviceUnavailable)
	}

	stream, err := c.provider.RequestAccess(ctx)
	if err != nil {
		return nil, classify(err)
	}
	c.session = &Session{stream: stream, openedAt: time.Now(), open: true}
	return c.session, nil
}

// IsOpen reports whether the camera is currently held.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Open()
}

// CaptureFrame grabs one frame from the open session and keeps it as the pending frame.
// If the session is closed while grabbing, the frame is discarded.
func (c *Controller) CaptureFrame(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	session := c.session
	open := session.Open()
	c.mu.Unlock()

	if !open {
		return Frame{}, fmt.Errorf("%w: camera is not open", ErrDeviceUnavailable)
	}

	raw, err := session.stream.GrabFrame(ctx)
	if err != nil {
		return Frame{}, classify(err)
	}
	frame, err := NormalizeFrame(raw, c.maxSize, c.maxPixels)
	if err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || !session.open {
		return Frame{}, fmt.Errorf("%w: camera closed during capture", ErrDeviceUnavailable)
	}
	session.pending = &frame
	return frame, nil
}

// Pending returns the last captured frame, if any.
func (c *Controller) Pending() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Open() || c.session.pending == nil {
		return Frame{}, false
	}
	return *c.session.pending, true
}

// DiscardPending drops the pending frame.
func (c *Controller) DiscardPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.pending = nil
	}
}

// Close releases the camera. Closing a closed controller is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	wasOpen := session.Open()
	if wasOpen {
		session.open = false
		session.pending = nil
	}
	c.mu.Unlock()

	if !wasOpen {
		return nil
	}
	return session.stream.Close()
}

// WithSession opens the camera, runs fn and always releases the camera afterwards.
func (c *Controller) WithSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := c.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

// classify maps provider errors onto the two capture sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
}
