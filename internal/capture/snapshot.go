package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxSnapshotBytes caps a single snapshot download.
const maxSnapshotBytes = 20 << 20

// SnapshotProvider reads frames from a network camera that serves a still
// image on every GET.
type SnapshotProvider struct {
	URL    string
	Client *http.Client
}

// NewSnapshotProvider creates a provider for the snapshot endpoint at url.
func NewSnapshotProvider(url string) *SnapshotProvider {
	return &SnapshotProvider{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// RequestAccess probes the endpoint once so permission problems surface at open time.
func (p *SnapshotProvider) RequestAccess(ctx context.Context) (Stream, error) {
	s := &snapshotStream{url: p.URL, client: p.Client}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if _, err := s.fetch(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type snapshotStream struct {
	url    string
	client *http.Client
}

func (s *snapshotStream) GrabFrame(ctx context.Context) (Frame, error) {
	data, err := s.fetch(ctx)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, CapturedAt: time.Now()}, nil
}

func (s *snapshotStream) Close() error { return nil }

func (s *snapshotStream) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: camera returned status %d", ErrPermissionDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: camera returned status %d", ErrDeviceUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read snapshot: %w", ErrDeviceUnavailable, err)
	}
	return data, nil
}
