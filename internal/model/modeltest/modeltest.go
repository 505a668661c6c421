// Package modeltest provides in-memory models for tests.
package modeltest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/facegate/internal/model"
)

// ErrUnknownImage is returned by StaticModel for images it has no detections for.
var ErrUnknownImage = errors.New("modeltest: unknown image")

// StaticModel returns canned detections keyed by the image bytes.
type StaticModel struct {
	mu     sync.Mutex
	byData map[string]*model.Detections
	Calls  atomic.Int32
}

// NewStaticModel creates an empty StaticModel.
func NewStaticModel() *StaticModel {
	return &StaticModel{byData: make(map[string]*model.Detections)}
}

// Set registers the detections returned for image.
func (m *StaticModel) Set(image []byte, d *model.Detections) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byData[string(image)] = d
}

// SetFace registers a single face with descriptor for image.
func (m *StaticModel) SetFace(image []byte, descriptor []float32) {
	m.Set(image, &model.Detections{
		FacesCount: 1,
		Faces:      []model.Face{{Descriptor: descriptor, BBox: []float64{10, 10, 110, 110}, DetScore: 0.99}},
	})
}

// Name implements model.Model.
func (m *StaticModel) Name() string { return "static" }

// DetectAndDescribe implements model.Model.
func (m *StaticModel) DetectAndDescribe(ctx context.Context, image []byte) (*model.Detections, error) {
	m.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byData[string(image)]
	if !ok {
		return nil, ErrUnknownImage
	}
	return d, nil
}

// Loader returns a loader that always yields m.
func Loader(m model.Model) model.Loader {
	return model.LoaderFunc(func(ctx context.Context, _ model.Source) (model.Model, error) {
		return m, nil
	})
}

// FailingLoader returns a loader that always fails with err.
func FailingLoader(err error) model.Loader {
	return model.LoaderFunc(func(ctx context.Context, _ model.Source) (model.Model, error) {
		return nil, err
	})
}

// Descriptor returns a descriptor of length model dimension with every value set to v.
func Descriptor(v float32) []float32 {
	d := make([]float32, 128)
	for i := range d {
		d[i] = v
	}
	return d
}

// Offset returns a copy of base with the first component shifted by delta,
// placing it exactly delta away in Euclidean distance.
func Offset(base []float32, delta float32) []float32 {
	d := make([]float32, len(base))
	copy(d, base)
	d[0] += delta
	return d
}
