// Package model loads the face embedding model once per process and hands it
// to every flow that needs to detect and describe faces.
package model

import (
	"context"
)

// Source identifies the model weights to load.
type Source struct {
	Name     string
	Detector string
	Dim      int
}

// Face is one detected face with its descriptor.
type Face struct {
	Descriptor []float32
	BBox       []float64 // [x1, y1, x2, y2] in pixels
	DetScore   float64
}

// Detections is the result of running the model over one image.
type Detections struct {
	FacesCount int
	Faces      []Face
}

// Model detects faces in an encoded image and computes a descriptor for each.
type Model interface {
	Name() string
	DetectAndDescribe(ctx context.Context, image []byte) (*Detections, error)
}

// Loader fetches and initializes a Model. Loading may be slow and may fail.
type Loader interface {
	LoadModels(ctx context.Context, source Source) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, source Source) (Model, error)

// LoadModels calls f.
func (f LoaderFunc) LoadModels(ctx context.Context, source Source) (Model, error) {
	return f(ctx, source)
}
