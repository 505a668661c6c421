// Package extractor turns a captured frame into exactly one face descriptor.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/model"
)

var (
	// ErrNoFaceDetected is returned when the frame contains no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFacesDetected is returned under FailClosed when the frame contains more than one face.
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
)

// DuplicateIoU is the overlap above which two detections are treated as the same face.
const DuplicateIoU = 0.6

// Policy decides what happens when more than one face is detected.
type Policy int

const (
	// FailClosed rejects frames with more than one face.
	FailClosed Policy = iota
	// PickBest uses the face with the highest detection score.
	PickBest
)

func (p Policy) String() string {
	if p == PickBest {
		return "pick-best"
	}
	return "fail-closed"
}

// ParsePolicy parses "fail-closed" or "pick-best". Empty means FailClosed.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-closed", "failclosed":
		return FailClosed, nil
	case "pick-best", "pickbest":
		return PickBest, nil
	default:
		return FailClosed, fmt.Errorf("unknown multi-face policy %q", s)
	}
}

// Result is the single face chosen from a frame.
type Result struct {
	Descriptor    facematch.Descriptor
	BBox          []float64
	DetScore      float64
	FacesDetected int
}

// Extractor runs the model over frames and validates the outcome.
type Extractor struct {
	Policy Policy
}

// New creates an extractor with the given policy.
func New(policy Policy) *Extractor {
	return &Extractor{Policy: policy}
}

// Extract returns the descriptor of the single face in frame.
func (e *Extractor) Extract(ctx context.Context, frame capture.Frame, m model.Model) (facematch.Descriptor, error) {
	res, err := e.ExtractFace(ctx, frame, m)
	if err != nil {
		return nil, err
	}
	return res.Descriptor, nil
}

// ExtractFace is Extract with detection metadata.
func (e *Extractor) ExtractFace(ctx context.Context, frame capture.Frame, m model.Model) (*Result, error) {
	if m == nil {
		return nil, model.ErrModelUnavailable
	}
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", capture.ErrDeviceUnavailable)
	}

	det, err := m.DetectAndDescribe(ctx, frame.Data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: detect faces: %w", model.ErrModelUnavailable, err)
	}
	if det == nil {
		return nil, ErrNoFaceDetected
	}

	faces := dedupe(det.Faces)
	count := len(faces)
	if unreported := det.FacesCount - len(det.Faces); unreported > 0 {
		count += unreported
	}

	switch {
	case count == 0:
		return nil, ErrNoFaceDetected
	case len(faces) == 0:
		return nil, fmt.Errorf("%w: %d faces reported without descriptors", facematch.ErrInvalidDescriptor, count)
	case count > 1 && e.Policy == FailClosed:
		return nil, fmt.Errorf("%w: %d faces", ErrMultipleFacesDetected, count)
	}

	best := faces[0]
	descriptor, err := facematch.NewDescriptor(best.Descriptor)
	if err != nil {
		return nil, err
	}
	return &Result{
		Descriptor:    descriptor,
		BBox:          best.BBox,
		DetScore:      best.DetScore,
		FacesDetected: count,
	}, nil
}

// dedupe orders faces by detection score and drops any face overlapping a
// higher-scored one by DuplicateIoU or more.
func dedupe(faces []model.Face) []model.Face {
	sorted := make([]model.Face, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DetScore > sorted[j].DetScore
	})

	kept := make([]model.Face, 0, len(sorted))
	for _, f := range sorted {
		duplicate := false
		for _, k := range kept {
			if facematch.ComputeIoU(f.BBox, k.BBox) >= DuplicateIoU {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, f)
		}
	}
	return kept
}
