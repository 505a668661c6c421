// Package facematch holds the face descriptor type and the match decision
// used to compare a live capture against an enrolled face.
package facematch

import (
	"errors"
	"fmt"
	"math"
)

// DescriptorLength is the fixed number of values in a face descriptor.
const DescriptorLength = 128

// MatchThreshold is the Euclidean distance below which two descriptors are
// considered the same identity. A distance of exactly MatchThreshold is a non-match.
const MatchThreshold = 0.6

var (
	// ErrLengthMismatch is returned when descriptors of different lengths are compared.
	// It indicates a programming error, not a user-facing condition.
	ErrLengthMismatch = errors.New("descriptor length mismatch")

	// ErrInvalidDescriptor is returned for descriptors with the wrong length or non-finite values.
	ErrInvalidDescriptor = errors.New("invalid face descriptor")
)

// Descriptor is a face embedding of DescriptorLength values.
type Descriptor []float32

// NewDescriptor validates values and returns them as a Descriptor.
// The input slice is copied.
func NewDescriptor(values []float32) (Descriptor, error) {
	if len(values) != DescriptorLength {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrInvalidDescriptor, len(values), DescriptorLength)
	}
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: value %d is not finite", ErrInvalidDescriptor, i)
		}
	}
	d := make(Descriptor, len(values))
	copy(d, values)
	return d, nil
}

// Valid reports whether d has exactly DescriptorLength values.
func (d Descriptor) Valid() bool {
	return len(d) == DescriptorLength
}

// Clone returns an independent copy of d.
func (d Descriptor) Clone() Descriptor {
	if d == nil {
		return nil
	}
	c := make(Descriptor, len(d))
	copy(c, d)
	return c
}

// Float32s returns the descriptor as a plain slice.
func (d Descriptor) Float32s() []float32 {
	return []float32(d)
}
