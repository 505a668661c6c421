package facematch

import (
	"fmt"
	"math"
)

// Verdict is the outcome of comparing two descriptors.
type Verdict struct {
	Distance float64 `json:"distance"`
	Match    bool    `json:"match"`
}

// Distance computes the Euclidean distance between two descriptors.
// Lower distance means higher similarity.
func Distance(a, b Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Compare returns the distance between a and b and whether it falls under MatchThreshold.
func Compare(a, b Descriptor) (Verdict, error) {
	dist, err := Distance(a, b)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Distance: dist, Match: dist < MatchThreshold}, nil
}

// IsMatch returns true iff the distance between a and b is strictly below MatchThreshold.
func IsMatch(a, b Descriptor) (bool, error) {
	v, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return v.Match, nil
}
