package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	// Detections on a 640x480 frame.
	face := []float64{200, 120, 320, 280}

	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"same detection", face, face, 1},
		{"detector jitter", face, []float64{204, 124, 324, 284}, 18096.0 / 20304.0},
		{"second person", face, []float64{420, 100, 540, 260}, 0},
		{"touching edges", face, []float64{320, 120, 440, 280}, 0},
		{"face inside body box", []float64{150, 80, 390, 440}, face, 19200.0 / 86400.0},
		{"truncated box", []float64{200, 120, 320}, face, 0},
		{"inverted box", []float64{320, 280, 200, 120}, face, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeIoU(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
			if back := ComputeIoU(tt.b, tt.a); math.Abs(back-got) > 1e-12 {
				t.Errorf("expected symmetric IoU, got %v and %v", got, back)
			}
		})
	}
}

func TestRelativeBox(t *testing.T) {
	tests := []struct {
		name          string
		bbox          []float64
		width, height int
		expected      []float64
	}{
		{"centered face", []float64{160, 120, 480, 360}, 640, 480, []float64{0.25, 0.25, 0.75, 0.75}},
		{"spills over edge", []float64{-32, 400, 128, 520}, 640, 480, []float64{0, 400.0 / 480.0, 0.2, 1}},
		{"malformed", []float64{160, 120}, 640, 480, nil},
		{"empty frame", []float64{160, 120, 480, 360}, 0, 480, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RelativeBox(tt.bbox, tt.width, tt.height)
			if len(got) != len(tt.expected) {
				t.Fatalf("RelativeBox() = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if math.Abs(got[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("RelativeBox()[%d] = %v, want %v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestBBoxArea(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		expected float64
	}{
		{"face", []float64{200, 120, 320, 280}, 19200},
		{"zero width", []float64{200, 120, 200, 280}, 0},
		{"inverted", []float64{320, 280, 200, 120}, 0},
		{"malformed", []float64{200, 120, 320}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BBoxArea(tt.bbox); got != tt.expected {
				t.Errorf("BBoxArea(%v) = %v, want %v", tt.bbox, got, tt.expected)
			}
		})
	}
}
