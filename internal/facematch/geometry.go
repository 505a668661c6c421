package facematch

// Boxes are [x1, y1, x2, y2] slices as returned by the detector.

// BBoxArea returns the area of a box, or 0 for malformed or inverted input.
func BBoxArea(bbox []float64) float64 {
	if len(bbox) != 4 {
		return 0
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ComputeIoU returns the intersection over union of two boxes in the same
// coordinate system. The extractor uses it to merge duplicate detections.
func ComputeIoU(a, b []float64) float64 {
	if len(a) != 4 || len(b) != 4 {
		return 0
	}
	inter := BBoxArea([]float64{max(a[0], b[0]), max(a[1], b[1]), min(a[2], b[2]), min(a[3], b[3])})
	if inter == 0 {
		return 0
	}
	union := BBoxArea(a) + BBoxArea(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// RelativeBox maps a pixel box onto 0..1 frame coordinates for the capture
// preview, clamping detections that spill over the frame edge. Malformed
// input or an empty frame yields nil.
func RelativeBox(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return nil
	}
	clamp := func(v, size float64) float64 {
		return min(max(v/size, 0), 1)
	}
	w, h := float64(width), float64(height)
	return []float64{clamp(bbox[0], w), clamp(bbox[1], h), clamp(bbox[2], w), clamp(bbox[3], h)}
}
