package search

import "math"

// normalizeL2 scales x in place to unit L2 norm, matching the normalization
// embedding models are typically trained to expect at comparison time.
func normalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}
