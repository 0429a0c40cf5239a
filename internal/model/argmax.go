package model

import "math"

// Argmax returns the index of the largest score. On exact ties the lowest
// index wins. It returns -1 for an empty slice.
func Argmax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, v := range scores {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx
}

// Softmax converts raw scores into probabilities.
func Softmax(scores []float32) []float32 {
	out := make([]float32, len(scores))
	if len(scores) == 0 {
		return out
	}
	maxVal := scores[Argmax(scores)]
	var sum float64
	for i, v := range scores {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
