package blocks_test

import (
	"math"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
)

// testBackend returns the pure Go backend; no XLA plugin needed.
func testBackend() backends.Backend {
	backends.DefaultConfig = "go"
	return backends.MustNew()
}

// finite reports whether every value in a flat float32 slice is a normal
// finite number.
func finite(values []float32) bool {
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// flatten3D collapses a [][][]float32 tensor value into a flat slice.
func flatten3D(values [][][]float32) []float32 {
	var flat []float32
	for _, matrix := range values {
		for _, row := range matrix {
			flat = append(flat, row...)
		}
	}
	return flat
}
