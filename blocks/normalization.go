package blocks

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// LayerNorm normalizes x over its last axis and applies a learned
// per-feature gain and offset. The "gain" variable is created initialized
// to ones and "offset" to zeros in the given scope.
func LayerNorm(ctx *context.Context, x *Node, epsilon float64) *Node {
	g := x.Graph()
	featureDim := x.Shape().Dimensions[x.Shape().Rank()-1]
	normShape := shapes.Make(x.DType(), featureDim)

	gain := ctx.WithInitializer(initializers.One).VariableWithShape("gain", normShape).ValueGraph(g)
	offset := ctx.WithInitializer(initializers.Zero).VariableWithShape("offset", normShape).ValueGraph(g)

	return ApplyLayerNorm(x, gain, offset, epsilon)
}

// ApplyLayerNorm applies layer normalization with explicit parameters.
// The variance is the population variance (mean of squared deviations, no
// sample correction); epsilon keeps the division finite when it vanishes.
func ApplyLayerNorm(x, gain, offset *Node, epsilon float64) *Node {
	mean := ReduceAndKeep(x, ReduceMean, -1)
	normalized := Sub(x, mean)
	variance := ReduceAndKeep(Square(normalized), ReduceMean, -1)
	eps := ConstAs(x, epsilon)
	normalized = Div(normalized, Sqrt(Add(variance, eps)))

	// Reshape gain and offset to broadcast with x.
	xRank := x.Shape().Rank()
	broadcastShape := make([]int, xRank)
	for i := range broadcastShape {
		broadcastShape[i] = 1
	}
	broadcastShape[xRank-1] = gain.Shape().Dimensions[0]

	gain = Reshape(gain, broadcastShape...)
	offset = Reshape(offset, broadcastShape...)

	normalized = Mul(normalized, gain)
	normalized = Add(normalized, offset)

	return normalized
}
