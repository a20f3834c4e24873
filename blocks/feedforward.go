package blocks

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// FeedForward is the position-wise two-layer transform applied after
// attention in every encoder and decoder layer: a biased expansion to
// HiddenDim, ReLU, dropout, then a biased contraction back to the input
// width. Parameters live in the "intermediate" and "output" scopes.
type FeedForward struct {
	HiddenDim   int
	DropoutRate float64
}

// NewFeedForward returns a feed-forward block with the given hidden width.
func NewFeedForward(hiddenDim int, dropoutRate float64) *FeedForward {
	return &FeedForward{HiddenDim: hiddenDim, DropoutRate: dropoutRate}
}

// Apply transforms x ([batch, seq, d_model]) position-wise, preserving its
// shape.
func (f *FeedForward) Apply(ctx *context.Context, x *Node) *Node {
	dModel := x.Shape().Dimensions[x.Shape().Rank()-1]

	hidden := layers.DenseWithBias(ctx.In("intermediate"), x, f.HiddenDim)
	hidden = activations.Relu(hidden)
	hidden = layers.DropoutStatic(ctx.In("dropout"), hidden, f.DropoutRate)
	return layers.DenseWithBias(ctx.In("output"), hidden, dModel)
}
