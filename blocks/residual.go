package blocks

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// Residual applies a pre-norm residual connection:
//
//	output = x + dropout(sublayer(norm(x)))
//
// The input is normalized before the wrapped sublayer and the residual is
// added to the un-normalized input. The sublayer receives the normalized
// tensor explicitly rather than capturing surrounding state. The
// normalization parameters live in the "norm" scope of ctx.
func Residual(ctx *context.Context, x *Node, epsilon, dropoutRate float64, sublayer func(*Node) *Node) *Node {
	normalized := LayerNorm(ctx.In("norm"), x, epsilon)
	output := sublayer(normalized)
	output = layers.DropoutStatic(ctx.In("dropout"), output, dropoutRate)
	return Add(x, output)
}
