package blocks

import (
	"fmt"
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// Embedding looks up a learned vector per token id and scales every
// component by sqrt(dModel), matching the variance of the positional
// encoding that is added afterwards. inputIDs must be an integer tensor of
// shape [batch, seq] with values in [0, vocabSize); the gather clamps
// out-of-range ids rather than failing, so callers validate ids host-side.
// The embedding table lives in the "embeddings" variable of the given
// scope.
func Embedding(ctx *context.Context, inputIDs *Node, vocabSize, dModel int) *Node {
	embedded := layers.Embedding(ctx, inputIDs, dtypes.Float32, vocabSize, dModel)

	// Ensure 3D output: [batch, seq, d_model].
	// layers.Embedding may return 2D when seq_len=1.
	if embedded.Shape().Rank() == 2 {
		embedded = InsertAxes(embedded, 1)
	}

	return MulScalar(embedded, math.Sqrt(float64(dModel)))
}

// PositionalEncoding adds a deterministic sinusoidal position signal to
// embedded sequences. The (MaxLen, DModel) table is computed once at
// construction, owned by the component and never recomputed; it is not a
// trainable parameter.
type PositionalEncoding struct {
	DModel      int
	MaxLen      int
	DropoutRate float64

	table []float32
}

// NewPositionalEncoding precomputes the sinusoidal table for sequences of
// up to maxLen positions.
func NewPositionalEncoding(dModel, maxLen int, dropoutRate float64) *PositionalEncoding {
	return &PositionalEncoding{
		DModel:      dModel,
		MaxLen:      maxLen,
		DropoutRate: dropoutRate,
		table:       sinusoidalTable(maxLen, dModel),
	}
}

// sinusoidalTable builds the row-major (maxLen, dModel) position table:
// even feature 2i holds sin(pos / 1000^(2i/d)) and the following odd
// feature holds cos with the same divisor. Note the angle base is 1000,
// not the more common 10000.
func sinusoidalTable(maxLen, dModel int) []float32 {
	table := make([]float32, maxLen*dModel)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dModel; i += 2 {
			angle := float64(pos) / math.Pow(1000.0, float64(i)/float64(dModel))
			table[pos*dModel+i] = float32(math.Sin(angle))
			if i+1 < dModel {
				table[pos*dModel+i+1] = float32(math.Cos(angle))
			}
		}
	}
	return table
}

// Apply adds the first seqLen rows of the table to x ([batch, seq,
// d_model]) and applies dropout. It panics if the sequence is longer than
// the precomputed capacity.
func (p *PositionalEncoding) Apply(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	seqLen := x.Shape().Dimensions[1]
	if seqLen > p.MaxLen {
		panic(fmt.Sprintf("PositionalEncoding: sequence length %d exceeds precomputed capacity %d", seqLen, p.MaxLen))
	}

	positions := Const(g, p.table[:seqLen*p.DModel])
	// Ranks must match for Add; the leading 1 broadcasts over the batch.
	positions = Reshape(positions, 1, seqLen, p.DModel)

	x = Add(x, positions)
	return layers.DropoutStatic(ctx, x, p.DropoutRate)
}
